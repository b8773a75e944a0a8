package models

import "time"

// PortChange is one added or removed open port on a host, annotated with
// the service detail from the side of the comparison that introduced the
// difference.
type PortChange struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol,omitempty"`
	Service  string `json:"service,omitempty"`
	Product  string `json:"product,omitempty"`
	Version  string `json:"version,omitempty"`
}

// ServiceChange records a port that is open on both sides of a comparison
// but whose identified service fields differ.
type ServiceChange struct {
	Host   string     `json:"host"`
	Port   int        `json:"port"`
	Before PortDetail `json:"before"`
	After  PortDetail `json:"after"`
}

// DeltaPayload is the full structured difference between a baseline and a
// current aggregated result. Ports belonging to newly appeared or
// vanished hosts are folded into NewPorts/ClosedPorts rather than being
// reported separately.
type DeltaPayload struct {
	NewHosts        []string        `json:"new_hosts"`
	RemovedHosts    []string        `json:"removed_hosts"`
	NewPorts        []PortChange    `json:"new_ports"`
	ClosedPorts     []PortChange    `json:"closed_ports"`
	ChangedServices []ServiceChange `json:"changed_services"`
}

// Empty reports whether the comparison found no differences at all.
func (p *DeltaPayload) Empty() bool {
	return len(p.NewHosts) == 0 && len(p.RemovedHosts) == 0 &&
		len(p.NewPorts) == 0 && len(p.ClosedPorts) == 0 && len(p.ChangedServices) == 0
}

// DeltaReport is the persisted, immutable comparison artifact between two
// successive aggregated results of the same ScanConfig.
type DeltaReport struct {
	ReportID          string       `json:"report_id"`
	ConfigID          string       `json:"config_id"`
	BaselineResultID  string       `json:"baseline_result_id"`
	CurrentResultID   string       `json:"current_result_id"`
	NewHostsCount     int          `json:"new_hosts_count"`
	RemovedHostsCount int          `json:"removed_hosts_count"`
	NewPortsCount     int          `json:"new_ports_count"`
	ClosedPortsCount  int          `json:"closed_ports_count"`
	ChangedServices   int          `json:"changed_services_count"`
	Payload           DeltaPayload `json:"payload"`
	CreatedAt         time.Time    `json:"created_at"`
}

// HasChanges reports whether the report recorded any difference.
func (r *DeltaReport) HasChanges() bool {
	return r.NewHostsCount > 0 || r.RemovedHostsCount > 0 ||
		r.NewPortsCount > 0 || r.ClosedPortsCount > 0 || r.ChangedServices > 0
}
