package models

import "time"

// Host reachability states as reported by agents.
const (
	HostStateUp      = "up"
	HostStateDown    = "down"
	HostStateError   = "error"
	HostStateUnknown = "unknown"
)

// PortDetail describes the service identified behind one open port.
type PortDetail struct {
	Protocol  string `json:"protocol"`
	Name      string `json:"name"`
	Product   string `json:"product,omitempty"`
	Version   string `json:"version,omitempty"`
	ExtraInfo string `json:"extrainfo,omitempty"`
}

// HostResult is the merged per-target outcome inside an aggregated
// result: reachability, the sorted set of open ports, and per-port
// service details keyed by port number.
type HostResult struct {
	Hostname    string             `json:"hostname"`
	State       string             `json:"state"`
	OpenPorts   []int              `json:"open_ports"`
	PortDetails map[int]PortDetail `json:"port_details"`
}

// ResultStatus is the overall state of an aggregated result.
type ResultStatus string

const (
	ResultStatusPending   ResultStatus = "pending"
	ResultStatusPartial   ResultStatus = "partial"
	ResultStatusCompleted ResultStatus = "completed"
	ResultStatusFailed    ResultStatus = "failed"
)

// Terminal reports whether the result can no longer change. Partial is
// terminal: it means the task group finished with a mix of completed and
// failed tasks.
func (s ResultStatus) Terminal() bool {
	return s == ResultStatusCompleted || s == ResultStatusPartial || s == ResultStatusFailed
}

// AggregatedResult is the single logical outcome of one execution of a
// ScanConfig, merged from the independent submissions of every
// contributing agent.
type AggregatedResult struct {
	ResultID     string                `json:"result_id"`
	ConfigID     string                `json:"config_id"`
	GroupID      string                `json:"group_id"`
	Status       ResultStatus          `json:"status"`
	FullCoverage bool                  `json:"full_coverage"` // every requested target was handed to a contacted agent
	Hosts        map[string]HostResult `json:"hosts"`         // keyed by target address
	Summary      ResultSummary         `json:"summary"`
	Contributing []string              `json:"contributing_agents"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
}

// ResultSummary holds the running counters of an aggregated result. The
// counters are always recomputed from the merged host map, never
// incremented, so resubmissions cannot double-count.
type ResultSummary struct {
	TotalTargets     int `json:"total_targets"`
	CompletedTargets int `json:"completed_targets"`
	FailedTargets    int `json:"failed_targets"`
	TotalOpenPorts   int `json:"total_open_ports"`
}

// RecomputeSummary derives the summary counters from the host map.
func (r *AggregatedResult) RecomputeSummary() {
	var s ResultSummary

	s.TotalTargets = len(r.Hosts)

	for _, h := range r.Hosts {
		switch h.State {
		case HostStateUp, HostStateDown:
			s.CompletedTargets++
		case HostStateError:
			s.FailedTargets++
		}

		s.TotalOpenPorts += len(h.OpenPorts)
	}

	r.Summary = s
}

// HasContributor reports whether the given agent already appears in the
// contributing set.
func (r *AggregatedResult) HasContributor(agentID string) bool {
	for _, id := range r.Contributing {
		if id == agentID {
			return true
		}
	}

	return false
}
