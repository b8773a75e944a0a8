// Package delta computes and persists the structured difference between
// two successive aggregated results of the same scan config.
package delta

import (
	"sort"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

// Compare diffs two aggregated results. Only hosts in the up state count
// as present; a host that flips to down or error is treated as removed.
// The ports of a newly appeared host are folded into NewPorts, and the
// ports of a vanished host into ClosedPorts. Output ordering is
// deterministic: hosts sort lexically, ports numerically.
func Compare(baseline, current *models.AggregatedResult) models.DeltaPayload {
	before := upHosts(baseline)
	after := upHosts(current)

	var payload models.DeltaPayload

	for _, host := range sortedKeys(after) {
		cur := after[host]

		prev, existed := before[host]
		if !existed {
			payload.NewHosts = append(payload.NewHosts, host)
			payload.NewPorts = append(payload.NewPorts, portChanges(host, cur, cur.OpenPorts)...)

			continue
		}

		added, removed, common := diffPorts(prev.OpenPorts, cur.OpenPorts)

		payload.NewPorts = append(payload.NewPorts, portChanges(host, cur, added)...)
		payload.ClosedPorts = append(payload.ClosedPorts, portChanges(host, prev, removed)...)

		for _, port := range common {
			b := prev.PortDetails[port]
			a := cur.PortDetails[port]

			if serviceChanged(b, a) {
				payload.ChangedServices = append(payload.ChangedServices, models.ServiceChange{
					Host:   host,
					Port:   port,
					Before: b,
					After:  a,
				})
			}
		}
	}

	for _, host := range sortedKeys(before) {
		if _, still := after[host]; still {
			continue
		}

		prev := before[host]

		payload.RemovedHosts = append(payload.RemovedHosts, host)
		payload.ClosedPorts = append(payload.ClosedPorts, portChanges(host, prev, prev.OpenPorts)...)
	}

	return payload
}

func upHosts(result *models.AggregatedResult) map[string]models.HostResult {
	out := make(map[string]models.HostResult, len(result.Hosts))

	for target, h := range result.Hosts {
		if h.State == models.HostStateUp {
			out[target] = h
		}
	}

	return out
}

func sortedKeys(m map[string]models.HostResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// diffPorts assumes both slices are sorted, which the aggregator
// guarantees for merged results.
func diffPorts(before, after []int) (added, removed, common []int) {
	inBefore := make(map[int]struct{}, len(before))
	for _, p := range before {
		inBefore[p] = struct{}{}
	}

	inAfter := make(map[int]struct{}, len(after))
	for _, p := range after {
		inAfter[p] = struct{}{}
	}

	for _, p := range after {
		if _, ok := inBefore[p]; ok {
			common = append(common, p)
		} else {
			added = append(added, p)
		}
	}

	for _, p := range before {
		if _, ok := inAfter[p]; !ok {
			removed = append(removed, p)
		}
	}

	return added, removed, common
}

func portChanges(host string, h models.HostResult, ports []int) []models.PortChange {
	out := make([]models.PortChange, 0, len(ports))

	for _, port := range ports {
		detail := h.PortDetails[port]

		out = append(out, models.PortChange{
			Host:     host,
			Port:     port,
			Protocol: detail.Protocol,
			Service:  detail.Name,
			Product:  detail.Product,
			Version:  detail.Version,
		})
	}

	return out
}

func serviceChanged(before, after models.PortDetail) bool {
	return before.Name != after.Name ||
		before.Product != after.Product ||
		before.Version != after.Version ||
		before.ExtraInfo != after.ExtraInfo
}
