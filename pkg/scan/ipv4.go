// Package scan provides target resolution and the agent-local TCP
// connect scan capability.
package scan

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var errEmptyTarget = errors.New("empty target specification")

const maxExpandedHosts = 65536

// ExpandCIDR generates every usable host address in a CIDR range. The
// network and broadcast addresses are skipped for ranges below /31.
func ExpandCIDR(network string) ([]string, error) {
	ip, ipnet, err := net.ParseCIDR(network)
	if err != nil {
		return nil, fmt.Errorf("parse CIDR %q: %w", network, err)
	}

	ones, bits := ipnet.Mask.Size()

	// /32 is a single host
	if ones == bits {
		return []string{ip.String()}, nil
	}

	networkSize := 1 << uint(bits-ones)
	if networkSize > maxExpandedHosts {
		return nil, fmt.Errorf("range %q too large (%d addresses)", network, networkSize)
	}

	skipEdges := ones < 31

	ips := make([]string, 0, networkSize)

	current := ip.Mask(ipnet.Mask)
	for ipnet.Contains(current) {
		if !skipEdges || !isFirstOrLastAddress(current, ipnet) {
			ips = append(ips, current.String())
		}

		current = incIP(current)
	}

	return ips, nil
}

// isFirstOrLastAddress reports whether ip is the network or broadcast
// address of the given network.
func isFirstOrLastAddress(ip net.IP, network *net.IPNet) bool {
	ipv4 := ip.To4()
	networkIP := network.IP.To4()

	if ipv4 == nil || networkIP == nil {
		return false
	}

	if ipv4.Equal(networkIP) {
		return true
	}

	broadcast := make(net.IP, len(networkIP))
	for i := range networkIP {
		broadcast[i] = networkIP[i] | ^network.Mask[i]
	}

	return ipv4.Equal(broadcast)
}

// incIP returns the address immediately after ip.
func incIP(ip net.IP) net.IP {
	next := make(net.IP, len(ip))
	copy(next, ip)

	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] > 0 {
			break
		}
	}

	return next
}

// ResolveTargets turns a scan target specification (a CIDR block or a
// comma-separated address list) into individual addresses.
func ResolveTargets(target string) ([]string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errEmptyTarget
	}

	if strings.Contains(target, "/") {
		return ExpandCIDR(target)
	}

	parts := strings.Split(target, ",")
	targets := make([]string, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			targets = append(targets, part)
		}
	}

	if len(targets) == 0 {
		return nil, errEmptyTarget
	}

	return targets, nil
}
