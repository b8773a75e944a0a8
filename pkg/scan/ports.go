package scan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

var errEmptyPortSpec = errors.New("empty port specification")

const maxPort = 65535

// ParsePortSpec expands a port specification like "22,80,443" or
// "1-1024" (or a mix, "22,8000-8100") into a sorted list of ports.
func ParsePortSpec(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errEmptyPortSpec
	}

	seen := make(map[int]struct{})

	var ports []int

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, err := parsePortRange(part)
		if err != nil {
			return nil, err
		}

		for p := lo; p <= hi; p++ {
			if _, ok := seen[p]; ok {
				continue
			}

			seen[p] = struct{}{}
			ports = append(ports, p)
		}
	}

	if len(ports) == 0 {
		return nil, errEmptyPortSpec
	}

	return ports, nil
}

func parsePortRange(part string) (lo, hi int, err error) {
	if idx := strings.Index(part, "-"); idx >= 0 {
		lo, err = parsePort(part[:idx])
		if err != nil {
			return 0, 0, err
		}

		hi, err = parsePort(part[idx+1:])
		if err != nil {
			return 0, 0, err
		}

		if hi < lo {
			return 0, 0, fmt.Errorf("invalid port range %q", part)
		}

		return lo, hi, nil
	}

	lo, err = parsePort(part)

	return lo, lo, err
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p < 1 || p > maxPort {
		return 0, fmt.Errorf("invalid port %q", s)
	}

	return p, nil
}

// wellKnownServices maps ports to the service the agent reports when it
// cannot identify one itself. Deliberately small; unknown ports get an
// empty name.
var wellKnownServices = map[int]models.PortDetail{
	21:   {Protocol: "tcp", Name: "ftp"},
	22:   {Protocol: "tcp", Name: "ssh"},
	23:   {Protocol: "tcp", Name: "telnet"},
	25:   {Protocol: "tcp", Name: "smtp"},
	53:   {Protocol: "tcp", Name: "domain"},
	80:   {Protocol: "tcp", Name: "http"},
	110:  {Protocol: "tcp", Name: "pop3"},
	143:  {Protocol: "tcp", Name: "imap"},
	443:  {Protocol: "tcp", Name: "https"},
	445:  {Protocol: "tcp", Name: "microsoft-ds"},
	3306: {Protocol: "tcp", Name: "mysql"},
	3389: {Protocol: "tcp", Name: "ms-wbt-server"},
	5432: {Protocol: "tcp", Name: "postgresql"},
	6379: {Protocol: "tcp", Name: "redis"},
	8080: {Protocol: "tcp", Name: "http-proxy"},
	8443: {Protocol: "tcp", Name: "https-alt"},
}

// ServiceForPort returns the default service detail for a port.
func ServiceForPort(port int) models.PortDetail {
	if detail, ok := wellKnownServices[port]; ok {
		return detail
	}

	return models.PortDetail{Protocol: "tcp"}
}
