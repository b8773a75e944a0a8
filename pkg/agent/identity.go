package agent

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// DeriveIdentity builds a stable agent id from the first physical
// interface's MAC address, so the id survives restarts and re-registers
// as the same agent. Hostname comes from the OS.
func DeriveIdentity() (agentID, hostname string, err error) {
	hostname, err = os.Hostname()
	if err != nil {
		return "", "", fmt.Errorf("read hostname: %w", err)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", "", fmt.Errorf("list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}

		mac := strings.ReplaceAll(iface.HardwareAddr.String(), ":", "")

		return "agent-" + mac, hostname, nil
	}

	return "", "", ErrNoInterface
}

// LocalAddress returns the address the agent is reachable on from the
// orchestrator's side, discovered by dialing out.
func LocalAddress(serverURL string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(serverURL, "https://"), "http://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}

	if !strings.Contains(host, ":") {
		host += ":80"
	}

	conn, err := net.Dial("udp", host)
	if err != nil {
		return ""
	}
	defer func() { _ = conn.Close() }()

	localAddr, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return ""
	}

	return localAddr
}
