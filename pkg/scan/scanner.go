package scan

import (
	"context"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

const (
	defaultConcurrency = 64
	defaultTimeout     = 2 * time.Second
	dnsLookupTimeout   = 2 * time.Second
)

// Target is a single host/port probe.
type Target struct {
	Host string
	Port int
}

type probeResult struct {
	target Target
	open   bool
	err    error
}

// TCPScanner probes targets with plain TCP connect attempts, bounded by
// a worker pool and an optional rate limiter.
type TCPScanner struct {
	timeout     time.Duration
	concurrency int
	limiter     *rate.Limiter
	resolver    *net.Resolver
}

// NewTCPScanner builds a scanner. ratePerSecond <= 0 disables limiting.
func NewTCPScanner(timeout time.Duration, concurrency, ratePerSecond int) *TCPScanner {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	s := &TCPScanner{
		timeout:     timeout,
		concurrency: concurrency,
		resolver:    net.DefaultResolver,
	}

	if ratePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond)
	}

	return s
}

// Scan probes every host/port combination and returns per-host results
// keyed by IP address. Hosts with no reachable ports are reported with
// state down.
func (s *TCPScanner) Scan(ctx context.Context, hosts []string, ports []int) (map[string]models.HostResult, error) {
	if len(hosts) == 0 || len(ports) == 0 {
		return nil, fmt.Errorf("nothing to scan: %d hosts, %d ports", len(hosts), len(ports))
	}

	targets := make(chan Target, s.concurrency)
	results := make(chan probeResult, s.concurrency)

	var wg sync.WaitGroup

	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			s.worker(ctx, targets, results)
		}()
	}

	go func() {
		defer close(targets)

		for _, host := range hosts {
			for _, port := range ports {
				select {
				case targets <- Target{Host: host, Port: port}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	open := make(map[string][]int)

	for r := range results {
		if r.open {
			open[r.target.Host] = append(open[r.target.Host], r.target.Port)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan aborted: %w", err)
	}

	return s.collect(ctx, hosts, open), nil
}

func (s *TCPScanner) worker(ctx context.Context, targets <-chan Target, results chan<- probeResult) {
	dialer := &net.Dialer{Timeout: s.timeout}

	for t := range targets {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
		}

		addr := net.JoinHostPort(t.Host, strconv.Itoa(t.Port))

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
		}

		select {
		case results <- probeResult{target: t, open: err == nil, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *TCPScanner) collect(ctx context.Context, hosts []string, open map[string][]int) map[string]models.HostResult {
	out := make(map[string]models.HostResult, len(hosts))

	for _, host := range hosts {
		ports := open[host]
		sort.Ints(ports)

		hr := models.HostResult{
			State:       models.HostStateDown,
			OpenPorts:   ports,
			PortDetails: make(map[int]models.PortDetail, len(ports)),
		}

		if len(ports) > 0 {
			hr.State = models.HostStateUp
			hr.Hostname = s.lookupHostname(ctx, host)

			for _, p := range ports {
				hr.PortDetails[p] = ServiceForPort(p)
			}
		}

		out[host] = hr
	}

	return out
}

func (s *TCPScanner) lookupHostname(ctx context.Context, addr string) string {
	lookupCtx, cancel := context.WithTimeout(ctx, dnsLookupTimeout)
	defer cancel()

	names, err := s.resolver.LookupAddr(lookupCtx, addr)
	if err != nil || len(names) == 0 {
		log.Printf("No reverse DNS for %s: %v", addr, err)
		return ""
	}

	// LookupAddr returns FQDNs with a trailing dot.
	name := names[0]
	if len(name) > 0 && name[len(name)-1] == '.' {
		name = name[:len(name)-1]
	}

	return name
}
