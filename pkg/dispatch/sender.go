package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/grpc"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

const defaultSendTimeout = 10 * time.Second

// HTTPSender posts work orders to the agent's /tasks endpoint.
type HTTPSender struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPSender builds a sender; timeout bounds each delivery attempt.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}

	return &HTTPSender{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Send delivers one work order. Agents advertising a gRPC health port
// are probed first so an unreachable agent fails fast; any non-2xx
// response to the order itself is an error.
func (s *HTTPSender) Send(ctx context.Context, agent *models.Agent, order *models.WorkOrder) error {
	if err := s.preflight(ctx, agent); err != nil {
		return err
	}

	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal work order: %w", err)
	}

	url := fmt.Sprintf("http://%s/tasks", agent.Endpoint())

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver work order to %s: %w", agent.AgentID, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("agent %s rejected work order: status %d", agent.AgentID, resp.StatusCode)
	}

	return nil
}

// preflight checks the agent's gRPC health service before the order is
// pushed. Agents that do not advertise a health port are sent the order
// directly.
func (s *HTTPSender) preflight(ctx context.Context, agent *models.Agent) error {
	addr := agent.HealthEndpoint()
	if addr == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client, err := grpc.NewClient(ctx, &grpc.ConnectionConfig{Address: addr})
	if err != nil {
		return fmt.Errorf("agent %s health probe: %w", agent.AgentID, err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("Error closing health probe connection to %s: %v", addr, err)
		}
	}()

	healthy, err := client.CheckHealth(ctx, "")
	if err != nil {
		return fmt.Errorf("agent %s health probe: %w", agent.AgentID, err)
	}

	if !healthy {
		return fmt.Errorf("agent %s health probe: not serving", agent.AgentID)
	}

	return nil
}
