package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

const clientTimeout = 30 * time.Second

// Client talks to the orchestrator's agent-facing HTTP endpoints.
type Client struct {
	baseURL string
	agentID string
	http    *http.Client
}

// NewClient creates an orchestrator client for this agent.
func NewClient(serverURL, agentID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		agentID: agentID,
		http:    &http.Client{Timeout: clientTimeout},
	}
}

// Heartbeat reports liveness. ErrNotApproved is returned while the
// orchestrator has the agent in the pending state.
func (c *Client) Heartbeat(ctx context.Context, hb *models.HeartbeatRequest) (*models.HeartbeatResponse, error) {
	url := fmt.Sprintf("%s/api/agents/%s/heartbeat", c.baseURL, c.agentID)

	var resp models.HeartbeatResponse

	status, err := c.postJSON(ctx, url, hb, &resp)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusForbidden:
		return &resp, ErrNotApproved
	case status != http.StatusOK:
		return nil, fmt.Errorf("%w: heartbeat status %d", errServerRefused, status)
	}

	return &resp, nil
}

// SubmitResult uploads one (partial or final) result submission.
func (c *Client) SubmitResult(ctx context.Context, sub *models.ResultSubmission) error {
	url := fmt.Sprintf("%s/api/agents/%s/results", c.baseURL, c.agentID)

	status, err := c.postJSON(ctx, url, sub, nil)
	if err != nil {
		return err
	}

	if status != http.StatusOK {
		return fmt.Errorf("%w: result submission status %d", errServerRefused, status)
	}

	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, payload, out interface{}) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post %s: %w", url, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && resp.StatusCode < http.StatusInternalServerError {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}

	return resp.StatusCode, nil
}
