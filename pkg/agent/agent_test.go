package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/scan"
)

func TestChunkTargets(t *testing.T) {
	targets := []string{"a", "b", "c", "d", "e"}

	tests := []struct {
		name string
		size int
		want [][]string
	}{
		{
			name: "even split with remainder",
			size: 2,
			want: [][]string{{"a", "b"}, {"c", "d"}, {"e"}},
		},
		{
			name: "size larger than input",
			size: 10,
			want: [][]string{{"a", "b", "c", "d", "e"}},
		},
		{
			name: "size one",
			size: 1,
			want: [][]string{{"a"}, {"b"}, {"c"}, {"d"}, {"e"}},
		},
		{
			name: "non-positive size keeps one chunk",
			size: 0,
			want: [][]string{{"a", "b", "c", "d", "e"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunkTargets(targets, tt.size))
		})
	}
}

func TestClient_Heartbeat(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		approved   bool
		wantErr    error
	}{
		{"approved", http.StatusOK, true, nil},
		{"pending", http.StatusForbidden, false, ErrNotApproved},
		{"server error", http.StatusInternalServerError, false, errServerRefused},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/agents/agent-1/heartbeat", r.URL.Path)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.statusCode)
				_ = json.NewEncoder(w).Encode(models.HeartbeatResponse{Approved: tt.approved})
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "agent-1")

			resp, err := client.Heartbeat(context.Background(), &models.HeartbeatRequest{AgentID: "agent-1"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.True(t, resp.Approved)
		})
	}
}

func TestClient_SubmitResult(t *testing.T) {
	var got models.ResultSubmission

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/agents/agent-1/results", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "agent-1")

	err := client.SubmitResult(context.Background(), &models.ResultSubmission{
		ResultID: "res-1",
		TaskID:   "task-1",
		AgentID:  "agent-1",
		Status:   models.SubmissionCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, "task-1", got.TaskID)
	assert.Equal(t, models.SubmissionCompleted, got.Status)
}

func TestClient_SubmitResultRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "agent-1")

	err := client.SubmitResult(context.Background(), &models.ResultSubmission{ResultID: "res-1", TaskID: "task-1"})
	assert.ErrorIs(t, err, errServerRefused)
}

// submissionRecorder plays the orchestrator's results endpoint and
// remembers everything an agent uploads.
type submissionRecorder struct {
	mu   sync.Mutex
	subs []models.ResultSubmission
}

func (r *submissionRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var sub models.ResultSubmission
		if err := json.NewDecoder(req.Body).Decode(&sub); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		r.mu.Lock()
		r.subs = append(r.subs, sub)
		r.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
	})
}

func (r *submissionRecorder) all() []models.ResultSubmission {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]models.ResultSubmission(nil), r.subs...)
}

func newTestService(orchestratorURL string) *Service {
	return &Service{
		agentID: "agent-test",
		client:  NewClient(orchestratorURL, "agent-test"),
		scanner: scan.NewTCPScanner(200*time.Millisecond, 8, 0),
	}
}

func TestHandleTask_RejectsIncompleteOrder(t *testing.T) {
	s := newTestService("http://127.0.0.1:1")

	tests := []struct {
		name  string
		order models.WorkOrder
	}{
		{"missing task id", models.WorkOrder{ResultID: "res-1", Targets: []string{"127.0.0.1"}}},
		{"missing result id", models.WorkOrder{TaskID: "task-1", Targets: []string{"127.0.0.1"}}},
		{"no targets", models.WorkOrder{TaskID: "task-1", ResultID: "res-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := json.Marshal(tt.order)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(body))
			w := httptest.NewRecorder()

			s.handleTask(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleTask_RunsScanAndSubmitsFinalResult(t *testing.T) {
	recorder := &submissionRecorder{}
	orch := httptest.NewServer(recorder.handler())
	defer orch.Close()

	s := newTestService(orch.URL)

	// Port 1 on loopback is almost certainly closed, so the target comes
	// back down but the scan itself succeeds.
	order := models.WorkOrder{
		TaskID:   "task-1",
		ResultID: "res-1",
		Targets:  []string{"127.0.0.1"},
		Ports:    "1",
	}

	body, err := json.Marshal(order)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleTask(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	s.tasks.Wait()

	subs := recorder.all()
	require.Len(t, subs, 1)

	final := subs[0]
	assert.Equal(t, "task-1", final.TaskID)
	assert.Equal(t, "res-1", final.ResultID)
	assert.Equal(t, "agent-test", final.AgentID)
	assert.Equal(t, models.SubmissionCompleted, final.Status)
	assert.Equal(t, 1, final.SummaryStats.TotalTargets)
	require.Contains(t, final.ParsedResults, "127.0.0.1")
	assert.Equal(t, models.HostStateDown, final.ParsedResults["127.0.0.1"].State)
}

func TestHandleTask_InvalidPortsSubmitsFailure(t *testing.T) {
	recorder := &submissionRecorder{}
	orch := httptest.NewServer(recorder.handler())
	defer orch.Close()

	s := newTestService(orch.URL)

	order := models.WorkOrder{
		TaskID:   "task-1",
		ResultID: "res-1",
		Targets:  []string{"127.0.0.1", "127.0.0.2"},
		Ports:    "not-ports",
	}

	body, err := json.Marshal(order)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleTask(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	s.tasks.Wait()

	subs := recorder.all()
	require.Len(t, subs, 1)
	assert.Equal(t, models.SubmissionFailed, subs[0].Status)
	assert.Equal(t, 2, subs[0].SummaryStats.ErrorTargets)

	for _, hr := range subs[0].ParsedResults {
		assert.Equal(t, models.HostStateError, hr.State)
	}
}
