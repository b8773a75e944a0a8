// Package aggregator merges the asynchronous submissions of independent
// agents into one aggregated result per execution, and derives the
// result's overall status from its tasks.
package aggregator

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/db"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

// AgentStatus is the slice of the registry the aggregator needs: freeing
// an agent once its task is done.
type AgentStatus interface {
	MarkIdle(agentID string) error
}

// Aggregator applies agent submissions to aggregated results. Submissions
// for the same result are serialized by a per-result lock; submissions for
// different results proceed concurrently.
type Aggregator struct {
	db     db.Service
	agents AgentStatus
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*resultLock

	// onFinalized runs exactly once per result, on the submission that
	// moves it to a terminal status. Called while the result lock is held.
	onFinalized func(*models.AggregatedResult)
}

type resultLock struct {
	sync.Mutex
	refs int
}

// New creates an Aggregator. onFinalized may be nil.
func New(database db.Service, agents AgentStatus, onFinalized func(*models.AggregatedResult)) *Aggregator {
	return &Aggregator{
		db:          database,
		agents:      agents,
		now:         time.Now,
		locks:       make(map[string]*resultLock),
		onFinalized: onFinalized,
	}
}

func (a *Aggregator) lock(resultID string) *resultLock {
	a.mu.Lock()

	l, ok := a.locks[resultID]
	if !ok {
		l = &resultLock{}
		a.locks[resultID] = l
	}

	l.refs++

	a.mu.Unlock()
	l.Lock()

	return l
}

func (a *Aggregator) unlock(resultID string, l *resultLock) {
	l.Unlock()

	a.mu.Lock()

	l.refs--
	if l.refs == 0 {
		delete(a.locks, resultID)
	}

	a.mu.Unlock()
}

// Submit merges one agent submission into its aggregated result. Partial
// (in_progress) submissions update the host map without touching task
// state; terminal submissions also finish the task and, once every
// sibling task is terminal, finalize the result.
func (a *Aggregator) Submit(sub *models.ResultSubmission) (*models.AggregatedResult, error) {
	l := a.lock(sub.ResultID)
	defer a.unlock(sub.ResultID, l)

	result, err := a.db.GetResult(sub.ResultID)
	if err != nil {
		if errors.Is(err, db.ErrResultNotFound) {
			return nil, ErrResultNotFound
		}

		return nil, fmt.Errorf("load result %s: %w", sub.ResultID, err)
	}

	if result.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrResultFinalized, result.ResultID, result.Status)
	}

	task, err := a.db.GetTask(sub.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", sub.TaskID, err)
	}

	if task.ResultID != result.ResultID || task.AgentID != sub.AgentID {
		return nil, fmt.Errorf("%w: task %s, result %s, agent %s",
			ErrTaskMismatch, sub.TaskID, sub.ResultID, sub.AgentID)
	}

	mergeHosts(result.Hosts, sub.ParsedResults)

	if !result.HasContributor(sub.AgentID) {
		result.Contributing = append(result.Contributing, sub.AgentID)
	}

	result.RecomputeSummary()
	result.UpdatedAt = a.now()

	if taskStatus, terminal := taskStatusFor(sub.Status); terminal {
		if err := a.db.UpdateTaskStatus(task.TaskID, taskStatus, a.now()); err != nil {
			return nil, fmt.Errorf("finish task %s: %w", task.TaskID, err)
		}

		if err := a.agents.MarkIdle(sub.AgentID); err != nil {
			log.Printf("Error returning agent %s to idle: %v", sub.AgentID, err)
		}

		if err := a.deriveStatus(result); err != nil {
			return nil, err
		}
	}

	if err := a.db.UpdateResult(result); err != nil {
		return nil, fmt.Errorf("persist result %s: %w", result.ResultID, err)
	}

	if result.Status.Terminal() && a.onFinalized != nil {
		a.onFinalized(result)
	}

	return result, nil
}

// Reconcile re-derives the result's status from its tasks and finalizes
// it if every task turns out to be terminal. The dispatcher calls it once
// the fate of every work order is known: a submission racing with a
// sibling's failing push sees that sibling as still pending, and no later
// submission will arrive to finish the result. Terminal results are
// returned unchanged.
func (a *Aggregator) Reconcile(resultID string) (*models.AggregatedResult, error) {
	l := a.lock(resultID)
	defer a.unlock(resultID, l)

	result, err := a.db.GetResult(resultID)
	if err != nil {
		if errors.Is(err, db.ErrResultNotFound) {
			return nil, ErrResultNotFound
		}

		return nil, fmt.Errorf("load result %s: %w", resultID, err)
	}

	if result.Status.Terminal() {
		return result, nil
	}

	if err := a.deriveStatus(result); err != nil {
		return nil, err
	}

	if !result.Status.Terminal() {
		return result, nil
	}

	result.UpdatedAt = a.now()

	if err := a.db.UpdateResult(result); err != nil {
		return nil, fmt.Errorf("persist result %s: %w", result.ResultID, err)
	}

	if a.onFinalized != nil {
		a.onFinalized(result)
	}

	return result, nil
}

func taskStatusFor(s models.SubmissionStatus) (models.TaskStatus, bool) {
	switch s {
	case models.SubmissionCompleted:
		return models.TaskStatusCompleted, true
	case models.SubmissionFailed:
		return models.TaskStatusFailed, true
	default:
		return "", false
	}
}

// deriveStatus recomputes the overall status from the sibling tasks. The
// result stays pending until every task is terminal; then it is completed
// if all tasks completed, failed if all failed, and partial otherwise.
func (a *Aggregator) deriveStatus(result *models.AggregatedResult) error {
	tasks, err := a.db.ListTasksByGroup(result.GroupID)
	if err != nil {
		return fmt.Errorf("list tasks for group %s: %w", result.GroupID, err)
	}

	completed, failed := 0, 0

	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			failed++
		default:
			return nil // a sibling is still running
		}
	}

	switch {
	case failed == 0:
		result.Status = models.ResultStatusCompleted
	case completed == 0:
		result.Status = models.ResultStatusFailed
	default:
		result.Status = models.ResultStatusPartial
	}

	now := a.now()
	result.CompletedAt = &now

	log.Printf("Result %s finalized: %s (%d completed, %d failed tasks)",
		result.ResultID, result.Status, completed, failed)

	return nil
}

// mergeHosts folds an agent's per-target results into the aggregate.
// Hostname and state overwrite, open ports union, port details merge by
// port number with the newer submission winning each key. Merging the
// same submission twice is a no-op.
func mergeHosts(dst, src map[string]models.HostResult) {
	for target, incoming := range src {
		existing, ok := dst[target]
		if !ok {
			dst[target] = normalizeHost(incoming)
			continue
		}

		existing.State = incoming.State
		if incoming.Hostname != "" {
			existing.Hostname = incoming.Hostname
		}

		existing.OpenPorts = unionPorts(existing.OpenPorts, incoming.OpenPorts)

		if existing.PortDetails == nil {
			existing.PortDetails = make(map[int]models.PortDetail, len(incoming.PortDetails))
		}

		for port, detail := range incoming.PortDetails {
			existing.PortDetails[port] = detail
		}

		dst[target] = existing
	}
}

func normalizeHost(h models.HostResult) models.HostResult {
	ports := append([]int(nil), h.OpenPorts...)
	sort.Ints(ports)
	h.OpenPorts = ports

	if h.PortDetails == nil {
		h.PortDetails = make(map[int]models.PortDetail)
	}

	return h
}

func unionPorts(a, b []int) []int {
	seen := make(map[int]struct{}, len(a)+len(b))

	for _, p := range a {
		seen[p] = struct{}{}
	}

	for _, p := range b {
		seen[p] = struct{}{}
	}

	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}

	sort.Ints(out)

	return out
}
