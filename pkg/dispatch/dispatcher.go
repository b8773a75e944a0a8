// Package dispatch turns a scan config into an execution: one aggregated
// result plus one task per agent, with work orders pushed to each agent's
// task listener.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/db"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/registry"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/scan"
)

// AgentSource is the slice of the registry the dispatcher needs.
type AgentSource interface {
	EligibleAgents(targets []string) ([]models.Agent, error)
	MarkScanning(agentID string) error
}

// Dispatcher plans and launches scan executions.
type Dispatcher struct {
	db        db.Service
	agents    AgentSource
	sender    Sender
	finalizer Finalizer
	now       func() time.Time
}

// New creates a Dispatcher.
func New(database db.Service, agents AgentSource, sender Sender, finalizer Finalizer) *Dispatcher {
	return &Dispatcher{
		db:        database,
		agents:    agents,
		sender:    sender,
		finalizer: finalizer,
		now:       time.Now,
	}
}

// assignment pairs an agent with the targets it will scan.
type assignment struct {
	agent   models.Agent
	targets []string
}

// Execute launches one execution of the config. It resolves the target
// set, partitions it across eligible agents in registration order (first
// matching agent wins each target), persists the result and its tasks
// atomically, then pushes work orders concurrently. Per-agent delivery
// failures fail only that agent's task; if no agent at all accepts its
// order the whole execution is rolled back.
func (d *Dispatcher) Execute(ctx context.Context, cfg *models.ScanConfig) (*models.AggregatedResult, error) {
	targets, err := scan.ResolveTargets(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("resolve targets for %q: %w", cfg.Target, err)
	}

	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	if _, err := scan.ParsePortSpec(cfg.Ports); err != nil {
		return nil, fmt.Errorf("config %s: %w", cfg.ID, err)
	}

	eligible, err := d.agents.EligibleAgents(targets)
	if err != nil {
		return nil, fmt.Errorf("query eligible agents: %w", err)
	}

	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: config %s (%s)", ErrNoEligibleAgents, cfg.ID, cfg.Target)
	}

	assignments, covered := partition(eligible, targets)

	result, tasks := d.buildExecution(cfg, assignments, covered == len(targets))

	if err := d.db.CreateExecution(result, tasks); err != nil {
		return nil, fmt.Errorf("persist execution: %w", err)
	}

	log.Printf("Execution %s: %d targets across %d agents (full coverage: %v)",
		result.ResultID, len(targets), len(assignments), result.FullCoverage)

	contacted := d.push(ctx, cfg.ScanArguments, tasks, assignments)

	if contacted == 0 {
		log.Printf("Execution %s: no agent accepted work, rolling back", result.ResultID)

		if err := d.db.DeleteExecution(result.ResultID); err != nil {
			log.Printf("Error rolling back execution %s: %v", result.ResultID, err)
		}

		return nil, fmt.Errorf("%w: config %s", ErrDispatchFailed, cfg.ID)
	}

	// An agent may have submitted its final result while a sibling's
	// push was still in flight; with every order's fate now known,
	// re-derive the status so push failures can finalize the result.
	if d.finalizer != nil {
		fresh, err := d.finalizer.Reconcile(result.ResultID)
		if err != nil {
			log.Printf("Error reconciling result %s: %v", result.ResultID, err)
		} else {
			result = fresh
		}
	}

	return result, nil
}

// partition splits targets across agents greedily: agents are visited in
// the given (registration) order and each claims the still unassigned
// targets its owned range covers. Returns the assignments and the count
// of targets that found an owner.
func partition(agents []models.Agent, targets []string) ([]assignment, int) {
	assigned := make(map[string]bool, len(targets))

	var (
		out     []assignment
		covered int
	)

	for _, agent := range agents {
		ipnet, ok := registry.ParseRange(agent.OwnedRange)
		if !ok {
			continue
		}

		var mine []string

		for _, t := range targets {
			if assigned[t] {
				continue
			}

			if ip := net.ParseIP(t); ip != nil && ipnet.Contains(ip) {
				assigned[t] = true

				mine = append(mine, t)
			}
		}

		if len(mine) > 0 {
			covered += len(mine)

			out = append(out, assignment{agent: agent, targets: mine})
		}
	}

	return out, covered
}

func (d *Dispatcher) buildExecution(cfg *models.ScanConfig, assignments []assignment, fullCoverage bool) (*models.AggregatedResult, []models.Task) {
	now := d.now()
	groupID := uuid.NewString()

	result := &models.AggregatedResult{
		ResultID:     uuid.NewString(),
		ConfigID:     cfg.ID,
		GroupID:      groupID,
		Status:       models.ResultStatusPending,
		FullCoverage: fullCoverage,
		Hosts:        make(map[string]models.HostResult),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tasks := make([]models.Task, 0, len(assignments))

	for _, a := range assignments {
		tasks = append(tasks, models.Task{
			TaskID:    uuid.NewString(),
			GroupID:   groupID,
			ConfigID:  cfg.ID,
			ResultID:  result.ResultID,
			AgentID:   a.agent.AgentID,
			Targets:   a.targets,
			Ports:     cfg.Ports,
			Status:    models.TaskStatusPending,
			CreatedAt: now,
		})
	}

	return result, tasks
}

// push delivers work orders concurrently and returns how many agents
// accepted one.
func (d *Dispatcher) push(ctx context.Context, scanArgs string, tasks []models.Task, assignments []assignment) int {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		contacted int
	)

	for i := range tasks {
		task := tasks[i]
		agent := assignments[i].agent

		wg.Add(1)

		go func() {
			defer wg.Done()

			order := &models.WorkOrder{
				ScanID:        task.ConfigID,
				TaskID:        task.TaskID,
				ResultID:      task.ResultID,
				Targets:       task.Targets,
				Ports:         task.Ports,
				ScanArguments: scanArgs,
			}

			// Assigned before the push, not after: a fast agent can
			// complete the task before Send returns, and a late write
			// here would regress that terminal status.
			if err := d.db.UpdateTaskStatus(task.TaskID, models.TaskStatusAssigned, d.now()); err != nil {
				log.Printf("Error marking task %s assigned: %v", task.TaskID, err)
			}

			if err := d.sender.Send(ctx, &agent, order); err != nil {
				log.Printf("Work order for task %s to agent %s failed: %v", task.TaskID, agent.AgentID, err)

				if dbErr := d.db.UpdateTaskStatus(task.TaskID, models.TaskStatusFailed, d.now()); dbErr != nil {
					log.Printf("Error failing task %s: %v", task.TaskID, dbErr)
				}

				return
			}

			if err := d.agents.MarkScanning(agent.AgentID); err != nil {
				log.Printf("Error marking agent %s scanning: %v", agent.AgentID, err)
			}

			mu.Lock()
			contacted++
			mu.Unlock()
		}()
	}

	wg.Wait()

	return contacted
}
