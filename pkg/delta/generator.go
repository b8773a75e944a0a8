package delta

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/db"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

// ErrNoBaseline means the config has no earlier terminal result to
// compare against; the first execution of a config produces no report.
var ErrNoBaseline = errors.New("no baseline result for comparison")

// Generator produces one immutable delta report per finalized result.
type Generator struct {
	db  db.Service
	now func() time.Time
}

// NewGenerator creates a Generator.
func NewGenerator(database db.Service) *Generator {
	return &Generator{
		db:  database,
		now: time.Now,
	}
}

// Generate compares the finalized result against the most recent earlier
// terminal result of the same config and persists the report. The unique
// constraint on the current result id makes regeneration impossible.
func (g *Generator) Generate(result *models.AggregatedResult) (*models.DeltaReport, error) {
	if !result.Status.Terminal() {
		return nil, fmt.Errorf("result %s is not terminal (%s)", result.ResultID, result.Status)
	}

	baseline, err := g.db.LatestTerminalResult(result.ConfigID, result.ResultID, result.CreatedAt)
	if err != nil {
		if errors.Is(err, db.ErrResultNotFound) {
			log.Printf("Result %s: first terminal result for config %s, no delta report",
				result.ResultID, result.ConfigID)

			return nil, ErrNoBaseline
		}

		return nil, fmt.Errorf("find baseline for %s: %w", result.ResultID, err)
	}

	payload := Compare(baseline, result)

	report := &models.DeltaReport{
		ReportID:          uuid.NewString(),
		ConfigID:          result.ConfigID,
		BaselineResultID:  baseline.ResultID,
		CurrentResultID:   result.ResultID,
		NewHostsCount:     len(payload.NewHosts),
		RemovedHostsCount: len(payload.RemovedHosts),
		NewPortsCount:     len(payload.NewPorts),
		ClosedPortsCount:  len(payload.ClosedPorts),
		ChangedServices:   len(payload.ChangedServices),
		Payload:           payload,
		CreatedAt:         g.now(),
	}

	if err := g.db.CreateDeltaReport(report); err != nil {
		return nil, fmt.Errorf("persist delta report for %s: %w", result.ResultID, err)
	}

	if report.HasChanges() {
		log.Printf("Delta report %s: %d new ports, %d closed ports, %d changed services, %d new hosts, %d removed hosts",
			report.ReportID, report.NewPortsCount, report.ClosedPortsCount,
			report.ChangedServices, report.NewHostsCount, report.RemovedHostsCount)
	}

	return report, nil
}
