package dispatch

import (
	"context"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/models"
)

//go:generate mockgen -destination=mock_dispatch.go -package=dispatch github.com/TeamFixIT/portscan-delta-reporter/pkg/dispatch Sender

// Sender delivers a work order to an agent's task listener. Delivery is
// fire-and-forget: a nil error means the agent acknowledged the order,
// the scan itself completes asynchronously.
type Sender interface {
	Send(ctx context.Context, agent *models.Agent, order *models.WorkOrder) error
}

// Finalizer re-derives a result's status once the fate of every work
// order is known. An agent fast enough to submit its final result while
// a sibling's push is still in flight sees that sibling as pending; when
// the sibling's push then fails, only a post-push re-derivation can
// finalize the result.
type Finalizer interface {
	Reconcile(resultID string) (*models.AggregatedResult, error)
}
