// Package repo provides the offline-safe write paths for each entity kind:
// an optimistic local write plus an atomically enqueued remote operation,
// with an opportunistic delivery attempt when the network is reachable.
package repo

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/tsengko/pulsefeed-sync/internal/connectivity"
	"github.com/tsengko/pulsefeed-sync/internal/db"
	apperrors "github.com/tsengko/pulsefeed-sync/internal/errors"
	"github.com/tsengko/pulsefeed-sync/internal/logging"
	"github.com/tsengko/pulsefeed-sync/internal/models"
	syncpkg "github.com/tsengko/pulsefeed-sync/internal/sync"
	"github.com/tsengko/pulsefeed-sync/internal/sync/queue"
)

// Syncer triggers a delivery pass. Satisfied by *sync.Engine.
type Syncer interface {
	Drain(ctx context.Context) (*syncpkg.DrainResult, error)
}

// base carries the collaborators shared by all entity repositories.
type base struct {
	store  *db.Store
	queue  *queue.Manager
	oracle connectivity.Oracle
	syncer Syncer
}

// enqueue serializes a payload into a pending queue item for an entity.
func (b *base) enqueue(action models.Action, referenceID string, payload models.Payload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPayloadInvalid, "failed to serialize payload", err)
	}
	item := &models.SyncQueueItem{
		Action:           action,
		Payload:          raw,
		LocalReferenceID: referenceID,
	}
	return b.queue.Enqueue(item)
}

// newQueueItem builds the queue row inserted inside a create transaction.
func newQueueItem(action models.Action, referenceID string, payload models.Payload, timestamp int64) (*models.SyncQueueItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPayloadInvalid, "failed to serialize payload", err)
	}
	item := &models.SyncQueueItem{
		Action:           action,
		Payload:          raw,
		LocalReferenceID: referenceID,
		Timestamp:        timestamp,
	}
	queue.Prepare(item)
	return item, nil
}

// tryImmediate attempts a synchronous delivery pass when the oracle reports
// the network reachable. Delivery failure never fails the caller's write;
// the queue row survives for the next drain.
func (b *base) tryImmediate(ctx context.Context) {
	if b.oracle == nil || !b.oracle.IsOnline() || b.syncer == nil {
		return
	}
	if _, err := b.syncer.Drain(ctx); err != nil && !stderrors.Is(err, syncpkg.ErrDrainInProgress) {
		logging.Debug("Immediate delivery attempt failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
