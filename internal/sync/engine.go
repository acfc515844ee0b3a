// Package sync implements the delivery engine: the drain loop that moves
// queue items to the remote API and reconciles local identifiers with the
// canonical ids the server assigns.
package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tsengko/pulsefeed-sync/internal/db"
	apperrors "github.com/tsengko/pulsefeed-sync/internal/errors"
	"github.com/tsengko/pulsefeed-sync/internal/logging"
	"github.com/tsengko/pulsefeed-sync/internal/metrics"
	"github.com/tsengko/pulsefeed-sync/internal/models"
	"github.com/tsengko/pulsefeed-sync/internal/remote"
	"github.com/tsengko/pulsefeed-sync/internal/sync/queue"
)

// ErrDrainInProgress is returned when a drain is requested while another one
// holds the single-flight guard.
var ErrDrainInProgress = stderrors.New("drain already in progress")

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Engine executes deliveries. All trigger paths — immediate, periodic, and
// online-transition — funnel into Drain, which serializes passes behind one
// mutex so no item can be delivered twice concurrently.
type Engine struct {
	store   *db.Store
	queue   *queue.Manager
	client  remote.Client
	metrics *metrics.Metrics

	drainMu  sync.Mutex
	draining atomic.Bool
}

// NewEngine creates an Engine. metrics may be nil.
func NewEngine(store *db.Store, q *queue.Manager, client remote.Client, m *metrics.Metrics) *Engine {
	return &Engine{store: store, queue: q, client: client, metrics: m}
}

// Draining reports whether a drain pass is currently running.
func (e *Engine) Draining() bool {
	return e.draining.Load()
}

// Drain processes every eligible queue item once, sequentially in enqueue
// order. A failed item blocks all later items for the same entity reference
// for the rest of the pass, so a dependent edit never dispatches before its
// create has succeeded. Returns ErrDrainInProgress if another pass holds the
// guard, and a non-nil error when every attempted item failed (signalling the
// scheduler to back off).
func (e *Engine) Drain(ctx context.Context) (*DrainResult, error) {
	if !e.drainMu.TryLock() {
		return nil, ErrDrainInProgress
	}
	defer e.drainMu.Unlock()
	e.draining.Store(true)
	defer e.draining.Store(false)

	e.metrics.IncDrain()

	// A crash mid-pass leaves items at processing; fold them back into this
	// pass so no accepted write is ever silently dropped.
	if _, err := e.queue.ResetStaleProcessing(); err != nil {
		return nil, err
	}

	batch, err := e.queue.NextBatch()
	if err != nil {
		return nil, err
	}

	result := &DrainResult{}
	blocked := make(map[string]bool)

	for _, stale := range batch {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		// An earlier item in this pass may have reconciled this item's
		// reference; reload so dispatch targets the current id.
		item, err := e.store.GetQueueItem(stale.ID)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return result, err
		}

		if blocked[item.LocalReferenceID] {
			result.Skipped++
			e.metrics.IncDelivery(string(item.Action), "skipped")
			continue
		}

		result.Attempted++
		if err := e.deliver(ctx, item); err != nil {
			result.Failed++
			blocked[item.LocalReferenceID] = true
		} else {
			result.Succeeded++
		}
	}

	logging.Info("Drain pass completed", map[string]interface{}{
		"attempted": result.Attempted,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	})

	if result.Failed > 0 && result.Succeeded == 0 {
		return result, fmt.Errorf("drain failed: %d of %d items undelivered", result.Failed, result.Attempted)
	}
	return result, nil
}

// deliver runs the delivery algorithm for one item, shared by every trigger
// path: mark processing, decode, dispatch, then reconcile-and-complete or
// record the failure for the next pass.
func (e *Engine) deliver(ctx context.Context, item *models.SyncQueueItem) error {
	table, err := item.Action.EntityTable()
	if err != nil {
		e.queue.FailPermanently(item.ID, err.Error())
		return apperrors.Wrap(apperrors.ErrPayloadInvalid, "unknown action", err)
	}

	if err := e.queue.MarkProcessing(item.ID); err != nil {
		return err
	}
	// Reflect the in-flight state on the entity; best effort, the row may be
	// gone for administratively cleaned lineages.
	if err := e.store.SetEntitySyncState(table, item.LocalReferenceID, models.SyncStatusSyncing, false); err != nil {
		logging.Debug("Could not mark entity syncing", map[string]interface{}{
			"table": table,
			"id":    item.LocalReferenceID,
		})
	}

	payload, err := models.DecodePayload(item.Action, item.Payload)
	if err != nil {
		e.queue.FailPermanently(item.ID, err.Error())
		e.settleEntityAfterFailure(table, item)
		e.metrics.IncDelivery(string(item.Action), "failure")
		return apperrors.Wrap(apperrors.ErrPayloadInvalid, "undecodable payload", err)
	}
	// The stored snapshot may predate reconciliation; the queue row's
	// reference is authoritative for the id the request acts upon.
	payload.SetTarget(item.LocalReferenceID)

	resp, err := e.dispatch(ctx, item.IdempotencyKey, payload)
	if err != nil {
		return e.fail(item, table, err.Error(), err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "remote rejected request"
		}
		return e.fail(item, table, msg, apperrors.New(apperrors.ErrRemoteApplication, msg))
	}

	finalID := item.LocalReferenceID
	if canonical := resp.CanonicalID(item.Action); canonical != "" && canonical != finalID {
		switch err := e.store.ReconcileEntityID(table, finalID, canonical); {
		case apperrors.Is(err, apperrors.ErrReconciliationConflict):
			// Last successful reconciliation wins; keep the existing row and
			// surface the collision for investigation.
			logging.Error("Reconciliation conflict", err, map[string]interface{}{
				"table":     table,
				"local_id":  finalID,
				"canonical": canonical,
			})
		case err != nil:
			return e.fail(item, table, err.Error(), err)
		default:
			finalID = canonical
			e.metrics.IncReconcile()
		}
	}

	if err := e.store.SetEntitySyncState(table, finalID, models.SyncStatusSynced, true); err != nil {
		return e.fail(item, table, err.Error(), err)
	}
	if err := e.queue.MarkCompleted(item.ID); err != nil {
		return e.fail(item, table, err.Error(), err)
	}

	e.metrics.IncDelivery(string(item.Action), "success")
	logging.Debug("Delivered sync item", map[string]interface{}{
		"id":     item.ID,
		"action": string(item.Action),
		"entity": finalID,
	})
	return nil
}

// fail records a delivery failure on the queue item and settles the entity's
// visible state, then returns the cause so the drain loop blocks the lineage.
func (e *Engine) fail(item *models.SyncQueueItem, table, msg string, cause error) error {
	if _, err := e.queue.MarkFailed(item.ID, msg); err != nil {
		logging.Error("Failed to record delivery failure", err, map[string]interface{}{"id": item.ID})
	}
	e.settleEntityAfterFailure(table, item)
	e.metrics.IncDelivery(string(item.Action), "failure")
	return cause
}

// settleEntityAfterFailure sets the entity to failed only when this item was
// its last live action; a later enqueued action already supersedes visibility
// and the entity stays pending.
func (e *Engine) settleEntityAfterFailure(table string, item *models.SyncQueueItem) {
	later, err := e.store.HasLaterLiveQueueItem(item)
	if err != nil {
		logging.Error("Failed to check lineage", err, map[string]interface{}{"id": item.ID})
		return
	}
	status := models.SyncStatusFailed
	if later {
		status = models.SyncStatusPending
	}
	if err := e.store.SetEntitySyncState(table, item.LocalReferenceID, status, false); err != nil {
		logging.Debug("Could not settle entity state", map[string]interface{}{
			"table": table,
			"id":    item.LocalReferenceID,
		})
		return
	}
	if status == models.SyncStatusFailed {
		if err := e.store.BumpEntityRetry(table, item.LocalReferenceID); err != nil {
			logging.Debug("Could not bump entity retry count", map[string]interface{}{
				"table": table,
				"id":    item.LocalReferenceID,
			})
		}
	}
}

// dispatch invokes the client method matching the payload variant.
func (e *Engine) dispatch(ctx context.Context, key string, payload models.Payload) (*remote.Response, error) {
	switch p := payload.(type) {
	case *models.SendMessagePayload:
		return e.client.SendMessage(ctx, key, p)
	case *models.EditMessagePayload:
		return e.client.EditMessage(ctx, key, p)
	case *models.DeleteMessagePayload:
		return e.client.DeleteMessage(ctx, key, p)
	case *models.CreatePostPayload:
		return e.client.CreatePost(ctx, key, p)
	case *models.EditPostPayload:
		return e.client.EditPost(ctx, key, p)
	case *models.DeletePostPayload:
		return e.client.DeletePost(ctx, key, p)
	case *models.CreateStoryPayload:
		return e.client.CreateStory(ctx, key, p)
	case *models.DeleteStoryPayload:
		return e.client.DeleteStory(ctx, key, p)
	case *models.ToggleLikePayload:
		return e.client.ToggleLike(ctx, key, p)
	default:
		return nil, apperrors.New(apperrors.ErrPayloadInvalid, fmt.Sprintf("no dispatch for %T", payload))
	}
}
