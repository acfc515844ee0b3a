// Package queue manages the durable sync queue: an ordered staging area of
// pending remote operations. It carries no business logic; delivery semantics
// live in the sync engine.
package queue

import (
	"github.com/tsengko/pulsefeed-sync/internal/db"
	"github.com/tsengko/pulsefeed-sync/internal/localid"
	"github.com/tsengko/pulsefeed-sync/internal/logging"
	"github.com/tsengko/pulsefeed-sync/internal/metrics"
	"github.com/tsengko/pulsefeed-sync/internal/models"
)

// Manager provides queue operations over the durable store.
type Manager struct {
	store      *db.Store
	metrics    *metrics.Metrics
	maxRetries int
}

// NewManager creates a queue Manager. metrics may be nil.
func NewManager(store *db.Store, m *metrics.Metrics, maxRetries int) *Manager {
	if maxRetries <= 0 {
		maxRetries = models.MaxRetries
	}
	return &Manager{store: store, metrics: m, maxRetries: maxRetries}
}

// MaxRetries returns the retry bound in effect.
func (q *Manager) MaxRetries() int {
	return q.maxRetries
}

// Enqueue inserts an item with status pending. The timestamp and idempotency
// key are filled in when the caller has not set them.
func (q *Manager) Enqueue(item *models.SyncQueueItem) error {
	Prepare(item)
	if err := q.store.InsertQueueItem(item); err != nil {
		return err
	}
	q.metrics.IncEnqueue(string(item.Action))
	logging.Debug("Enqueued sync item", map[string]interface{}{
		"id":        item.ID,
		"action":    string(item.Action),
		"reference": item.LocalReferenceID,
	})
	return nil
}

// Prepare fills an item's defaulted fields so it can be inserted either by
// Enqueue or inside a repository's atomic create transaction.
func Prepare(item *models.SyncQueueItem) {
	if item.Status == "" {
		item.Status = models.QueueStatusPending
	}
	if item.Timestamp == 0 {
		item.Timestamp = localid.Now()
	}
	if item.IdempotencyKey == "" {
		item.IdempotencyKey = localid.IdempotencyKey()
	}
	if item.Endpoint == "" {
		item.Endpoint = item.Action.Endpoint()
	}
}

// NextBatch returns all items eligible for delivery in FIFO order: pending
// items plus failed items still under the retry bound.
func (q *Manager) NextBatch() ([]*models.SyncQueueItem, error) {
	return q.store.NextQueueBatch(q.maxRetries)
}

// MarkProcessing transitions an item to processing.
func (q *Manager) MarkProcessing(id int64) error {
	return q.store.MarkQueueProcessing(id)
}

// MarkCompleted removes a delivered item. Completion is a physical delete;
// the entity row carries the surviving record of the write.
func (q *Manager) MarkCompleted(id int64) error {
	return q.store.DeleteQueueItem(id)
}

// MarkFailed records a delivery failure and returns the new retry count.
// At the retry bound the item stays failed for manual intervention; it is
// never auto-discarded.
func (q *Manager) MarkFailed(id int64, errMsg string) (int, error) {
	count, err := q.store.MarkQueueFailed(id, errMsg)
	if err != nil {
		return 0, err
	}
	if count >= q.maxRetries {
		logging.Warn("Sync item exhausted retries", map[string]interface{}{
			"id":          id,
			"retry_count": count,
			"error":       errMsg,
		})
	}
	return count, nil
}

// FailPermanently parks an item at the retry bound for a non-retryable
// failure, such as an undecodable payload.
func (q *Manager) FailPermanently(id int64, errMsg string) error {
	return q.store.FailQueueItemPermanently(id, q.maxRetries, errMsg)
}

// FindLiveItemFor returns the at-most-one non-completed item for an entity
// reference, or nil.
func (q *Manager) FindLiveItemFor(localReferenceID string) (*models.SyncQueueItem, error) {
	return q.store.FindLiveQueueItemFor(localReferenceID)
}

// ResetStaleProcessing returns items stranded at processing by a crashed
// pass back to pending. Their retry count is kept, so an item that keeps
// crashing the worker still hits the retry bound.
func (q *Manager) ResetStaleProcessing() (int, error) {
	n, err := q.store.ResetStaleProcessingItems()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Warn("Recovered sync items stranded in processing", map[string]interface{}{"count": n})
	}
	return n, nil
}

// RetryFailed resets all failed items for another delivery round and returns
// how many were reset. This is the manual-retry trigger's path.
func (q *Manager) RetryFailed() (int, error) {
	n, err := q.store.RetryFailedQueueItems()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Info("Reset failed sync items for retry", map[string]interface{}{"count": n})
	}
	return n, nil
}

// Stats returns per-status queue counts and refreshes the depth gauge.
func (q *Manager) Stats() (map[string]int, error) {
	counts, err := q.store.CountQueueByStatus()
	if err != nil {
		return nil, err
	}
	q.metrics.SetQueueDepth(counts)
	return counts, nil
}

// Size returns the number of live items in the queue.
func (q *Manager) Size() (int, error) {
	counts, err := q.Stats()
	if err != nil {
		return 0, err
	}
	return counts["total"], nil
}
