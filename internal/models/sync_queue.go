package models

import "encoding/json"

// SyncQueueItem represents a pending remote operation. The payload is a
// snapshot of the request body taken at enqueue time and is never mutated;
// follow-up actions on the same entity produce new items.
type SyncQueueItem struct {
	ID               int64           `db:"id" json:"id"`
	Action           Action          `db:"action" json:"action"`
	Endpoint         string          `db:"endpoint" json:"endpoint"`
	Payload          json.RawMessage `db:"payload" json:"payload"`
	LocalReferenceID string          `db:"local_reference_id" json:"local_reference_id"`
	IdempotencyKey   string          `db:"idempotency_key" json:"idempotency_key"`
	Status           QueueStatus     `db:"status" json:"status"`
	RetryCount       int             `db:"retry_count" json:"retry_count"`
	LastAttempt      int64           `db:"last_attempt" json:"last_attempt,omitempty"`
	ErrorMessage     string          `db:"error_message" json:"error_message,omitempty"`
	Timestamp        int64           `db:"timestamp" json:"timestamp"`
}

// TableName returns the table name for SyncQueueItem.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}

// Retryable reports whether the item is still eligible for automatic
// redelivery under the given retry bound.
func (i *SyncQueueItem) Retryable(maxRetries int) bool {
	switch i.Status {
	case QueueStatusPending:
		return true
	case QueueStatusFailed:
		return i.RetryCount < maxRetries
	default:
		return false
	}
}
