// Package models provides data model definitions for the pulsefeed sync engine.
package models

// SyncStatus represents the delivery state of a local entity row.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// QueueStatus represents the state of a sync queue item.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusCompleted  QueueStatus = "completed"
)

// MaxRetries is the delivery retry bound for a queue item. Once an item has
// failed this many times it stops auto-retrying and waits for a manual sync.
const MaxRetries = 3
