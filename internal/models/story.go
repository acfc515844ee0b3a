package models

import "time"

// Story represents an ephemeral story row. Stories expire 24 hours after
// creation; expiry is evaluated against local time on the read path.
type Story struct {
	ID             string     `db:"id" json:"id"`
	AuthorID       string     `db:"author_id" json:"author_id"`
	MediaRef       string     `db:"media_ref" json:"media_ref"`
	Caption        string     `db:"caption" json:"caption,omitempty"`
	ExpiresAt      int64      `db:"expires_at" json:"expires_at"`
	IsDeleted      bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt      int64      `db:"deleted_at" json:"deleted_at,omitempty"`
	IsSynced       bool       `db:"is_synced" json:"is_synced"`
	SyncStatus     SyncStatus `db:"sync_status" json:"sync_status"`
	LocalTimestamp int64      `db:"local_timestamp" json:"local_timestamp"`
	RetryCount     int        `db:"retry_count" json:"retry_count"`
}

// TableName returns the table name for Story.
func (Story) TableName() string {
	return "stories"
}

// Expired reports whether the story has passed its expiry at the given time.
func (s *Story) Expired(at time.Time) bool {
	return at.UnixMilli() >= s.ExpiresAt
}

// StoryTTL is how long a story stays visible after creation.
const StoryTTL = 24 * time.Hour
