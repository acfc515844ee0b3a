package models

import "time"

// Post represents a feed post row.
type Post struct {
	ID             string     `db:"id" json:"id"`
	AuthorID       string     `db:"author_id" json:"author_id"`
	Caption        string     `db:"caption" json:"caption"`
	MediaRefs      string     `db:"media_refs" json:"media_refs"` // JSON array of media references
	LikeCount      int        `db:"like_count" json:"like_count"`
	IsEdited       bool       `db:"is_edited" json:"is_edited"`
	IsDeleted      bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt      int64      `db:"deleted_at" json:"deleted_at,omitempty"`
	IsSynced       bool       `db:"is_synced" json:"is_synced"`
	SyncStatus     SyncStatus `db:"sync_status" json:"sync_status"`
	LocalTimestamp int64      `db:"local_timestamp" json:"local_timestamp"`
	RetryCount     int        `db:"retry_count" json:"retry_count"`
}

// TableName returns the table name for Post.
func (Post) TableName() string {
	return "posts"
}

// LocalTime returns the LocalTimestamp as time.Time.
func (p *Post) LocalTime() time.Time {
	return time.UnixMilli(p.LocalTimestamp)
}

// PostLike records the local like state of one user for one post.
// The post_id column is rewritten when the post's id is reconciled.
type PostLike struct {
	PostID    string `db:"post_id" json:"post_id"`
	UserID    string `db:"user_id" json:"user_id"`
	Liked     bool   `db:"liked" json:"liked"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for PostLike.
func (PostLike) TableName() string {
	return "post_likes"
}
