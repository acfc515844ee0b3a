// Package models provides data model definitions for the pulsefeed sync engine.
package models

import "time"

// Message represents a chat message row. Until reconciled its ID carries the
// local_msg_ prefix; after a successful delivery the ID is rewritten to the
// canonical id assigned by the server.
type Message struct {
	ID             string     `db:"id" json:"id"`
	ChatID         string     `db:"chat_id" json:"chat_id"`
	SenderID       string     `db:"sender_id" json:"sender_id"`
	Text           string     `db:"text" json:"text"`
	MediaRef       string     `db:"media_ref" json:"media_ref,omitempty"`
	IsEdited       bool       `db:"is_edited" json:"is_edited"`
	IsDeleted      bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt      int64      `db:"deleted_at" json:"deleted_at,omitempty"`
	IsSynced       bool       `db:"is_synced" json:"is_synced"`
	SyncStatus     SyncStatus `db:"sync_status" json:"sync_status"`
	LocalTimestamp int64      `db:"local_timestamp" json:"local_timestamp"`
	RetryCount     int        `db:"retry_count" json:"retry_count"`
}

// TableName returns the table name for Message.
func (Message) TableName() string {
	return "messages"
}

// LocalTime returns the LocalTimestamp as time.Time.
func (m *Message) LocalTime() time.Time {
	return time.UnixMilli(m.LocalTimestamp)
}

// Chat represents a conversation row. LastMessageID references a message by
// primary key and is rewritten when that message's id is reconciled.
type Chat struct {
	ID            string `db:"id" json:"id"`
	Title         string `db:"title" json:"title"`
	LastMessageID string `db:"last_message_id" json:"last_message_id,omitempty"`
	UpdatedAt     int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Chat.
func (Chat) TableName() string {
	return "chats"
}
