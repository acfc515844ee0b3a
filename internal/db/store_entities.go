// Package db provides entity row operations for the sync engine.
package db

import (
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/tsengko/pulsefeed-sync/internal/errors"
	"github.com/tsengko/pulsefeed-sync/internal/models"
)

// =====================================================
// Messages
// =====================================================

const messageColumns = "id, chat_id, sender_id, text, media_ref, is_edited, is_deleted, deleted_at, is_synced, sync_status, local_timestamp, retry_count"

func scanMessage(row interface{ Scan(...interface{}) error }) (*models.Message, error) {
	var m models.Message
	var deletedAt sql.NullInt64
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.MediaRef, &m.IsEdited,
		&m.IsDeleted, &deletedAt, &m.IsSynced, &m.SyncStatus, &m.LocalTimestamp, &m.RetryCount)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		m.DeletedAt = deletedAt.Int64
	}
	return &m, nil
}

func (s *Store) insertMessage(tx *sql.Tx, m *models.Message) error {
	query := `
	INSERT INTO messages (id, chat_id, sender_id, text, media_ref, is_edited, is_deleted,
		deleted_at, is_synced, sync_status, local_timestamp, retry_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)
	`
	_, err := tx.Exec(query, m.ID, m.ChatID, m.SenderID, m.Text, m.MediaRef, m.IsEdited,
		m.IsDeleted, m.IsSynced, string(m.SyncStatus), m.LocalTimestamp, m.RetryCount)
	if err != nil {
		return storeErr("failed to insert message", err)
	}
	return s.touchChat(tx, m.ChatID, m.ID, m.LocalTimestamp)
}

// touchChat upserts the chat row and points its ordering reference at the
// newest message.
func (s *Store) touchChat(tx *sql.Tx, chatID, messageID string, at int64) error {
	query := `
	INSERT INTO chats (id, last_message_id, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET last_message_id = excluded.last_message_id,
		updated_at = excluded.updated_at
	`
	_, err := tx.Exec(query, chatID, messageID, at)
	return storeErr("failed to update chat", err)
}

// GetMessage retrieves a message by id. Soft-deleted rows are still returned;
// the presentation layer decides how to render them.
func (s *Store) GetMessage(id string) (*models.Message, error) {
	stmt, err := s.prepareStmt("SELECT " + messageColumns + " FROM messages WHERE id = ?")
	if err != nil {
		return nil, err
	}
	m, err := scanMessage(stmt.QueryRow(id))
	if err != nil {
		return nil, storeErr("failed to get message", err)
	}
	return m, nil
}

// ListChatMessages returns a chat's messages in local-timestamp order.
func (s *Store) ListChatMessages(chatID string, limit, offset int) ([]*models.Message, error) {
	query := `
	SELECT ` + messageColumns + ` FROM messages
	WHERE chat_id = ? ORDER BY local_timestamp ASC LIMIT ? OFFSET ?
	`
	rows, err := s.db.Query(query, chatID, limit, offset)
	if err != nil {
		return nil, storeErr("failed to list messages", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, storeErr("failed to scan message", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, storeErr("failed to iterate messages", rows.Err())
}

// GetChat retrieves a chat row by id.
func (s *Store) GetChat(id string) (*models.Chat, error) {
	var c models.Chat
	var lastMessageID sql.NullString
	err := s.db.QueryRow("SELECT id, title, last_message_id, updated_at FROM chats WHERE id = ?", id).
		Scan(&c.ID, &c.Title, &lastMessageID, &c.UpdatedAt)
	if err != nil {
		return nil, storeErr("failed to get chat", err)
	}
	if lastMessageID.Valid {
		c.LastMessageID = lastMessageID.String
	}
	return &c, nil
}

// UpdateMessageText replaces a message's text in place and flags the edit.
func (s *Store) UpdateMessageText(id, text string) error {
	res, err := s.db.Exec("UPDATE messages SET text = ?, is_edited = 1 WHERE id = ?", text, id)
	if err != nil {
		return storeErr("failed to update message", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("message %s not found", id))
	}
	return nil
}

// SoftDeleteMessage flags a message deleted. The row survives so a pending
// delivery can still reference it.
func (s *Store) SoftDeleteMessage(id string) error {
	res, err := s.db.Exec("UPDATE messages SET is_deleted = 1, deleted_at = ? WHERE id = ?",
		time.Now().UnixMilli(), id)
	if err != nil {
		return storeErr("failed to delete message", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("message %s not found", id))
	}
	return nil
}

// =====================================================
// Posts
// =====================================================

const postColumns = "id, author_id, caption, media_refs, like_count, is_edited, is_deleted, deleted_at, is_synced, sync_status, local_timestamp, retry_count"

func scanPost(row interface{ Scan(...interface{}) error }) (*models.Post, error) {
	var p models.Post
	var deletedAt sql.NullInt64
	err := row.Scan(&p.ID, &p.AuthorID, &p.Caption, &p.MediaRefs, &p.LikeCount, &p.IsEdited,
		&p.IsDeleted, &deletedAt, &p.IsSynced, &p.SyncStatus, &p.LocalTimestamp, &p.RetryCount)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		p.DeletedAt = deletedAt.Int64
	}
	return &p, nil
}

func (s *Store) insertPost(tx *sql.Tx, p *models.Post) error {
	query := `
	INSERT INTO posts (id, author_id, caption, media_refs, like_count, is_edited, is_deleted,
		deleted_at, is_synced, sync_status, local_timestamp, retry_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)
	`
	_, err := tx.Exec(query, p.ID, p.AuthorID, p.Caption, p.MediaRefs, p.LikeCount, p.IsEdited,
		p.IsDeleted, p.IsSynced, string(p.SyncStatus), p.LocalTimestamp, p.RetryCount)
	return storeErr("failed to insert post", err)
}

// GetPost retrieves a post by id.
func (s *Store) GetPost(id string) (*models.Post, error) {
	stmt, err := s.prepareStmt("SELECT " + postColumns + " FROM posts WHERE id = ?")
	if err != nil {
		return nil, err
	}
	p, err := scanPost(stmt.QueryRow(id))
	if err != nil {
		return nil, storeErr("failed to get post", err)
	}
	return p, nil
}

// ListPosts returns non-deleted posts, newest first.
func (s *Store) ListPosts(limit, offset int) ([]*models.Post, error) {
	query := `
	SELECT ` + postColumns + ` FROM posts
	WHERE is_deleted = 0 ORDER BY local_timestamp DESC LIMIT ? OFFSET ?
	`
	rows, err := s.db.Query(query, limit, offset)
	if err != nil {
		return nil, storeErr("failed to list posts", err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, storeErr("failed to scan post", err)
		}
		posts = append(posts, p)
	}
	return posts, storeErr("failed to iterate posts", rows.Err())
}

// UpdatePostCaption replaces a post's caption in place and flags the edit.
func (s *Store) UpdatePostCaption(id, caption string) error {
	res, err := s.db.Exec("UPDATE posts SET caption = ?, is_edited = 1 WHERE id = ?", caption, id)
	if err != nil {
		return storeErr("failed to update post", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("post %s not found", id))
	}
	return nil
}

// SoftDeletePost flags a post deleted.
func (s *Store) SoftDeletePost(id string) error {
	res, err := s.db.Exec("UPDATE posts SET is_deleted = 1, deleted_at = ? WHERE id = ?",
		time.Now().UnixMilli(), id)
	if err != nil {
		return storeErr("failed to delete post", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("post %s not found", id))
	}
	return nil
}

// TogglePostLike flips one user's like state for a post and adjusts the
// cached like count, all in one transaction. Returns the new state.
func (s *Store) TogglePostLike(postID, userID string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, storeErr("failed to begin transaction", err)
	}
	defer tx.Rollback()

	var liked bool
	err = tx.QueryRow("SELECT liked FROM post_likes WHERE post_id = ? AND user_id = ?", postID, userID).Scan(&liked)
	switch {
	case err == sql.ErrNoRows:
		liked = false
	case err != nil:
		return false, storeErr("failed to read like state", err)
	}

	newState := !liked
	query := `
	INSERT INTO post_likes (post_id, user_id, liked, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(post_id, user_id) DO UPDATE SET liked = excluded.liked, updated_at = excluded.updated_at
	`
	if _, err := tx.Exec(query, postID, userID, newState, time.Now().UnixMilli()); err != nil {
		return false, storeErr("failed to write like state", err)
	}

	delta := 1
	if !newState {
		delta = -1
	}
	if _, err := tx.Exec("UPDATE posts SET like_count = MAX(like_count + ?, 0) WHERE id = ?", delta, postID); err != nil {
		return false, storeErr("failed to update like count", err)
	}

	if err := tx.Commit(); err != nil {
		return false, storeErr("failed to commit like toggle", err)
	}
	return newState, nil
}

// GetPostLike returns one user's like state for a post.
func (s *Store) GetPostLike(postID, userID string) (bool, error) {
	var liked bool
	err := s.db.QueryRow("SELECT liked FROM post_likes WHERE post_id = ? AND user_id = ?", postID, userID).Scan(&liked)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr("failed to read like state", err)
	}
	return liked, nil
}

// =====================================================
// Stories
// =====================================================

const storyColumns = "id, author_id, media_ref, caption, expires_at, is_deleted, deleted_at, is_synced, sync_status, local_timestamp, retry_count"

func scanStory(row interface{ Scan(...interface{}) error }) (*models.Story, error) {
	var st models.Story
	var deletedAt sql.NullInt64
	err := row.Scan(&st.ID, &st.AuthorID, &st.MediaRef, &st.Caption, &st.ExpiresAt,
		&st.IsDeleted, &deletedAt, &st.IsSynced, &st.SyncStatus, &st.LocalTimestamp, &st.RetryCount)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		st.DeletedAt = deletedAt.Int64
	}
	return &st, nil
}

func (s *Store) insertStory(tx *sql.Tx, st *models.Story) error {
	query := `
	INSERT INTO stories (id, author_id, media_ref, caption, expires_at, is_deleted,
		deleted_at, is_synced, sync_status, local_timestamp, retry_count)
	VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)
	`
	_, err := tx.Exec(query, st.ID, st.AuthorID, st.MediaRef, st.Caption, st.ExpiresAt,
		st.IsDeleted, st.IsSynced, string(st.SyncStatus), st.LocalTimestamp, st.RetryCount)
	return storeErr("failed to insert story", err)
}

// GetStory retrieves a story by id.
func (s *Store) GetStory(id string) (*models.Story, error) {
	stmt, err := s.prepareStmt("SELECT " + storyColumns + " FROM stories WHERE id = ?")
	if err != nil {
		return nil, err
	}
	st, err := scanStory(stmt.QueryRow(id))
	if err != nil {
		return nil, storeErr("failed to get story", err)
	}
	return st, nil
}

// ListActiveStories returns non-deleted, unexpired stories, newest first.
func (s *Store) ListActiveStories(now int64) ([]*models.Story, error) {
	query := `
	SELECT ` + storyColumns + ` FROM stories
	WHERE is_deleted = 0 AND expires_at > ? ORDER BY local_timestamp DESC
	`
	rows, err := s.db.Query(query, now)
	if err != nil {
		return nil, storeErr("failed to list stories", err)
	}
	defer rows.Close()

	var stories []*models.Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, storeErr("failed to scan story", err)
		}
		stories = append(stories, st)
	}
	return stories, storeErr("failed to iterate stories", rows.Err())
}

// SoftDeleteStory flags a story deleted.
func (s *Store) SoftDeleteStory(id string) error {
	res, err := s.db.Exec("UPDATE stories SET is_deleted = 1, deleted_at = ? WHERE id = ?",
		time.Now().UnixMilli(), id)
	if err != nil {
		return storeErr("failed to delete story", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("story %s not found", id))
	}
	return nil
}

// =====================================================
// Users cache
// =====================================================

// UpsertCachedUser writes or refreshes a cached user profile.
func (s *Store) UpsertCachedUser(u *models.CachedUser) error {
	query := `
	INSERT INTO users_cache (id, username, display_name, avatar_ref, fetched_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET username = excluded.username,
		display_name = excluded.display_name, avatar_ref = excluded.avatar_ref,
		fetched_at = excluded.fetched_at
	`
	_, err := s.db.Exec(query, u.ID, u.Username, u.DisplayName, u.AvatarRef, u.FetchedAt)
	return storeErr("failed to upsert cached user", err)
}

// GetCachedUser retrieves a cached user profile by id.
func (s *Store) GetCachedUser(id string) (*models.CachedUser, error) {
	var u models.CachedUser
	err := s.db.QueryRow(
		"SELECT id, username, display_name, avatar_ref, fetched_at FROM users_cache WHERE id = ?", id).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarRef, &u.FetchedAt)
	if err != nil {
		return nil, storeErr("failed to get cached user", err)
	}
	return &u, nil
}
