// Package db provides row-level store operations for the sync engine.
package db

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/tsengko/pulsefeed-sync/internal/errors"
	"github.com/tsengko/pulsefeed-sync/internal/models"
)

// Store provides row-level operations for all engine tables, including the
// compound transactions the sync protocol depends on: the atomic
// entity+queue insert and the reconciliation id rewrite.
type Store struct {
	db *sql.DB

	// Prepared statement cache for hot read paths.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewStore creates a new Store over an open database.
func NewStore(db *DB) *Store {
	return &Store{db: db.DB}
}

// prepareStmt gets or creates a prepared statement from the cache.
func (s *Store) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrLocalStoreIO, "failed to prepare statement", err)
	}
	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *Store) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// storeErr classifies a database error into the engine taxonomy.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return apperrors.Wrap(apperrors.ErrNotFound, op, err)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return apperrors.Wrap(apperrors.ErrLocalStoreConflict, op, err)
	}
	return apperrors.Wrap(apperrors.ErrLocalStoreIO, op, err)
}

// entityTables is the allowlist for table-parametrized sync-state updates.
var entityTables = map[string]bool{
	"messages": true,
	"posts":    true,
	"stories":  true,
}

func checkEntityTable(table string) error {
	if !entityTables[table] {
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown entity table %q", table))
	}
	return nil
}

// =====================================================
// Sync state (shared entity columns)
// =====================================================

// SetEntitySyncState updates sync_status and is_synced on an entity row.
func (s *Store) SetEntitySyncState(table, id string, status models.SyncStatus, synced bool) error {
	if err := checkEntityTable(table); err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET sync_status = ?, is_synced = ? WHERE id = ?", table)
	res, err := s.db.Exec(query, string(status), synced, id)
	if err != nil {
		return storeErr("failed to update sync state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("%s row %s not found", table, id))
	}
	return nil
}

// BumpEntityRetry increments the retry_count mirror on an entity row.
func (s *Store) BumpEntityRetry(table, id string) error {
	if err := checkEntityTable(table); err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET retry_count = retry_count + 1 WHERE id = ?", table)
	_, err := s.db.Exec(query, id)
	return storeErr("failed to bump entity retry count", err)
}

// =====================================================
// Sync queue
// =====================================================

const queueColumns = "id, action, endpoint, payload, local_reference_id, idempotency_key, status, retry_count, last_attempt, error_message, timestamp"

func scanQueueItem(row interface{ Scan(...interface{}) error }) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	var lastAttempt sql.NullInt64
	var payload string
	err := row.Scan(&item.ID, &item.Action, &item.Endpoint, &payload, &item.LocalReferenceID,
		&item.IdempotencyKey, &item.Status, &item.RetryCount, &lastAttempt,
		&item.ErrorMessage, &item.Timestamp)
	if err != nil {
		return nil, err
	}
	item.Payload = []byte(payload)
	if lastAttempt.Valid {
		item.LastAttempt = lastAttempt.Int64
	}
	return &item, nil
}

// InsertQueueItem inserts a queue item and fills in its assigned id.
func (s *Store) InsertQueueItem(item *models.SyncQueueItem) error {
	return s.insertQueueItem(s.db, item)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) insertQueueItem(ex execer, item *models.SyncQueueItem) error {
	query := `
	INSERT INTO sync_queue (action, endpoint, payload, local_reference_id, idempotency_key,
		status, retry_count, last_attempt, error_message, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, NULL, '', ?)
	`
	res, err := ex.Exec(query, string(item.Action), item.Endpoint, string(item.Payload),
		item.LocalReferenceID, item.IdempotencyKey, string(item.Status), item.RetryCount,
		item.Timestamp)
	if err != nil {
		return storeErr("failed to insert queue item", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storeErr("failed to read queue item id", err)
	}
	item.ID = id
	return nil
}

// NextQueueBatch returns every item eligible for delivery: pending items plus
// failed items under the retry bound, in ascending timestamp order. The queue
// id breaks ties between same-millisecond enqueues.
func (s *Store) NextQueueBatch(maxRetries int) ([]*models.SyncQueueItem, error) {
	query := `
	SELECT ` + queueColumns + ` FROM sync_queue
	WHERE status = 'pending' OR (status = 'failed' AND retry_count < ?)
	ORDER BY timestamp ASC, id ASC
	`
	rows, err := s.db.Query(query, maxRetries)
	if err != nil {
		return nil, storeErr("failed to query queue batch", err)
	}
	defer rows.Close()

	var items []*models.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, storeErr("failed to scan queue item", err)
		}
		items = append(items, item)
	}
	return items, storeErr("failed to iterate queue batch", rows.Err())
}

// GetQueueItem retrieves a queue item by id.
func (s *Store) GetQueueItem(id int64) (*models.SyncQueueItem, error) {
	stmt, err := s.prepareStmt("SELECT " + queueColumns + " FROM sync_queue WHERE id = ?")
	if err != nil {
		return nil, err
	}
	item, err := scanQueueItem(stmt.QueryRow(id))
	if err != nil {
		return nil, storeErr("failed to get queue item", err)
	}
	return item, nil
}

// FindLiveQueueItemFor returns the single non-completed queue item for an
// entity reference, or nil if none exists. Callers rely on the at-most-one
// invariant; if multiple rows exist the earliest is returned.
func (s *Store) FindLiveQueueItemFor(localReferenceID string) (*models.SyncQueueItem, error) {
	query := `
	SELECT ` + queueColumns + ` FROM sync_queue
	WHERE local_reference_id = ? AND status != 'completed'
	ORDER BY timestamp ASC, id ASC LIMIT 1
	`
	item, err := scanQueueItem(s.db.QueryRow(query, localReferenceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("failed to find live queue item", err)
	}
	return item, nil
}

// HasLaterLiveQueueItem reports whether another live item for the same
// reference was enqueued after the given item.
func (s *Store) HasLaterLiveQueueItem(item *models.SyncQueueItem) (bool, error) {
	query := `
	SELECT EXISTS(
		SELECT 1 FROM sync_queue
		WHERE local_reference_id = ? AND status != 'completed' AND id != ?
		  AND (timestamp > ? OR (timestamp = ? AND id > ?))
	)
	`
	var exists bool
	err := s.db.QueryRow(query, item.LocalReferenceID, item.ID,
		item.Timestamp, item.Timestamp, item.ID).Scan(&exists)
	if err != nil {
		return false, storeErr("failed to check for later queue items", err)
	}
	return exists, nil
}

// MarkQueueProcessing transitions an item to processing.
func (s *Store) MarkQueueProcessing(id int64) error {
	res, err := s.db.Exec(
		"UPDATE sync_queue SET status = 'processing', last_attempt = ? WHERE id = ?",
		time.Now().UnixMilli(), id)
	if err != nil {
		return storeErr("failed to mark queue item processing", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("queue item %d not found", id))
	}
	return nil
}

// DeleteQueueItem physically removes a completed item.
func (s *Store) DeleteQueueItem(id int64) error {
	res, err := s.db.Exec("DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return storeErr("failed to delete queue item", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("queue item %d not found", id))
	}
	return nil
}

// MarkQueueFailed records a delivery failure: increments the retry count,
// stamps the attempt, and stores the error string. Returns the new count.
func (s *Store) MarkQueueFailed(id int64, errMsg string) (int, error) {
	_, err := s.db.Exec(`
	UPDATE sync_queue
	SET status = 'failed', retry_count = retry_count + 1, last_attempt = ?, error_message = ?
	WHERE id = ?`, time.Now().UnixMilli(), errMsg, id)
	if err != nil {
		return 0, storeErr("failed to mark queue item failed", err)
	}
	var count int
	if err := s.db.QueryRow("SELECT retry_count FROM sync_queue WHERE id = ?", id).Scan(&count); err != nil {
		return 0, storeErr("failed to read retry count", err)
	}
	return count, nil
}

// FailQueueItemPermanently parks an item at the retry bound. Used for
// non-retryable failures such as an undecodable payload.
func (s *Store) FailQueueItemPermanently(id int64, maxRetries int, errMsg string) error {
	_, err := s.db.Exec(`
	UPDATE sync_queue
	SET status = 'failed', retry_count = ?, last_attempt = ?, error_message = ?
	WHERE id = ?`, maxRetries, time.Now().UnixMilli(), errMsg, id)
	return storeErr("failed to park queue item", err)
}

// RetryFailedQueueItems resets exhausted items for another round of delivery.
// This is the manual-retry path; automatic draining never resurrects them.
func (s *Store) RetryFailedQueueItems() (int, error) {
	res, err := s.db.Exec(`
	UPDATE sync_queue
	SET status = 'pending', retry_count = 0, error_message = ''
	WHERE status = 'failed'`)
	if err != nil {
		return 0, storeErr("failed to reset failed queue items", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ResetStaleProcessingItems returns stranded processing rows to pending and
// reports how many were reset. A crash between MarkQueueProcessing and the
// completion or failure update leaves a row at processing with no path back
// into the batch; since at most one drain runs at a time, any processing row
// seen at the start of a pass is such a leftover.
func (s *Store) ResetStaleProcessingItems() (int, error) {
	res, err := s.db.Exec(`
	UPDATE sync_queue
	SET status = 'pending'
	WHERE status = 'processing'`)
	if err != nil {
		return 0, storeErr("failed to reset stale processing items", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountQueueByStatus returns per-status queue counts.
func (s *Store) CountQueueByStatus() (map[string]int, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM sync_queue GROUP BY status")
	if err != nil {
		return nil, storeErr("failed to count queue items", err)
	}
	defer rows.Close()

	counts := map[string]int{
		"pending":    0,
		"processing": 0,
		"failed":     0,
	}
	total := 0
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storeErr("failed to scan queue counts", err)
		}
		counts[status] = n
		total += n
	}
	counts["total"] = total
	return counts, storeErr("failed to iterate queue counts", rows.Err())
}

// =====================================================
// Compound transactions
// =====================================================

// CreateMessageWithQueueItem inserts the entity row and its queue row in one
// transaction. A crash can never leave one without the other.
func (s *Store) CreateMessageWithQueueItem(msg *models.Message, item *models.SyncQueueItem) error {
	return s.createWithQueueItem(item, func(tx *sql.Tx) error {
		return s.insertMessage(tx, msg)
	})
}

// CreatePostWithQueueItem inserts a post and its queue row atomically.
func (s *Store) CreatePostWithQueueItem(post *models.Post, item *models.SyncQueueItem) error {
	return s.createWithQueueItem(item, func(tx *sql.Tx) error {
		return s.insertPost(tx, post)
	})
}

// CreateStoryWithQueueItem inserts a story and its queue row atomically.
func (s *Store) CreateStoryWithQueueItem(story *models.Story, item *models.SyncQueueItem) error {
	return s.createWithQueueItem(item, func(tx *sql.Tx) error {
		return s.insertStory(tx, story)
	})
}

func (s *Store) createWithQueueItem(item *models.SyncQueueItem, insertEntity func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := insertEntity(tx); err != nil {
		return err
	}
	if err := s.insertQueueItem(tx, item); err != nil {
		return err
	}
	return storeErr("failed to commit create", tx.Commit())
}

// ReconcileEntityID rewrites an entity's primary key from its local id to the
// canonical id and propagates the rewrite to every dependent row — chat
// ordering for messages, like rows for posts, and the live queue items'
// reference — in the same transaction. Rewriting to an id that already keys a
// different row is a reconciliation conflict and nothing is changed.
func (s *Store) ReconcileEntityID(table, oldID, newID string) error {
	if err := checkEntityTable(table); err != nil {
		return err
	}
	if oldID == newID {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("failed to begin transaction", err)
	}
	defer tx.Rollback()

	var exists bool
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = ?)", table)
	if err := tx.QueryRow(query, newID).Scan(&exists); err != nil {
		return storeErr("failed to check canonical id", err)
	}
	if exists {
		// A redelivery after a lost ack repeats a reconciliation that has
		// already been applied; that is a no-op, not a conflict.
		var oldExists bool
		if err := tx.QueryRow(fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = ?)", table), oldID).Scan(&oldExists); err != nil {
			return storeErr("failed to check local id", err)
		}
		if !oldExists {
			return nil
		}
		return apperrors.New(apperrors.ErrReconciliationConflict,
			fmt.Sprintf("canonical id %s already keys a %s row", newID, table))
	}

	res, err := tx.Exec(fmt.Sprintf("UPDATE %s SET id = ? WHERE id = ?", table), newID, oldID)
	if err != nil {
		return storeErr("failed to rewrite entity id", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("%s row %s not found", table, oldID))
	}

	switch table {
	case "messages":
		if _, err := tx.Exec("UPDATE chats SET last_message_id = ? WHERE last_message_id = ?", newID, oldID); err != nil {
			return storeErr("failed to rewrite chat reference", err)
		}
	case "posts":
		if _, err := tx.Exec("UPDATE post_likes SET post_id = ? WHERE post_id = ?", newID, oldID); err != nil {
			return storeErr("failed to rewrite like references", err)
		}
	}

	// Live queue items now target the canonical id; completed rows are gone.
	if _, err := tx.Exec(
		"UPDATE sync_queue SET local_reference_id = ? WHERE local_reference_id = ? AND status != 'completed'",
		newID, oldID); err != nil {
		return storeErr("failed to rewrite queue references", err)
	}

	return storeErr("failed to commit reconciliation", tx.Commit())
}
