package repo

import (
	"context"

	"github.com/tsengko/pulsefeed-sync/internal/connectivity"
	"github.com/tsengko/pulsefeed-sync/internal/db"
	apperrors "github.com/tsengko/pulsefeed-sync/internal/errors"
	"github.com/tsengko/pulsefeed-sync/internal/localid"
	"github.com/tsengko/pulsefeed-sync/internal/models"
	"github.com/tsengko/pulsefeed-sync/internal/sync/queue"
)

// Messages is the chat message repository.
type Messages struct {
	base
}

// NewMessages creates a Messages repository. oracle and syncer may be nil
// for a purely offline configuration.
func NewMessages(store *db.Store, q *queue.Manager, oracle connectivity.Oracle, syncer Syncer) *Messages {
	return &Messages{base{store: store, queue: q, oracle: oracle, syncer: syncer}}
}

// Send writes the message locally under a temporary id, enqueues its
// delivery in the same transaction, and returns the optimistic record
// immediately. If the network is reachable a delivery pass runs before
// returning, but its outcome never fails the call.
func (r *Messages) Send(ctx context.Context, chatID, senderID, text, mediaRef string) (*models.Message, error) {
	now := localid.Now()
	msg := &models.Message{
		ChatID:         chatID,
		SenderID:       senderID,
		Text:           text,
		MediaRef:       mediaRef,
		SyncStatus:     models.SyncStatusPending,
		LocalTimestamp: now,
	}

	// A colliding local id is vanishingly rare; retry once with a fresh
	// random suffix before surfacing the conflict.
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		msg.ID = localid.New("msg")
		payload := &models.SendMessagePayload{
			LocalID:         msg.ID,
			ChatID:          chatID,
			SenderID:        senderID,
			Text:            text,
			MediaRef:        mediaRef,
			ClientTimestamp: now,
		}
		var item *models.SyncQueueItem
		item, err = newQueueItem(models.ActionSendMessage, msg.ID, payload, now)
		if err != nil {
			return nil, err
		}
		err = r.store.CreateMessageWithQueueItem(msg, item)
		if err == nil || !apperrors.Is(err, apperrors.ErrLocalStoreConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	r.tryImmediate(ctx)
	return msg, nil
}

// Edit replaces the message text locally and enqueues the remote edit. The
// edit is never merged into a still-pending send; the worker serializes the
// lineage so the send always lands first.
func (r *Messages) Edit(ctx context.Context, id, text string) error {
	if err := r.store.UpdateMessageText(id, text); err != nil {
		return err
	}
	payload := &models.EditMessagePayload{
		MessageID:       id,
		Text:            text,
		ClientTimestamp: localid.Now(),
	}
	if err := r.enqueue(models.ActionEditMessage, id, payload); err != nil {
		return err
	}
	r.tryImmediate(ctx)
	return nil
}

// Delete soft-deletes the message locally and enqueues the remote delete.
func (r *Messages) Delete(ctx context.Context, id string) error {
	if err := r.store.SoftDeleteMessage(id); err != nil {
		return err
	}
	payload := &models.DeleteMessagePayload{MessageID: id}
	if err := r.enqueue(models.ActionDeleteMessage, id, payload); err != nil {
		return err
	}
	r.tryImmediate(ctx)
	return nil
}

// Get returns the local message row.
func (r *Messages) Get(id string) (*models.Message, error) {
	return r.store.GetMessage(id)
}

// ListChat returns a chat's messages in send order.
func (r *Messages) ListChat(chatID string, limit, offset int) ([]*models.Message, error) {
	return r.store.ListChatMessages(chatID, limit, offset)
}
