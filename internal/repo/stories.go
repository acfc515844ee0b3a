package repo

import (
	"context"
	"time"

	"github.com/tsengko/pulsefeed-sync/internal/connectivity"
	"github.com/tsengko/pulsefeed-sync/internal/db"
	apperrors "github.com/tsengko/pulsefeed-sync/internal/errors"
	"github.com/tsengko/pulsefeed-sync/internal/localid"
	"github.com/tsengko/pulsefeed-sync/internal/models"
	"github.com/tsengko/pulsefeed-sync/internal/sync/queue"
)

// Stories is the story repository.
type Stories struct {
	base
}

// NewStories creates a Stories repository.
func NewStories(store *db.Store, q *queue.Manager, oracle connectivity.Oracle, syncer Syncer) *Stories {
	return &Stories{base{store: store, queue: q, oracle: oracle, syncer: syncer}}
}

// Create writes the story locally under a temporary id with a 24h expiry and
// enqueues its creation atomically.
func (r *Stories) Create(ctx context.Context, authorID, mediaRef, caption string) (*models.Story, error) {
	now := localid.Now()
	story := &models.Story{
		AuthorID:       authorID,
		MediaRef:       mediaRef,
		Caption:        caption,
		ExpiresAt:      time.UnixMilli(now).Add(models.StoryTTL).UnixMilli(),
		SyncStatus:     models.SyncStatusPending,
		LocalTimestamp: now,
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		story.ID = localid.New("story")
		payload := &models.CreateStoryPayload{
			LocalID:         story.ID,
			AuthorID:        authorID,
			MediaRef:        mediaRef,
			Caption:         caption,
			ClientTimestamp: now,
		}
		var item *models.SyncQueueItem
		item, err = newQueueItem(models.ActionCreateStory, story.ID, payload, now)
		if err != nil {
			return nil, err
		}
		err = r.store.CreateStoryWithQueueItem(story, item)
		if err == nil || !apperrors.Is(err, apperrors.ErrLocalStoreConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	r.tryImmediate(ctx)
	return story, nil
}

// Delete soft-deletes the story locally and enqueues the remote delete.
func (r *Stories) Delete(ctx context.Context, id string) error {
	if err := r.store.SoftDeleteStory(id); err != nil {
		return err
	}
	payload := &models.DeleteStoryPayload{StoryID: id}
	if err := r.enqueue(models.ActionDeleteStory, id, payload); err != nil {
		return err
	}
	r.tryImmediate(ctx)
	return nil
}

// Get returns the local story row.
func (r *Stories) Get(id string) (*models.Story, error) {
	return r.store.GetStory(id)
}

// ListActive returns unexpired stories, newest first.
func (r *Stories) ListActive() ([]*models.Story, error) {
	return r.store.ListActiveStories(time.Now().UnixMilli())
}
