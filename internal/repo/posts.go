package repo

import (
	"context"
	"encoding/json"

	"github.com/tsengko/pulsefeed-sync/internal/connectivity"
	"github.com/tsengko/pulsefeed-sync/internal/db"
	apperrors "github.com/tsengko/pulsefeed-sync/internal/errors"
	"github.com/tsengko/pulsefeed-sync/internal/localid"
	"github.com/tsengko/pulsefeed-sync/internal/models"
	"github.com/tsengko/pulsefeed-sync/internal/sync/queue"
)

// Posts is the feed post repository.
type Posts struct {
	base
}

// NewPosts creates a Posts repository.
func NewPosts(store *db.Store, q *queue.Manager, oracle connectivity.Oracle, syncer Syncer) *Posts {
	return &Posts{base{store: store, queue: q, oracle: oracle, syncer: syncer}}
}

// Create writes the post locally under a temporary id and enqueues its
// creation atomically, returning the optimistic record.
func (r *Posts) Create(ctx context.Context, authorID, caption string, mediaRefs []string) (*models.Post, error) {
	now := localid.Now()
	refs, err := json.Marshal(mediaRefs)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to encode media refs", err)
	}
	post := &models.Post{
		AuthorID:       authorID,
		Caption:        caption,
		MediaRefs:      string(refs),
		SyncStatus:     models.SyncStatusPending,
		LocalTimestamp: now,
	}

	for attempt := 0; attempt < 2; attempt++ {
		post.ID = localid.New("post")
		payload := &models.CreatePostPayload{
			LocalID:         post.ID,
			AuthorID:        authorID,
			Caption:         caption,
			MediaRefs:       mediaRefs,
			ClientTimestamp: now,
		}
		var item *models.SyncQueueItem
		item, err = newQueueItem(models.ActionCreatePost, post.ID, payload, now)
		if err != nil {
			return nil, err
		}
		err = r.store.CreatePostWithQueueItem(post, item)
		if err == nil || !apperrors.Is(err, apperrors.ErrLocalStoreConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	r.tryImmediate(ctx)
	return post, nil
}

// Edit replaces the caption locally and enqueues the remote edit.
func (r *Posts) Edit(ctx context.Context, id, caption string) error {
	if err := r.store.UpdatePostCaption(id, caption); err != nil {
		return err
	}
	payload := &models.EditPostPayload{
		PostID:          id,
		Caption:         caption,
		ClientTimestamp: localid.Now(),
	}
	if err := r.enqueue(models.ActionEditPost, id, payload); err != nil {
		return err
	}
	r.tryImmediate(ctx)
	return nil
}

// Delete soft-deletes the post locally and enqueues the remote delete.
func (r *Posts) Delete(ctx context.Context, id string) error {
	if err := r.store.SoftDeletePost(id); err != nil {
		return err
	}
	payload := &models.DeletePostPayload{PostID: id}
	if err := r.enqueue(models.ActionDeletePost, id, payload); err != nil {
		return err
	}
	r.tryImmediate(ctx)
	return nil
}

// ToggleLike flips the actor's like state locally and enqueues the new
// desired state. Rapid successive toggles each enqueue their own item;
// in-order delivery converges the remote to the last local state.
func (r *Posts) ToggleLike(ctx context.Context, postID, actorID string) (bool, error) {
	liked, err := r.store.TogglePostLike(postID, actorID)
	if err != nil {
		return false, err
	}
	payload := &models.ToggleLikePayload{
		PostID:          postID,
		UserID:          actorID,
		Liked:           liked,
		ClientTimestamp: localid.Now(),
	}
	if err := r.enqueue(models.ActionToggleLike, postID, payload); err != nil {
		return liked, err
	}
	r.tryImmediate(ctx)
	return liked, nil
}

// Get returns the local post row.
func (r *Posts) Get(id string) (*models.Post, error) {
	return r.store.GetPost(id)
}

// List returns non-deleted posts, newest first.
func (r *Posts) List(limit, offset int) ([]*models.Post, error) {
	return r.store.ListPosts(limit, offset)
}

// Liked returns the actor's local like state for a post.
func (r *Posts) Liked(postID, actorID string) (bool, error) {
	return r.store.GetPostLike(postID, actorID)
}
