// Package remote defines the request/response contract with the pulsefeed
// backend and an HTTP implementation of it. The backend's business logic is
// opaque here; only the envelope matters to the sync engine.
package remote

import (
	"context"

	"github.com/tsengko/pulsefeed-sync/internal/models"
)

// Response is the backend's JSON envelope. Success false with a 2xx status is
// an application-level failure; non-2xx is a transport failure regardless of
// body content.
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// CanonicalID extracts the server-assigned id for create-class actions.
// Returns "" for actions that do not reconcile an id or when the field is
// missing from the response.
func (r *Response) CanonicalID(action models.Action) string {
	field := action.CanonicalIDField()
	if field == "" || r.Data == nil {
		return ""
	}
	if id, ok := r.Data[field].(string); ok {
		return id
	}
	return ""
}

// Client is the remote API contract: one request/response method per action.
// The key parameter is the queue item's idempotency key, sent with every
// attempt so the server can deduplicate a redelivery after a lost ack.
type Client interface {
	SendMessage(ctx context.Context, key string, p *models.SendMessagePayload) (*Response, error)
	EditMessage(ctx context.Context, key string, p *models.EditMessagePayload) (*Response, error)
	DeleteMessage(ctx context.Context, key string, p *models.DeleteMessagePayload) (*Response, error)
	CreatePost(ctx context.Context, key string, p *models.CreatePostPayload) (*Response, error)
	EditPost(ctx context.Context, key string, p *models.EditPostPayload) (*Response, error)
	DeletePost(ctx context.Context, key string, p *models.DeletePostPayload) (*Response, error)
	CreateStory(ctx context.Context, key string, p *models.CreateStoryPayload) (*Response, error)
	DeleteStory(ctx context.Context, key string, p *models.DeleteStoryPayload) (*Response, error)
	ToggleLike(ctx context.Context, key string, p *models.ToggleLikePayload) (*Response, error)
}
