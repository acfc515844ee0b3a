// Package remotetest provides a scripted in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"sync"
	"time"

	"github.com/tsengko/pulsefeed-sync/internal/models"
	"github.com/tsengko/pulsefeed-sync/internal/remote"
)

// Call records one request the client received.
type Call struct {
	Action  models.Action
	Key     string
	Payload models.Payload
}

// Client implements remote.Client with a programmable handler. The zero value
// accepts every request with an empty successful response.
type Client struct {
	// Handler decides the outcome of each call. Nil means success.
	Handler func(action models.Action, key string, p models.Payload) (*remote.Response, error)
	// Delay is applied before each call is recorded, honoring ctx cancellation.
	Delay time.Duration

	mu    sync.Mutex
	calls []Call
}

var _ remote.Client = (*Client)(nil)

// Calls returns a copy of every recorded call in arrival order.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// Actions returns just the action of each recorded call, in order.
func (c *Client) Actions() []models.Action {
	calls := c.Calls()
	out := make([]models.Action, len(calls))
	for i, call := range calls {
		out[i] = call.Action
	}
	return out
}

func (c *Client) do(ctx context.Context, action models.Action, key string, p models.Payload) (*remote.Response, error) {
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	c.calls = append(c.calls, Call{Action: action, Key: key, Payload: p})
	handler := c.Handler
	c.mu.Unlock()
	if handler == nil {
		return &remote.Response{Success: true}, nil
	}
	return handler(action, key, p)
}

func (c *Client) SendMessage(ctx context.Context, key string, p *models.SendMessagePayload) (*remote.Response, error) {
	return c.do(ctx, models.ActionSendMessage, key, p)
}

func (c *Client) EditMessage(ctx context.Context, key string, p *models.EditMessagePayload) (*remote.Response, error) {
	return c.do(ctx, models.ActionEditMessage, key, p)
}

func (c *Client) DeleteMessage(ctx context.Context, key string, p *models.DeleteMessagePayload) (*remote.Response, error) {
	return c.do(ctx, models.ActionDeleteMessage, key, p)
}

func (c *Client) CreatePost(ctx context.Context, key string, p *models.CreatePostPayload) (*remote.Response, error) {
	return c.do(ctx, models.ActionCreatePost, key, p)
}

func (c *Client) EditPost(ctx context.Context, key string, p *models.EditPostPayload) (*remote.Response, error) {
	return c.do(ctx, models.ActionEditPost, key, p)
}

func (c *Client) DeletePost(ctx context.Context, key string, p *models.DeletePostPayload) (*remote.Response, error) {
	return c.do(ctx, models.ActionDeletePost, key, p)
}

func (c *Client) CreateStory(ctx context.Context, key string, p *models.CreateStoryPayload) (*remote.Response, error) {
	return c.do(ctx, models.ActionCreateStory, key, p)
}

func (c *Client) DeleteStory(ctx context.Context, key string, p *models.DeleteStoryPayload) (*remote.Response, error) {
	return c.do(ctx, models.ActionDeleteStory, key, p)
}

func (c *Client) ToggleLike(ctx context.Context, key string, p *models.ToggleLikePayload) (*remote.Response, error) {
	return c.do(ctx, models.ActionToggleLike, key, p)
}
