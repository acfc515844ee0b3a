package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/tsengko/pulsefeed-sync/internal/errors"
	"github.com/tsengko/pulsefeed-sync/internal/logging"
	"github.com/tsengko/pulsefeed-sync/internal/models"
)

// HTTPClient implements Client over HTTP with JSON bodies. A circuit breaker
// wraps the transport so a hard-down backend trips open and queue items fail
// fast instead of each burning the full timeout.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPClient creates an HTTPClient. The timeout covers connect, request
// write, and response read for a single call.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	settings := gobreaker.Settings{
		Name:    "pulsefeed-api",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("Remote API breaker state changed", map[string]interface{}{
				"from": from.String(),
				"to":   to.String(),
			})
		},
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// post performs one request and decodes the response envelope. Transport and
// application failures come back as typed errors; the caller never inspects
// HTTP details.
func (c *HTTPClient) post(ctx context.Context, endpoint, key string, body interface{}) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPayloadInvalid, "failed to encode request body", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/"+endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Idempotency-Key", key)

		res, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()

		// Non-2xx is a transport-level failure regardless of body content.
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			io.Copy(io.Discard, res.Body)
			return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
		}

		var envelope Response
		if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &envelope, nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteTransport, endpoint, err)
	}
	return result.(*Response), nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, key string, p *models.SendMessagePayload) (*Response, error) {
	return c.post(ctx, models.ActionSendMessage.Endpoint(), key, p)
}

func (c *HTTPClient) EditMessage(ctx context.Context, key string, p *models.EditMessagePayload) (*Response, error) {
	return c.post(ctx, models.ActionEditMessage.Endpoint(), key, p)
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, key string, p *models.DeleteMessagePayload) (*Response, error) {
	return c.post(ctx, models.ActionDeleteMessage.Endpoint(), key, p)
}

func (c *HTTPClient) CreatePost(ctx context.Context, key string, p *models.CreatePostPayload) (*Response, error) {
	return c.post(ctx, models.ActionCreatePost.Endpoint(), key, p)
}

func (c *HTTPClient) EditPost(ctx context.Context, key string, p *models.EditPostPayload) (*Response, error) {
	return c.post(ctx, models.ActionEditPost.Endpoint(), key, p)
}

func (c *HTTPClient) DeletePost(ctx context.Context, key string, p *models.DeletePostPayload) (*Response, error) {
	return c.post(ctx, models.ActionDeletePost.Endpoint(), key, p)
}

func (c *HTTPClient) CreateStory(ctx context.Context, key string, p *models.CreateStoryPayload) (*Response, error) {
	return c.post(ctx, models.ActionCreateStory.Endpoint(), key, p)
}

func (c *HTTPClient) DeleteStory(ctx context.Context, key string, p *models.DeleteStoryPayload) (*Response, error) {
	return c.post(ctx, models.ActionDeleteStory.Endpoint(), key, p)
}

func (c *HTTPClient) ToggleLike(ctx context.Context, key string, p *models.ToggleLikePayload) (*Response, error) {
	return c.post(ctx, models.ActionToggleLike.Endpoint(), key, p)
}

var _ Client = (*HTTPClient)(nil)
