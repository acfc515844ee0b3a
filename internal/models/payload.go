package models

import (
	"encoding/json"
	"fmt"
)

// Action names a remote operation. The set is closed: every action has
// exactly one payload type, decoded by DecodePayload.
type Action string

const (
	ActionSendMessage   Action = "send_message"
	ActionEditMessage   Action = "edit_message"
	ActionDeleteMessage Action = "delete_message"
	ActionCreatePost    Action = "create_post"
	ActionEditPost      Action = "edit_post"
	ActionDeletePost    Action = "delete_post"
	ActionCreateStory   Action = "create_story"
	ActionDeleteStory   Action = "delete_story"
	ActionToggleLike    Action = "toggle_like"
)

// Endpoint returns the logical remote operation target for the action.
// The value is opaque to the sync engine; the API client maps it to a path.
func (a Action) Endpoint() string {
	return "v1/" + string(a)
}

// IsCreate reports whether the action creates a remote entity and therefore
// returns a canonical id to reconcile against.
func (a Action) IsCreate() bool {
	switch a {
	case ActionSendMessage, ActionCreatePost, ActionCreateStory:
		return true
	}
	return false
}

// EntityTable returns the entity table an action operates on.
func (a Action) EntityTable() (string, error) {
	switch a {
	case ActionSendMessage, ActionEditMessage, ActionDeleteMessage:
		return "messages", nil
	case ActionCreatePost, ActionEditPost, ActionDeletePost, ActionToggleLike:
		return "posts", nil
	case ActionCreateStory, ActionDeleteStory:
		return "stories", nil
	}
	return "", fmt.Errorf("unknown action %q", a)
}

// CanonicalIDField returns the response data field carrying the canonical id
// for create-class actions, or "" for actions that do not reconcile an id.
func (a Action) CanonicalIDField() string {
	switch a {
	case ActionSendMessage:
		return "messageId"
	case ActionCreatePost:
		return "postId"
	case ActionCreateStory:
		return "storyId"
	}
	return ""
}

// Payload is the closed set of request bodies, one variant per Action.
// SetTarget rewrites the id the request acts upon; it is applied at dispatch
// time with the queue item's current reference id, so a payload enqueued
// against a local id targets the canonical id once reconciliation has run.
// The stored payload snapshot itself is never mutated.
type Payload interface {
	Action() Action
	SetTarget(id string)
}

// SendMessagePayload is the request body for send_message.
type SendMessagePayload struct {
	LocalID         string `json:"localId"`
	ChatID          string `json:"chatId"`
	SenderID        string `json:"senderId"`
	Text            string `json:"text"`
	MediaRef        string `json:"mediaRef,omitempty"`
	ClientTimestamp int64  `json:"clientTimestamp"`
}

func (SendMessagePayload) Action() Action { return ActionSendMessage }
func (p *SendMessagePayload) SetTarget(id string) { p.LocalID = id }

// EditMessagePayload is the request body for edit_message.
type EditMessagePayload struct {
	MessageID       string `json:"messageId"`
	Text            string `json:"text"`
	ClientTimestamp int64  `json:"clientTimestamp"`
}

func (EditMessagePayload) Action() Action { return ActionEditMessage }
func (p *EditMessagePayload) SetTarget(id string) { p.MessageID = id }

// DeleteMessagePayload is the request body for delete_message.
type DeleteMessagePayload struct {
	MessageID string `json:"messageId"`
}

func (DeleteMessagePayload) Action() Action { return ActionDeleteMessage }
func (p *DeleteMessagePayload) SetTarget(id string) { p.MessageID = id }

// CreatePostPayload is the request body for create_post.
type CreatePostPayload struct {
	LocalID         string   `json:"localId"`
	AuthorID        string   `json:"authorId"`
	Caption         string   `json:"caption"`
	MediaRefs       []string `json:"mediaRefs,omitempty"`
	ClientTimestamp int64    `json:"clientTimestamp"`
}

func (CreatePostPayload) Action() Action { return ActionCreatePost }
func (p *CreatePostPayload) SetTarget(id string) { p.LocalID = id }

// EditPostPayload is the request body for edit_post.
type EditPostPayload struct {
	PostID          string `json:"postId"`
	Caption         string `json:"caption"`
	ClientTimestamp int64  `json:"clientTimestamp"`
}

func (EditPostPayload) Action() Action { return ActionEditPost }
func (p *EditPostPayload) SetTarget(id string) { p.PostID = id }

// DeletePostPayload is the request body for delete_post.
type DeletePostPayload struct {
	PostID string `json:"postId"`
}

func (DeletePostPayload) Action() Action { return ActionDeletePost }
func (p *DeletePostPayload) SetTarget(id string) { p.PostID = id }

// CreateStoryPayload is the request body for create_story.
type CreateStoryPayload struct {
	LocalID         string `json:"localId"`
	AuthorID        string `json:"authorId"`
	MediaRef        string `json:"mediaRef"`
	Caption         string `json:"caption,omitempty"`
	ClientTimestamp int64  `json:"clientTimestamp"`
}

func (CreateStoryPayload) Action() Action { return ActionCreateStory }
func (p *CreateStoryPayload) SetTarget(id string) { p.LocalID = id }

// DeleteStoryPayload is the request body for delete_story.
type DeleteStoryPayload struct {
	StoryID string `json:"storyId"`
}

func (DeleteStoryPayload) Action() Action { return ActionDeleteStory }
func (p *DeleteStoryPayload) SetTarget(id string) { p.StoryID = id }

// ToggleLikePayload is the request body for toggle_like. Liked carries the
// desired end state; two queue items delivered in order converge the remote
// to the last local state.
type ToggleLikePayload struct {
	PostID          string `json:"postId"`
	UserID          string `json:"userId"`
	Liked           bool   `json:"liked"`
	ClientTimestamp int64  `json:"clientTimestamp"`
}

func (ToggleLikePayload) Action() Action { return ActionToggleLike }
func (p *ToggleLikePayload) SetTarget(id string) { p.PostID = id }

// DecodePayload deserializes a stored payload snapshot into its typed
// variant. An unknown action is a permanent error, not a retryable one.
func DecodePayload(action Action, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch action {
	case ActionSendMessage:
		p = &SendMessagePayload{}
	case ActionEditMessage:
		p = &EditMessagePayload{}
	case ActionDeleteMessage:
		p = &DeleteMessagePayload{}
	case ActionCreatePost:
		p = &CreatePostPayload{}
	case ActionEditPost:
		p = &EditPostPayload{}
	case ActionDeletePost:
		p = &DeletePostPayload{}
	case ActionCreateStory:
		p = &CreateStoryPayload{}
	case ActionDeleteStory:
		p = &DeleteStoryPayload{}
	case ActionToggleLike:
		p = &ToggleLikePayload{}
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", action, err)
	}
	return p, nil
}
