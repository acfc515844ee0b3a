package models

import (
	"encoding/json"
	"testing"
)

// TestDecodePayloadRoundTrip verifies each action decodes to its concrete
// payload type and survives a marshal/decode cycle with fields intact.
func TestDecodePayloadRoundTrip(t *testing.T) {
	raw, err := json.Marshal(&SendMessagePayload{
		LocalID:         "local_msg_1_0001",
		ChatID:          "chat-1",
		SenderID:        "user-1",
		Text:            "hello",
		ClientTimestamp: 42,
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	decoded, err := DecodePayload(ActionSendMessage, raw)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	p, ok := decoded.(*SendMessagePayload)
	if !ok {
		t.Fatalf("Expected *SendMessagePayload, got %T", decoded)
	}
	if p.Text != "hello" || p.ChatID != "chat-1" || p.ClientTimestamp != 42 {
		t.Errorf("Decoded payload lost fields: %+v", p)
	}
	if p.Action() != ActionSendMessage {
		t.Errorf("Expected action %s, got %s", ActionSendMessage, p.Action())
	}
}

// TestDecodePayloadAllActions verifies the dispatch table covers every action.
func TestDecodePayloadAllActions(t *testing.T) {
	actions := []Action{
		ActionSendMessage, ActionEditMessage, ActionDeleteMessage,
		ActionCreatePost, ActionEditPost, ActionDeletePost,
		ActionCreateStory, ActionDeleteStory, ActionToggleLike,
	}
	for _, action := range actions {
		decoded, err := DecodePayload(action, []byte("{}"))
		if err != nil {
			t.Errorf("DecodePayload(%s) failed: %v", action, err)
			continue
		}
		if decoded.Action() != action {
			t.Errorf("Expected action %s, got %s", action, decoded.Action())
		}
	}
}

// TestDecodePayloadUnknownAction verifies an unrecognized action is rejected
// instead of falling through to a generic decode.
func TestDecodePayloadUnknownAction(t *testing.T) {
	if _, err := DecodePayload(Action("sideload_reel"), []byte("{}")); err == nil {
		t.Error("Expected error for unknown action")
	}
}

// TestDecodePayloadMalformedJSON verifies invalid bodies are rejected.
func TestDecodePayloadMalformedJSON(t *testing.T) {
	if _, err := DecodePayload(ActionCreatePost, []byte("{not json")); err == nil {
		t.Error("Expected error for malformed payload")
	}
}

// TestSetTargetRewritesReference verifies SetTarget points each payload at
// the given entity id, which is how a reconciled canonical id reaches a
// follow-up action at dispatch time.
func TestSetTargetRewritesReference(t *testing.T) {
	edit := &EditMessagePayload{MessageID: "local_msg_1_0001", Text: "v2"}
	edit.SetTarget("srv_msg_9")
	if edit.MessageID != "srv_msg_9" {
		t.Errorf("Expected messageId srv_msg_9, got %s", edit.MessageID)
	}

	like := &ToggleLikePayload{PostID: "local_post_1_0001", UserID: "user-1", Liked: true}
	like.SetTarget("srv_post_3")
	if like.PostID != "srv_post_3" {
		t.Errorf("Expected postId srv_post_3, got %s", like.PostID)
	}
	if !like.Liked {
		t.Error("Expected SetTarget to leave other fields alone")
	}
}

// TestActionEndpoint verifies the endpoint derivation for each action.
func TestActionEndpoint(t *testing.T) {
	if got := ActionSendMessage.Endpoint(); got != "v1/send_message" {
		t.Errorf("Expected v1/send_message, got %s", got)
	}
	if got := ActionToggleLike.Endpoint(); got != "v1/toggle_like" {
		t.Errorf("Expected v1/toggle_like, got %s", got)
	}
}

// TestActionEntityTable maps every action onto the table its reference id
// lives in; toggle_like piggybacks on posts.
func TestActionEntityTable(t *testing.T) {
	cases := map[Action]string{
		ActionSendMessage:   "messages",
		ActionEditMessage:   "messages",
		ActionDeleteMessage: "messages",
		ActionCreatePost:    "posts",
		ActionEditPost:      "posts",
		ActionDeletePost:    "posts",
		ActionToggleLike:    "posts",
		ActionCreateStory:   "stories",
		ActionDeleteStory:   "stories",
	}
	for action, want := range cases {
		got, err := action.EntityTable()
		if err != nil {
			t.Errorf("EntityTable(%s) failed: %v", action, err)
			continue
		}
		if got != want {
			t.Errorf("Expected table %s for %s, got %s", want, action, got)
		}
	}
	if _, err := Action("bogus").EntityTable(); err == nil {
		t.Error("Expected error for unknown action")
	}
}

// TestActionIsCreate verifies only the three create-class actions reconcile ids.
func TestActionIsCreate(t *testing.T) {
	creates := map[Action]bool{
		ActionSendMessage: true, ActionCreatePost: true, ActionCreateStory: true,
		ActionEditMessage: false, ActionDeletePost: false, ActionToggleLike: false,
	}
	for action, want := range creates {
		if got := action.IsCreate(); got != want {
			t.Errorf("Expected IsCreate=%v for %s, got %v", want, action, got)
		}
	}
}

// TestCanonicalIDField verifies the response field each create reconciles from.
func TestCanonicalIDField(t *testing.T) {
	if got := ActionSendMessage.CanonicalIDField(); got != "messageId" {
		t.Errorf("Expected messageId, got %s", got)
	}
	if got := ActionCreateStory.CanonicalIDField(); got != "storyId" {
		t.Errorf("Expected storyId, got %s", got)
	}
	if got := ActionDeletePost.CanonicalIDField(); got != "" {
		t.Errorf("Expected no canonical field for delete_post, got %s", got)
	}
}

// TestRetryable covers the automatic redelivery eligibility rules.
func TestRetryable(t *testing.T) {
	cases := []struct {
		status QueueStatus
		retry  int
		want   bool
	}{
		{QueueStatusPending, 0, true},
		{QueueStatusPending, 3, true},
		{QueueStatusFailed, 2, true},
		{QueueStatusFailed, 3, false},
		{QueueStatusProcessing, 0, false},
		{QueueStatusCompleted, 0, false},
	}
	for _, tc := range cases {
		item := &SyncQueueItem{Status: tc.status, RetryCount: tc.retry}
		if got := item.Retryable(MaxRetries); got != tc.want {
			t.Errorf("Retryable(%s, retry=%d): expected %v, got %v", tc.status, tc.retry, tc.want, got)
		}
	}
}
