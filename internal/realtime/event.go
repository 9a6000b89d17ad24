package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/blackmichael/debate-feed/internal/domain"
)

// Recognized push event discriminators. Anything else on the channel is
// ignored so new server-side event kinds cannot break old clients.
const (
	eventPostReply   = "post_reply"
	eventUsersTyping = "post_users_typing"
)

// ReplyEvent is a reply-created push notification. The reply is provisional
// until a poll confirms it; CreatedBy and CreatedAt are only present when the
// server echoes the stored record.
type ReplyEvent struct {
	PostID    int64
	UserID    int64
	Message   string
	CreatedBy *domain.UserDetail
	CreatedAt time.Time
}

// TypingEvent carries the display names currently typing.
type TypingEvent struct {
	Names []string
}

// pushEvent is the decoded discriminated union carried by one push frame.
type pushEvent struct {
	Type   string
	Reply  *ReplyEvent
	Typing *TypingEvent
}

func parseEvent(data []byte) (*pushEvent, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	event := &pushEvent{Type: raw.Type}

	switch raw.Type {
	case eventPostReply:
		var rr struct {
			PostID    int64              `json:"post_id"`
			UserID    int64              `json:"user_id"`
			Message   string             `json:"message"`
			CreatedBy *domain.UserDetail `json:"created_by_detail"`
			CreatedAt string             `json:"created_at"`
		}
		if err := json.Unmarshal(data, &rr); err != nil {
			return nil, fmt.Errorf("unmarshal reply event: %w", err)
		}

		reply := &ReplyEvent{
			PostID:    rr.PostID,
			UserID:    rr.UserID,
			Message:   rr.Message,
			CreatedBy: rr.CreatedBy,
		}
		if rr.CreatedAt != "" {
			ts, err := time.Parse(time.RFC3339, rr.CreatedAt)
			if err != nil {
				return nil, fmt.Errorf("unmarshal reply timestamp: %w", err)
			}
			reply.CreatedAt = ts
		}
		event.Reply = reply

	case eventUsersTyping:
		var tr struct {
			Names []string `json:"message"`
		}
		if err := json.Unmarshal(data, &tr); err != nil {
			return nil, fmt.Errorf("unmarshal typing event: %w", err)
		}
		event.Typing = &TypingEvent{Names: tr.Names}
	}

	return event, nil
}

// ReplyMessage is the outbound frame for sending a reply over the push
// channel.
type ReplyMessage struct {
	Type    string `json:"type"`
	PostID  int64  `json:"post_id"`
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
}

// NewReplyMessage builds an outbound reply frame for the given post.
func NewReplyMessage(postID, userID int64, body string) ReplyMessage {
	return ReplyMessage{
		Type:    eventPostReply,
		PostID:  postID,
		UserID:  userID,
		Message: body,
	}
}
