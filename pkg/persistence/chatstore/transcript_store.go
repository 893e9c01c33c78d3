package chatstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Role identifies the author side of a transcript entry.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// TranscriptEntry is one recorded message of a conversation.
type TranscriptEntry struct {
	ID             string `json:"id"`
	ConversationID int64  `json:"conversation_id"`
	ChatCode       string `json:"chat_code,omitempty"`
	Bot            string `json:"bot"`
	Role           Role   `json:"role"`
	Text           string `json:"text"`
	State          string `json:"state,omitempty"`
	ReplyID        int64  `json:"reply_id,omitempty"`
	CreatedAtMs    int64  `json:"created_at_ms"`
}

// TranscriptQuery filters List. Entries come back oldest first.
type TranscriptQuery struct {
	ConversationID int64
	Bot            string
	SinceMs        int64
	Limit          int
}

// ConversationSummary aggregates the entries recorded for one conversation.
type ConversationSummary struct {
	ConversationID int64  `json:"conversation_id"`
	ChatCode       string `json:"chat_code,omitempty"`
	Bot            string `json:"bot"`
	Messages       int    `json:"messages"`
	LastActivityMs int64  `json:"last_activity_ms"`
}

// TranscriptStore keeps a local record of sent messages and final replies.
type TranscriptStore interface {
	Append(ctx context.Context, entry TranscriptEntry) error
	List(ctx context.Context, q TranscriptQuery) ([]TranscriptEntry, error)
	Conversations(ctx context.Context, limit int) ([]ConversationSummary, error)
	Close() error
}

const defaultListLimit = 200

func normalizeEntry(e TranscriptEntry, now int64) (TranscriptEntry, error) {
	if e.ConversationID == 0 {
		return e, errors.New("conversation id is zero")
	}
	switch e.Role {
	case RoleUser, RoleBot:
	default:
		return e, errors.Errorf("unknown role %q", e.Role)
	}
	e.Bot = strings.TrimSpace(e.Bot)
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAtMs <= 0 {
		e.CreatedAtMs = now
	}
	return e, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
