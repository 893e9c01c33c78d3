package types

import "strings"

// LifecycleState is the service-reported state of a reply.
type LifecycleState string

const (
	StatePending    LifecycleState = "pending"
	StateIncomplete LifecycleState = "incomplete"
	StateStreaming  LifecycleState = "streaming"
	StateComplete   LifecycleState = "complete"
	StateError      LifecycleState = "error"
	StateCancelled  LifecycleState = "cancelled"
)

// IsTerminal reports whether no further updates will arrive for a reply in this state.
func (s LifecycleState) IsTerminal() bool {
	switch LifecycleState(strings.ToLower(string(s))) {
	case StateComplete, StateError, StateCancelled:
		return true
	default:
		return false
	}
}

// RawUpdate is one incremental or final state of a reply as pushed by the service.
// Text is the full reply text so far, not a delta.
type RawUpdate struct {
	Text             string         `json:"text"`
	ConversationID   int64          `json:"chatId"`
	ChatCode         string         `json:"chatCode,omitempty"`
	ReplyID          int64          `json:"messageId"`
	State            LifecycleState `json:"state"`
	Author           string         `json:"author,omitempty"`
	SuggestedReplies []string       `json:"suggestedReplies,omitempty"`
}

// Chunk is the caller-visible unit of a reply stream.
type Chunk struct {
	FullText         string
	DeltaText        string
	ConversationID   int64
	ChatCode         string
	ReplyID          int64
	State            LifecycleState
	SuggestedReplies []string
}

// Terminal reports whether this chunk is the last one of its stream.
func (c Chunk) Terminal() bool {
	return c.State.IsTerminal()
}

// DeltaText returns the suffix of next beyond prev. When next does not extend prev
// (shorter or diverging text) the whole of next is returned.
func DeltaText(prev, next string) string {
	if len(next) >= len(prev) && strings.HasPrefix(next, prev) {
		return next[len(prev):]
	}
	return next
}

// ChunkFromUpdate builds the chunk emitted for u given the previously emitted full text.
func ChunkFromUpdate(prev string, u RawUpdate) Chunk {
	var suggested []string
	if len(u.SuggestedReplies) > 0 {
		suggested = append([]string(nil), u.SuggestedReplies...)
	}
	return Chunk{
		FullText:         u.Text,
		DeltaText:        DeltaText(prev, u.Text),
		ConversationID:   u.ConversationID,
		ChatCode:         u.ChatCode,
		ReplyID:          u.ReplyID,
		State:            u.State,
		SuggestedReplies: suggested,
	}
}

// Delivery is the outcome of routing one update to the request registry.
type Delivery int

const (
	// DeliveryDropped means no request was waiting for the update.
	DeliveryDropped Delivery = iota
	// DeliveryQueued means the update was appended to a request's queue.
	DeliveryQueued
	// DeliveryBuffered means the update is held until its request learns its
	// conversation id.
	DeliveryBuffered
)
