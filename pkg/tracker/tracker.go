// Package tracker keeps the registry of in-flight send requests. Entries are
// registered by request id and bound to the conversation id the service keys its
// push updates with; the demultiplexer resolves entries by conversation id.
package tracker

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/poechat/pkg/types"
)

// Tracker maps in-flight requests to their pending entries. It is safe for
// concurrent use by the send path, the connection read loop and stream consumers.
type Tracker struct {
	mu             sync.Mutex
	byRequest      map[int64]*Entry
	byConversation map[int64]*Entry
	unbound        int
	orphans        *orphanBuffer
	onReplay       func(types.RawUpdate)
}

type Option func(*Tracker)

// WithOnReplay is called, outside the tracker lock, for every buffered update
// that a later Register or Bind moves into an entry queue.
func WithOnReplay(fn func(types.RawUpdate)) Option {
	return func(t *Tracker) {
		t.onReplay = fn
	}
}

// New returns a tracker whose orphan buffer holds at most orphanLimit updates.
func New(orphanLimit int, opts ...Option) *Tracker {
	t := &Tracker{
		byRequest:      map[int64]*Entry{},
		byConversation: map[int64]*Entry{},
		orphans:        newOrphanBuffer(orphanLimit),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register creates an empty entry for requestID. A non-zero conversationID binds the
// entry immediately. It fails with ErrDuplicateRequest when either identifier is
// already tracked.
func (t *Tracker) Register(requestID, conversationID int64) (*Entry, error) {
	t.mu.Lock()
	if _, ok := t.byRequest[requestID]; ok {
		t.mu.Unlock()
		return nil, errors.Wrapf(types.ErrDuplicateRequest, "request %d already tracked", requestID)
	}
	if conversationID != 0 {
		if _, ok := t.byConversation[conversationID]; ok {
			t.mu.Unlock()
			return nil, errors.Wrapf(types.ErrDuplicateRequest, "conversation %d already has an active request", conversationID)
		}
	}
	e := newEntry(requestID, conversationID)
	t.byRequest[requestID] = e
	var replayed []types.RawUpdate
	if conversationID != 0 {
		t.byConversation[conversationID] = e
		replayed = t.replayOrphansLocked(e, conversationID)
	} else {
		t.unbound++
	}
	t.mu.Unlock()
	t.notifyReplayed(replayed)
	return e, nil
}

// Bind associates an unbound entry with conversationID and moves any buffered
// updates for that conversation into its queue.
func (t *Tracker) Bind(requestID, conversationID int64) error {
	if conversationID == 0 {
		return errors.New("tracker: conversation id is zero")
	}
	replayed, err := t.bind(requestID, conversationID)
	if err != nil {
		return err
	}
	t.notifyReplayed(replayed)
	return nil
}

func (t *Tracker) bind(requestID, conversationID int64) ([]types.RawUpdate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byRequest[requestID]
	if !ok {
		return nil, errors.Errorf("tracker: request %d not tracked", requestID)
	}
	current := e.ConversationID()
	if current == conversationID {
		return nil, nil
	}
	if current != 0 {
		return nil, errors.Errorf("tracker: request %d already bound to conversation %d", requestID, current)
	}
	if other, ok := t.byConversation[conversationID]; ok && other != e {
		return nil, errors.Wrapf(types.ErrDuplicateRequest, "conversation %d already has an active request", conversationID)
	}
	e.bind(conversationID)
	t.byConversation[conversationID] = e
	t.unbound--
	replayed := t.replayOrphansLocked(e, conversationID)
	if t.unbound == 0 {
		t.orphans.reset()
	}
	return replayed, nil
}

// replayOrphansLocked moves buffered updates for conversationID into e and
// returns the ones that were queued.
func (t *Tracker) replayOrphansLocked(e *Entry, conversationID int64) []types.RawUpdate {
	buffered := t.orphans.take(conversationID)
	replayed := buffered[:0]
	for _, u := range buffered {
		if e.Append(u) {
			replayed = append(replayed, u)
		}
	}
	if len(replayed) > 0 {
		log.Debug().Str("component", "tracker").
			Int64("request_id", e.RequestID).
			Int64("conversation_id", conversationID).
			Int("replayed", len(replayed)).
			Msg("replayed buffered updates")
	}
	return replayed
}

func (t *Tracker) notifyReplayed(replayed []types.RawUpdate) {
	if t.onReplay == nil {
		return
	}
	for _, u := range replayed {
		t.onReplay(u)
	}
}

// Lookup resolves the entry bound to conversationID.
func (t *Tracker) Lookup(conversationID int64) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byConversation[conversationID]
	return e, ok
}

// Get resolves an entry by request id.
func (t *Tracker) Get(requestID int64) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byRequest[requestID]
	return e, ok
}

// Deliver appends u to the entry bound to conversationID. Updates for unknown
// conversations are buffered only while some entry is still waiting to be bound,
// and are otherwise dropped.
func (t *Tracker) Deliver(conversationID int64, u types.RawUpdate) types.Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byConversation[conversationID]; ok {
		if e.Append(u) {
			return types.DeliveryQueued
		}
		return types.DeliveryDropped
	}
	if t.unbound > 0 {
		if u.ConversationID == 0 {
			u.ConversationID = conversationID
		}
		t.orphans.add(u)
		return types.DeliveryBuffered
	}
	return types.DeliveryDropped
}

// Release removes the entry for requestID. Releasing an unknown id is a no-op.
func (t *Tracker) Release(requestID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byRequest[requestID]
	if !ok {
		return
	}
	delete(t.byRequest, requestID)
	if convID := e.ConversationID(); convID != 0 {
		if t.byConversation[convID] == e {
			delete(t.byConversation, convID)
		}
	} else {
		t.unbound--
		if t.unbound == 0 {
			t.orphans.reset()
		}
	}
	e.markReleased()
}

// FailAll records err on every tracked entry.
func (t *Tracker) FailAll(err error) int {
	t.mu.Lock()
	entries := make([]*Entry, 0, len(t.byRequest))
	for _, e := range t.byRequest {
		entries = append(entries, e)
	}
	t.mu.Unlock()
	for _, e := range entries {
		e.Fail(err)
	}
	return len(entries)
}

// Len returns the number of tracked entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byRequest)
}

// Buffered returns the number of updates waiting in the orphan buffer.
func (t *Tracker) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.orphans.len()
}
