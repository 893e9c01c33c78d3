package tracker

import (
	"sync"

	"github.com/go-go-golems/poechat/pkg/types"
)

// Entry is the pending state of one in-flight send: its update queue and the
// full text emitted so far. The demultiplexer appends, the stream producer dequeues.
type Entry struct {
	RequestID int64

	mu             sync.Mutex
	conversationID int64
	queue          []types.RawUpdate
	lastText       string
	err            error
	released       bool
}

func newEntry(requestID, conversationID int64) *Entry {
	return &Entry{RequestID: requestID, conversationID: conversationID}
}

// ConversationID returns the bound conversation, or 0 while unbound.
func (e *Entry) ConversationID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversationID
}

// Append adds u to the end of the queue. Updates appended after release are dropped.
func (e *Entry) Append(u types.RawUpdate) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return false
	}
	e.queue = append(e.queue, u)
	return true
}

// Next dequeues the oldest update and returns the chunk it produces.
func (e *Entry) Next() (types.Chunk, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return types.Chunk{}, false
	}
	u := e.queue[0]
	e.queue[0] = types.RawUpdate{}
	e.queue = e.queue[1:]
	chunk := types.ChunkFromUpdate(e.lastText, u)
	e.lastText = u.Text
	return chunk, true
}

// Pending returns the number of queued updates.
func (e *Entry) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// AccumulatedText returns the full text of the last dequeued update.
func (e *Entry) AccumulatedText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastText
}

// Fail records err; it is surfaced once the queue is drained. The first error wins.
func (e *Entry) Fail(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.mu.Unlock()
}

// Err returns the failure recorded with Fail.
func (e *Entry) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Released reports whether the entry was removed from its tracker.
func (e *Entry) Released() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

func (e *Entry) markReleased() {
	e.mu.Lock()
	e.released = true
	e.queue = nil
	e.mu.Unlock()
}

func (e *Entry) bind(conversationID int64) {
	e.mu.Lock()
	e.conversationID = conversationID
	e.mu.Unlock()
}
