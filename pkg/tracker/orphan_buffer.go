package tracker

import (
	"github.com/go-go-golems/poechat/pkg/types"
)

// DefaultOrphanLimit bounds the orphan buffer when no limit is given.
const DefaultOrphanLimit = 64

// orphanBuffer keeps the most recent updates for conversations nobody is bound to
// yet, so a send whose conversation id is only learned from the mutation response
// does not lose updates pushed before the response arrived.
type orphanBuffer struct {
	max     int
	updates []types.RawUpdate
}

func newOrphanBuffer(limit int) *orphanBuffer {
	if limit <= 0 {
		limit = DefaultOrphanLimit
	}
	return &orphanBuffer{max: limit, updates: make([]types.RawUpdate, 0, limit)}
}

func (b *orphanBuffer) add(u types.RawUpdate) {
	b.updates = append(b.updates, u)
	if len(b.updates) > b.max {
		drop := len(b.updates) - b.max
		b.updates = append([]types.RawUpdate(nil), b.updates[drop:]...)
	}
}

// take removes and returns the buffered updates for conversationID, oldest first.
func (b *orphanBuffer) take(conversationID int64) []types.RawUpdate {
	var out []types.RawUpdate
	kept := b.updates[:0]
	for _, u := range b.updates {
		if u.ConversationID == conversationID {
			out = append(out, u)
			continue
		}
		kept = append(kept, u)
	}
	for i := len(kept); i < len(b.updates); i++ {
		b.updates[i] = types.RawUpdate{}
	}
	b.updates = kept
	return out
}

func (b *orphanBuffer) reset() {
	b.updates = b.updates[:0]
}

func (b *orphanBuffer) len() int {
	return len(b.updates)
}
