package chatstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryTranscriptStore is a size-limited TranscriptStore. Each conversation
// keeps at most maxEntriesPerConv entries, oldest evicted first.
type InMemoryTranscriptStore struct {
	mu                sync.Mutex
	maxEntriesPerConv int
	convs             map[int64][]TranscriptEntry
}

var _ TranscriptStore = &InMemoryTranscriptStore{}

func NewInMemoryTranscriptStore(maxEntriesPerConv int) *InMemoryTranscriptStore {
	if maxEntriesPerConv <= 0 {
		maxEntriesPerConv = 1000
	}
	return &InMemoryTranscriptStore{
		maxEntriesPerConv: maxEntriesPerConv,
		convs:             map[int64][]TranscriptEntry{},
	}
}

func (s *InMemoryTranscriptStore) Close() error { return nil }

func (s *InMemoryTranscriptStore) Append(_ context.Context, entry TranscriptEntry) error {
	if s == nil {
		return errors.New("in-memory transcript store: nil store")
	}
	entry, err := normalizeEntry(entry, nowMs())
	if err != nil {
		return errors.Wrap(err, "in-memory transcript store")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.convs[entry.ConversationID]
	for i := range entries {
		if entries[i].ID == entry.ID {
			entries[i].Text = entry.Text
			entries[i].State = entry.State
			entries[i].ReplyID = entry.ReplyID
			return nil
		}
	}
	entries = append(entries, entry)
	if over := len(entries) - s.maxEntriesPerConv; over > 0 {
		entries = append([]TranscriptEntry(nil), entries[over:]...)
	}
	s.convs[entry.ConversationID] = entries
	return nil
}

func (s *InMemoryTranscriptStore) List(_ context.Context, q TranscriptQuery) ([]TranscriptEntry, error) {
	if s == nil {
		return nil, errors.New("in-memory transcript store: nil store")
	}
	bot := strings.TrimSpace(q.Bot)

	s.mu.Lock()
	out := []TranscriptEntry{}
	for convID, entries := range s.convs {
		if q.ConversationID != 0 && convID != q.ConversationID {
			continue
		}
		for _, e := range entries {
			if bot != "" && e.Bot != bot {
				continue
			}
			if q.SinceMs > 0 && e.CreatedAtMs < q.SinceMs {
				continue
			}
			out = append(out, e)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAtMs < out[j].CreatedAtMs })
	if limit := normalizeLimit(q.Limit); len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *InMemoryTranscriptStore) Conversations(_ context.Context, limit int) ([]ConversationSummary, error) {
	if s == nil {
		return nil, errors.New("in-memory transcript store: nil store")
	}
	s.mu.Lock()
	out := make([]ConversationSummary, 0, len(s.convs))
	for convID, entries := range s.convs {
		c := ConversationSummary{ConversationID: convID, Messages: len(entries)}
		for _, e := range entries {
			if e.ChatCode != "" {
				c.ChatCode = e.ChatCode
			}
			if e.Bot != "" {
				c.Bot = e.Bot
			}
			if e.CreatedAtMs > c.LastActivityMs {
				c.LastActivityMs = e.CreatedAtMs
			}
		}
		out = append(out, c)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityMs > out[j].LastActivityMs })
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
