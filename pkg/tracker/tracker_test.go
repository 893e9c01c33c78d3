package tracker

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/poechat/pkg/types"
)

func TestTracker_RegisterDuplicateRequest(t *testing.T) {
	tr := New(0)
	_, err := tr.Register(1, 0)
	require.NoError(t, err)

	_, err = tr.Register(1, 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, types.ErrDuplicateRequest))
	require.Equal(t, 1, tr.Len())
}

func TestTracker_RegisterDuplicateConversation(t *testing.T) {
	tr := New(0)
	_, err := tr.Register(1, 42)
	require.NoError(t, err)

	_, err = tr.Register(2, 42)
	require.Error(t, err)
	require.True(t, errors.Is(err, types.ErrDuplicateRequest))
}

func TestTracker_DeliverToBoundEntryPreservesOrder(t *testing.T) {
	tr := New(0)
	e, err := tr.Register(1, 42)
	require.NoError(t, err)

	require.Equal(t, types.DeliveryQueued, tr.Deliver(42, types.RawUpdate{Text: "H", State: types.StateStreaming}))
	require.Equal(t, types.DeliveryQueued, tr.Deliver(42, types.RawUpdate{Text: "Hi", State: types.StateComplete}))
	require.Equal(t, 2, e.Pending())

	c1, ok := e.Next()
	require.True(t, ok)
	require.Equal(t, "H", c1.DeltaText)
	c2, ok := e.Next()
	require.True(t, ok)
	require.Equal(t, "i", c2.DeltaText)
	require.Equal(t, "Hi", e.AccumulatedText())
	_, ok = e.Next()
	require.False(t, ok)
}

func TestTracker_DeliverUnknownConversationDropped(t *testing.T) {
	tr := New(0)
	_, err := tr.Register(1, 42)
	require.NoError(t, err)

	require.Equal(t, types.DeliveryDropped, tr.Deliver(7, types.RawUpdate{Text: "x"}))
	require.Equal(t, 0, tr.Buffered())
}

func TestTracker_BindReplaysBufferedUpdates(t *testing.T) {
	tr := New(0)
	e, err := tr.Register(1, 0)
	require.NoError(t, err)

	require.Equal(t, types.DeliveryBuffered, tr.Deliver(42, types.RawUpdate{Text: "H", State: types.StateStreaming}))
	require.Equal(t, types.DeliveryBuffered, tr.Deliver(99, types.RawUpdate{Text: "other"}))
	require.Equal(t, 2, tr.Buffered())

	require.NoError(t, tr.Bind(1, 42))
	require.Equal(t, 1, e.Pending())
	require.Equal(t, int64(42), e.ConversationID())
	// no unbound entries left, so the remaining orphan is discarded
	require.Equal(t, 0, tr.Buffered())

	require.Equal(t, types.DeliveryQueued, tr.Deliver(42, types.RawUpdate{Text: "Hi", State: types.StateComplete}))
	c, ok := e.Next()
	require.True(t, ok)
	require.Equal(t, "H", c.FullText)
	require.Equal(t, int64(42), c.ConversationID)
}

func TestTracker_OnReplayRunsOutsideLock(t *testing.T) {
	var replayed []string
	var tr *Tracker
	tr = New(0, WithOnReplay(func(u types.RawUpdate) {
		// re-entering the tracker must not deadlock
		_ = tr.Len()
		replayed = append(replayed, u.Text)
	}))
	_, err := tr.Register(1, 0)
	require.NoError(t, err)
	_, err = tr.Register(2, 0)
	require.NoError(t, err)

	tr.Deliver(42, types.RawUpdate{Text: "H"})
	tr.Deliver(42, types.RawUpdate{Text: "He"})
	tr.Deliver(43, types.RawUpdate{Text: "x"})

	require.NoError(t, tr.Bind(1, 42))
	require.Equal(t, []string{"H", "He"}, replayed)

	// binding at registration replays too
	tr.Release(2)
	_, err = tr.Register(3, 0)
	require.NoError(t, err)
	tr.Deliver(44, types.RawUpdate{Text: "y"})
	_, err = tr.Register(4, 44)
	require.NoError(t, err)
	require.Equal(t, []string{"H", "He", "y"}, replayed)
}

func TestTracker_BindErrors(t *testing.T) {
	tr := New(0)
	_, err := tr.Register(1, 0)
	require.NoError(t, err)
	_, err = tr.Register(2, 42)
	require.NoError(t, err)

	require.Error(t, tr.Bind(1, 0))
	require.Error(t, tr.Bind(3, 5))
	err = tr.Bind(1, 42)
	require.True(t, errors.Is(err, types.ErrDuplicateRequest))
	require.NoError(t, tr.Bind(2, 42))
	require.Error(t, tr.Bind(2, 43))
}

func TestTracker_OrphanBufferBounded(t *testing.T) {
	tr := New(2)
	_, err := tr.Register(1, 0)
	require.NoError(t, err)

	tr.Deliver(5, types.RawUpdate{Text: "a"})
	tr.Deliver(5, types.RawUpdate{Text: "ab"})
	tr.Deliver(5, types.RawUpdate{Text: "abc"})
	require.Equal(t, 2, tr.Buffered())

	require.NoError(t, tr.Bind(1, 5))
	e, ok := tr.Lookup(5)
	require.True(t, ok)
	c, ok := e.Next()
	require.True(t, ok)
	require.Equal(t, "ab", c.FullText)
}

func TestTracker_ReleaseRemovesBothIndexes(t *testing.T) {
	tr := New(0)
	e, err := tr.Register(1, 42)
	require.NoError(t, err)
	tr.Deliver(42, types.RawUpdate{Text: "x"})

	tr.Release(1)
	tr.Release(1)
	require.Equal(t, 0, tr.Len())
	_, ok := tr.Lookup(42)
	require.False(t, ok)
	_, ok = tr.Get(1)
	require.False(t, ok)
	require.True(t, e.Released())
	require.False(t, e.Append(types.RawUpdate{Text: "late"}))
	require.Equal(t, 0, e.Pending())

	_, err = tr.Register(1, 42)
	require.NoError(t, err)
}

func TestTracker_FailAll(t *testing.T) {
	tr := New(0)
	e1, _ := tr.Register(1, 1)
	e2, _ := tr.Register(2, 0)

	require.Equal(t, 2, tr.FailAll(types.ErrStaleStream))
	require.ErrorIs(t, e1.Err(), types.ErrStaleStream)
	require.ErrorIs(t, e2.Err(), types.ErrStaleStream)

	e1.Fail(types.ErrClientClosed)
	require.ErrorIs(t, e1.Err(), types.ErrStaleStream)
}

func TestTracker_ConcurrentDeliverAndDrain(t *testing.T) {
	tr := New(0)
	e, err := tr.Register(1, 42)
	require.NoError(t, err)

	const n = 500
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		text := ""
		for i := 0; i < n; i++ {
			text += "x"
			tr.Deliver(42, types.RawUpdate{Text: text})
		}
	}()

	got := ""
	for len(got) < n {
		if c, ok := e.Next(); ok {
			got += c.DeltaText
		}
	}
	wg.Wait()
	require.Len(t, got, n)
}
