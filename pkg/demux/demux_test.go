package demux

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/poechat/pkg/observer"
	"github.com/go-go-golems/poechat/pkg/tracker"
	"github.com/go-go-golems/poechat/pkg/types"
)

type eventLog struct {
	mu     sync.Mutex
	events []observer.Event
}

func (l *eventLog) Emit(e observer.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(kind observer.Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func updateEnvelope(t *testing.T, u types.RawUpdate) string {
	t.Helper()
	env, err := NewUpdateEnvelope(u)
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return string(b)
}

func frameOf(t *testing.T, msgs ...string) []byte {
	t.Helper()
	b, err := json.Marshal(Frame{Messages: msgs})
	require.NoError(t, err)
	return b
}

func TestHandleFrame_RoutesUpdatesInOrder(t *testing.T) {
	tr := tracker.New(0)
	e, err := tr.Register(1, 42)
	require.NoError(t, err)
	events := &eventLog{}
	d := New(tr, events)

	res := d.HandleFrame(frameOf(t,
		updateEnvelope(t, types.RawUpdate{Text: "H", ConversationID: 42, State: types.StateStreaming}),
		updateEnvelope(t, types.RawUpdate{Text: "Hi", ConversationID: 42, State: types.StateComplete}),
	))
	require.Equal(t, Result{Envelopes: 2, Routed: 2}, res)
	require.Equal(t, 2, e.Pending())
	require.Equal(t, 2, events.count(observer.KindMessage))

	c, ok := e.Next()
	require.True(t, ok)
	require.Equal(t, "H", c.DeltaText)
}

func TestHandleFrame_UnrecognizedTagsIgnored(t *testing.T) {
	tr := tracker.New(0)
	e, err := tr.Register(1, 42)
	require.NoError(t, err)
	events := &eventLog{}
	d := New(tr, events)

	other := `{"message_type":"refetchChannel","payload":{"unique_id":"messageAdded:42","data":{"messageAdded":{"text":"x","state":"complete"}}}}`
	for i := 0; i < 2; i++ {
		res := d.HandleFrame(frameOf(t, other))
		require.Equal(t, 1, res.Ignored)
		require.Equal(t, 0, res.Routed)
	}
	require.Equal(t, 0, e.Pending())
	require.Equal(t, 0, events.count(observer.KindMessage))
	require.Equal(t, 0, events.count(observer.KindError))
}

func TestHandleFrame_UnknownConversationDroppedSilently(t *testing.T) {
	tr := tracker.New(0)
	e, err := tr.Register(1, 42)
	require.NoError(t, err)
	events := &eventLog{}
	d := New(tr, events)

	res := d.HandleFrame(frameOf(t, updateEnvelope(t, types.RawUpdate{Text: "x", ConversationID: 7, State: types.StateComplete})))
	require.Equal(t, 1, res.Dropped)
	require.Equal(t, 0, e.Pending())
	require.Equal(t, 0, events.count(observer.KindError))
	require.Equal(t, 0, events.count(observer.KindMessage))
}

func TestHandleFrame_BufferedUpdateEmitsOnReplay(t *testing.T) {
	events := &eventLog{}
	var d *Demultiplexer
	tr := tracker.New(0, tracker.WithOnReplay(func(u types.RawUpdate) { d.Replayed(u) }))
	e, err := tr.Register(1, 0)
	require.NoError(t, err)
	d = New(tr, events)

	res := d.HandleFrame(frameOf(t, updateEnvelope(t, types.RawUpdate{Text: "H", ConversationID: 42, State: types.StateStreaming})))
	require.Equal(t, 1, res.Buffered)
	require.Equal(t, 0, res.Dropped)
	require.Equal(t, 0, events.count(observer.KindMessage))

	require.NoError(t, tr.Bind(1, 42))
	require.Equal(t, 1, e.Pending())
	require.Equal(t, 1, events.count(observer.KindMessage))
}

func TestHandleFrame_BadEnvelopeDoesNotAbortSiblings(t *testing.T) {
	tr := tracker.New(0)
	e, err := tr.Register(1, 42)
	require.NoError(t, err)
	events := &eventLog{}
	d := New(tr, events)

	res := d.HandleFrame(frameOf(t,
		`{not json`,
		updateEnvelope(t, types.RawUpdate{Text: "ok", ConversationID: 42, State: types.StateComplete}),
	))
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 1, res.Routed)
	require.Equal(t, 1, e.Pending())
	require.Equal(t, 1, events.count(observer.KindError))

	events.mu.Lock()
	var errEv observer.Event
	for _, ev := range events.events {
		if ev.Kind == observer.KindError {
			errEv = ev
		}
	}
	events.mu.Unlock()
	require.True(t, errors.Is(errEv.Err, types.ErrMalformedFrame))
}

func TestHandleFrame_MalformedOuterFrame(t *testing.T) {
	events := &eventLog{}
	d := New(tracker.New(0), events)

	res := d.HandleFrame([]byte(`[1,2`))
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 0, res.Envelopes)
	require.Equal(t, 1, events.count(observer.KindError))
}

func TestHandleFrame_InvalidUniqueID(t *testing.T) {
	tr := tracker.New(0)
	events := &eventLog{}
	d := New(tr, events)

	bad := `{"message_type":"subscriptionUpdate","payload":{"unique_id":"messageAdded","data":{"messageAdded":{"text":"x"}}}}`
	res := d.HandleFrame(frameOf(t, bad))
	require.Equal(t, 1, res.Failed)
}

func TestHandleFrame_SkipsHumanEcho(t *testing.T) {
	tr := tracker.New(0)
	e, err := tr.Register(1, 42)
	require.NoError(t, err)
	d := New(tr, nil, WithSkipAuthors("human"))

	res := d.HandleFrame(frameOf(t,
		updateEnvelope(t, types.RawUpdate{Text: "hi", ConversationID: 42, Author: "human", State: types.StateComplete}),
		updateEnvelope(t, types.RawUpdate{Text: "Hello", ConversationID: 42, Author: "echoBot", State: types.StateComplete}),
	))
	require.Equal(t, 1, res.Ignored)
	require.Equal(t, 1, res.Routed)
	c, ok := e.Next()
	require.True(t, ok)
	require.Equal(t, "Hello", c.FullText)
}

func TestEnvelopeUpdate_FillsConversationFromKey(t *testing.T) {
	raw := `{"message_type":"subscriptionUpdate","payload":{"unique_id":"messageAdded:1234","subscription_name":"messageAdded","data":{"messageAdded":{"text":"x","state":"incomplete","messageId":5}}}}`
	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	convID, u, err := env.Update()
	require.NoError(t, err)
	require.Equal(t, int64(1234), convID)
	require.Equal(t, int64(1234), u.ConversationID)
	require.Equal(t, int64(5), u.ReplyID)
	require.Equal(t, types.StateIncomplete, u.State)
}

func TestParseUniqueID(t *testing.T) {
	prefix, id, err := ParseUniqueID("messageAdded:99")
	require.NoError(t, err)
	require.Equal(t, "messageAdded", prefix)
	require.Equal(t, int64(99), id)

	_, _, err = ParseUniqueID("messageAdded:abc")
	require.Error(t, err)
	_, _, err = ParseUniqueID("messageAdded:0")
	require.Error(t, err)
}
