package demux

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/poechat/pkg/types"
)

const (
	// SubscriptionUpdate is the message-type tag of envelopes carrying reply state.
	SubscriptionUpdate = "subscriptionUpdate"
	// DefaultSubscription is the data key the reply state is nested under.
	DefaultSubscription = "messageAdded"
)

// Frame is one physical push frame. Messages holds independently encoded envelopes.
type Frame struct {
	Messages []string `json:"messages"`
	MinSeq   int64    `json:"min_seq,omitempty"`
}

// Envelope is one logical update inside a frame.
type Envelope struct {
	MessageType string          `json:"message_type"`
	Payload     EnvelopePayload `json:"payload"`
}

type EnvelopePayload struct {
	UniqueID         string                     `json:"unique_id"`
	SubscriptionName string                     `json:"subscription_name,omitempty"`
	Data             map[string]json.RawMessage `json:"data"`
}

// DecodeFrame parses the outer frame object.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, errors.Wrapf(types.ErrMalformedFrame, "decode frame: %v", err)
	}
	return f, nil
}

// DecodeEnvelope parses one envelope string.
func DecodeEnvelope(raw string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Envelope{}, errors.Wrapf(types.ErrMalformedFrame, "decode envelope: %v", err)
	}
	return env, nil
}

// ParseUniqueID splits a composite key "<prefix>:<conversationId>".
func ParseUniqueID(uniqueID string) (string, int64, error) {
	prefix, rest, ok := strings.Cut(uniqueID, ":")
	if !ok {
		return "", 0, errors.Wrapf(types.ErrMalformedFrame, "unique_id %q has no conversation id", uniqueID)
	}
	if i := strings.Index(rest, ":"); i >= 0 {
		rest = rest[:i]
	}
	id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil || id == 0 {
		return "", 0, errors.Wrapf(types.ErrMalformedFrame, "unique_id %q has invalid conversation id", uniqueID)
	}
	return prefix, id, nil
}

// Update extracts the conversation id and reply state from a subscription update envelope.
func (env Envelope) Update() (int64, types.RawUpdate, error) {
	prefix, convID, err := ParseUniqueID(env.Payload.UniqueID)
	if err != nil {
		return 0, types.RawUpdate{}, err
	}
	raw, ok := env.Payload.Data[prefix]
	if !ok && env.Payload.SubscriptionName != "" {
		raw, ok = env.Payload.Data[env.Payload.SubscriptionName]
	}
	if !ok {
		raw, ok = env.Payload.Data[DefaultSubscription]
	}
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return 0, types.RawUpdate{}, errors.Wrapf(types.ErrMalformedFrame, "envelope %q carries no reply payload", env.Payload.UniqueID)
	}
	var u types.RawUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return 0, types.RawUpdate{}, errors.Wrapf(types.ErrMalformedFrame, "decode reply payload: %v", err)
	}
	if u.ConversationID == 0 {
		u.ConversationID = convID
	}
	return convID, u, nil
}

// EncodeFrame builds a push frame from envelopes; used by fakes and tests.
func EncodeFrame(envelopes ...Envelope) ([]byte, error) {
	f := Frame{Messages: make([]string, 0, len(envelopes))}
	for _, env := range envelopes {
		b, err := json.Marshal(env)
		if err != nil {
			return nil, errors.Wrap(err, "encode envelope")
		}
		f.Messages = append(f.Messages, string(b))
	}
	return json.Marshal(f)
}

// NewUpdateEnvelope wraps u in a subscription update envelope keyed by its conversation.
func NewUpdateEnvelope(u types.RawUpdate) (Envelope, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "encode update")
	}
	return Envelope{
		MessageType: SubscriptionUpdate,
		Payload: EnvelopePayload{
			UniqueID:         DefaultSubscription + ":" + strconv.FormatInt(u.ConversationID, 10),
			SubscriptionName: DefaultSubscription,
			Data:             map[string]json.RawMessage{DefaultSubscription: b},
		},
	}, nil
}
