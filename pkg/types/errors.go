package types

import "github.com/pkg/errors"

var (
	// ErrConnectionFailed is returned when channel metadata could not be fetched or the
	// push connection could not be opened.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrMalformedFrame marks a push frame or envelope that could not be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrDuplicateRequest is returned when a request or conversation identifier is already tracked.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrSendRejected is returned when the service did not accept a message.
	ErrSendRejected = errors.New("send rejected")
	// ErrStaleStream terminates streams whose push connection closed before a terminal update.
	ErrStaleStream = errors.New("stale stream")
	// ErrStreamCanceled is returned by a stream after Cancel.
	ErrStreamCanceled = errors.New("stream canceled")
	// ErrClientClosed is returned once the client has been closed.
	ErrClientClosed = errors.New("client closed")
)
