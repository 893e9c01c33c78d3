package channel

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Conn is the read side of an open push connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

var _ Dialer = WebsocketDialer{}

func NewWebsocketDialer(handshakeTimeout time.Duration) WebsocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return WebsocketDialer{Dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}}
}

func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "ws dial failed with status %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "ws dial failed")
	}
	return conn, nil
}
