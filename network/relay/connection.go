package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Connection is the subset of a websocket connection used by the supervisor.
// WriteControl and Close may be called concurrently with the other methods; everything else
// needs one reader and one writer at a time.
type Connection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Connection = (*websocket.Conn)(nil)

// Dialer opens connections to relays.
type Dialer interface {
	Dial(ctx context.Context, url string) (Connection, error)
}

// WebsocketDialer dials relays with gorilla/websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

var _ Dialer = (*WebsocketDialer)(nil)

func NewWebsocketDialer(handshakeTimeout time.Duration, userAgent string) *WebsocketDialer {
	header := http.Header{}
	if userAgent != "" {
		header.Set("User-Agent", userAgent)
	}
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  handshakeTimeout,
			EnableCompression: true,
		},
		header: header,
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Connection, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}
