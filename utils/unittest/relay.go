package unittest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/relaywatch/relaywatch/model/nostr"
)

// ReceivedReq is a REQ frame received by a FakeRelay.
type ReceivedReq struct {
	SubscriptionID string
	Filters        []nostr.Filter
}

// FakeRelay is an in-process relay for tests. It records REQ and CLOSE frames, can push
// arbitrary frames to connected clients, refuse handshakes, drop connections, or go silent
// (stop reading, which also stops answering pings).
type FakeRelay struct {
	t        testing.TB
	server   *httptest.Server
	upgrader websocket.Upgrader

	// URL is the ws:// url of the relay.
	URL string

	// AutoEOSE makes the relay answer every REQ with an immediate EOSE.
	AutoEOSE bool

	mu      sync.Mutex
	conns   map[*fakeConn]struct{}
	reqs    []ReceivedReq
	closes  []string
	silence chan struct{}

	accepted  *atomic.Int64
	rejecting *atomic.Bool
	silent    *atomic.Bool
}

type fakeConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *fakeConn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// NewFakeRelay starts a relay; it is shut down when the test ends.
func NewFakeRelay(t testing.TB) *FakeRelay {
	r := &FakeRelay{
		t:         t,
		conns:     make(map[*fakeConn]struct{}),
		accepted:  atomic.NewInt64(0),
		rejecting: atomic.NewBool(false),
		silent:    atomic.NewBool(false),
	}
	r.server = httptest.NewServer(http.HandlerFunc(r.serve))
	r.URL = "ws" + strings.TrimPrefix(r.server.URL, "http")
	t.Cleanup(r.Close)
	return r
}

func (r *FakeRelay) serve(w http.ResponseWriter, req *http.Request) {
	if r.rejecting.Load() {
		http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.accepted.Inc()

	fc := &fakeConn{conn: conn}
	conn.SetPingHandler(func(data string) error {
		if r.silent.Load() {
			return nil
		}
		_ = conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		return nil
	})
	r.mu.Lock()
	r.conns[fc] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.conns, fc)
		r.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		r.waitWhileSilent()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.record(fc, data)
	}
}

func (r *FakeRelay) waitWhileSilent() {
	r.mu.Lock()
	silence := r.silence
	r.mu.Unlock()
	if silence != nil {
		<-silence
	}
}

func (r *FakeRelay) record(fc *fakeConn, data []byte) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) < 2 {
		return
	}
	var label, subID string
	if json.Unmarshal(parts[0], &label) != nil || json.Unmarshal(parts[1], &subID) != nil {
		return
	}

	switch label {
	case nostr.LabelReq:
		received := ReceivedReq{SubscriptionID: subID}
		for _, raw := range parts[2:] {
			var f nostr.Filter
			if err := json.Unmarshal(raw, &f); err == nil {
				received.Filters = append(received.Filters, f)
			}
		}
		r.mu.Lock()
		r.reqs = append(r.reqs, received)
		r.mu.Unlock()
		if r.AutoEOSE {
			frame, _ := json.Marshal([]string{nostr.LabelEOSE, subID})
			_ = fc.write(frame)
		}
	case nostr.LabelClose:
		r.mu.Lock()
		r.closes = append(r.closes, subID)
		r.mu.Unlock()
	}
}

// Send pushes a raw frame to every connected client.
func (r *FakeRelay) Send(frame []byte) {
	r.mu.Lock()
	conns := make([]*fakeConn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.write(frame)
	}
}

// SendEvent pushes an EVENT frame for the given subscription id.
func (r *FakeRelay) SendEvent(subID string, ev nostr.Event) {
	frame, err := json.Marshal([]interface{}{nostr.LabelEvent, subID, ev})
	require.NoError(r.t, err)
	r.Send(frame)
}

// SendEOSE pushes an EOSE frame for the given subscription id.
func (r *FakeRelay) SendEOSE(subID string) {
	frame, err := json.Marshal([]string{nostr.LabelEOSE, subID})
	require.NoError(r.t, err)
	r.Send(frame)
}

// DropConnections closes every client connection without a close handshake.
func (r *FakeRelay) DropConnections() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.conns {
		_ = c.conn.UnderlyingConn().Close()
	}
}

// SetSilent makes the relay stop (true) or resume (false) reading from its connections and
// answering pings.
func (r *FakeRelay) SetSilent(silent bool) {
	r.silent.Store(silent)
	r.mu.Lock()
	defer r.mu.Unlock()
	if silent && r.silence == nil {
		r.silence = make(chan struct{})
	}
	if !silent && r.silence != nil {
		close(r.silence)
		r.silence = nil
	}
}

// SetRejecting makes the relay refuse (true) or accept (false) new handshakes.
func (r *FakeRelay) SetRejecting(rejecting bool) {
	r.rejecting.Store(rejecting)
}

// Reqs returns every REQ received so far.
func (r *FakeRelay) Reqs() []ReceivedReq {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReceivedReq(nil), r.reqs...)
}

// ReqsFor returns every REQ received so far for the given subscription id.
func (r *FakeRelay) ReqsFor(subID string) []ReceivedReq {
	var matching []ReceivedReq
	for _, req := range r.Reqs() {
		if req.SubscriptionID == subID {
			matching = append(matching, req)
		}
	}
	return matching
}

// Closes returns the subscription ids of every CLOSE received so far.
func (r *FakeRelay) Closes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.closes...)
}

// Connections returns the number of currently open client connections.
func (r *FakeRelay) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Accepted returns the number of handshakes accepted since the relay started.
func (r *FakeRelay) Accepted() int64 {
	return r.accepted.Load()
}

// RequireReq waits until a REQ for the given subscription id arrives and returns the latest one.
func (r *FakeRelay) RequireReq(subID string, timeout time.Duration) ReceivedReq {
	require.Eventually(r.t, func() bool {
		return len(r.ReqsFor(subID)) > 0
	}, timeout, 10*time.Millisecond, "no REQ for %s", subID)
	reqs := r.ReqsFor(subID)
	return reqs[len(reqs)-1]
}

// Close shuts the relay down. It is safe to call more than once.
func (r *FakeRelay) Close() {
	r.SetSilent(false)
	r.mu.Lock()
	for c := range r.conns {
		_ = c.conn.Close()
	}
	r.mu.Unlock()
	r.server.CloseClientConnections()
	r.server.Close()
}
