package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// wsServer is a test push-channel endpoint. Accepted connections are handed
// to the test through the accepted channel.
type wsServer struct {
	*httptest.Server
	accepted chan *websocket.Conn
	inbound  chan string

	mu      sync.Mutex
	offered string // Sec-WebSocket-Protocol from the last handshake
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		accepted: make(chan *websocket.Conn, 4),
		inbound:  make(chan string, 16),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.offered = r.Header.Get("Sec-WebSocket-Protocol")
		s.mu.Unlock()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.accepted <- ws
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			s.inbound <- string(msg)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) offeredProtocols() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offered
}

func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-s.accepted:
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted in time")
		return nil
	}
}

func testOptions() Options {
	return Options{ReconnectInterval: 10 * time.Millisecond}
}

func waitForState(t *testing.T, c *Conn, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("connection never reached state %s (now %s)", want, c.State())
}

func TestDialerSharesOneConnPerURL(t *testing.T) {
	server := newWSServer(t)
	d := NewDialer(testOptions(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := d.Conn(ctx, server.wsURL())
	b := d.Conn(ctx, server.wsURL())
	assert.Same(t, a, b, "one underlying connection per distinct URL")

	server.accept(t)
	select {
	case <-server.accepted:
		t.Fatal("second subscriber must not open a duplicate socket")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribersReceiveFramesInOrder(t *testing.T) {
	server := newWSServer(t)
	d := NewDialer(testOptions(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := d.Conn(ctx, server.wsURL())

	var mu sync.Mutex
	var got []string
	unsubscribe := c.Subscribe(func(frame []byte) {
		mu.Lock()
		got = append(got, string(frame))
		mu.Unlock()
	})
	defer unsubscribe()

	ws := server.accept(t)
	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(msg)))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two", "three"}, got)
	assert.Equal(t, "three", string(c.LastFrame()))
}

func TestListenerPanicDoesNotBreakFanout(t *testing.T) {
	server := newWSServer(t)
	d := NewDialer(testOptions(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := d.Conn(ctx, server.wsURL())

	delivered := make(chan string, 4)
	c.Subscribe(func([]byte) { panic("faulty consumer") })
	c.Subscribe(func(frame []byte) { delivered <- string(frame) })

	ws := server.accept(t)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("still delivered")))

	select {
	case got := <-delivered:
		assert.Equal(t, "still delivered", got)
	case <-time.After(2 * time.Second):
		t.Fatal("healthy listener starved by a panicking one")
	}
}

func TestSubprotocolsOfferedInHandshake(t *testing.T) {
	server := newWSServer(t)
	d := NewDialer(testOptions(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := d.Conn(ctx, server.wsURL(), "debate-feed.v1")
	server.accept(t)
	waitForState(t, c, StateOpen)

	assert.Equal(t, "debate-feed.v1", server.offeredProtocols())
}

func TestSendWhileNotOpenIsDropped(t *testing.T) {
	c := newConn("ws://unreachable.invalid/ws", nil, testOptions(), discardLogger())

	assert.NotPanics(t, func() {
		c.Send("dropped on the floor")
	})
	assert.Equal(t, StateConnecting, c.State())
}

func TestSendReachesServer(t *testing.T) {
	server := newWSServer(t)
	d := NewDialer(testOptions(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := d.Conn(ctx, server.wsURL())
	server.accept(t)
	waitForState(t, c, StateOpen)

	c.SendJSON(NewReplyMessage(5, 1, "over the wire"))

	select {
	case got := <-server.inbound:
		assert.Contains(t, got, `"post_reply"`)
		assert.Contains(t, got, `"over the wire"`)
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the server")
	}
}

func TestReconnectsAfterServerDrop(t *testing.T) {
	server := newWSServer(t)
	d := NewDialer(testOptions(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := d.Conn(ctx, server.wsURL())
	first := server.accept(t)
	waitForState(t, c, StateOpen)

	first.Close()

	// A non-explicit closure is retryable; a second connection appears.
	server.accept(t)
	waitForState(t, c, StateOpen)
}

func TestExplicitCloseSuppressesReconnect(t *testing.T) {
	server := newWSServer(t)
	d := NewDialer(testOptions(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := d.Conn(ctx, server.wsURL())
	server.accept(t)
	waitForState(t, c, StateOpen)

	c.Close(websocket.CloseNormalClosure, "done")

	waitForState(t, c, StateClosed)
	select {
	case <-server.accepted:
		t.Fatal("explicit close must not be followed by a reconnect")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectBudget(t *testing.T) {
	opts := Options{ReconnectInterval: 5 * time.Millisecond, MaxReconnectAttempts: 3}
	d := NewDialer(opts, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Nothing listens on this address; the dial budget runs out quickly.
	c := d.Conn(ctx, "ws://127.0.0.1:1/ws")
	waitForState(t, c, StateClosed)
}
