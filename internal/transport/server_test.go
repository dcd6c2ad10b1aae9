package transport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/coco/internal/clock"
	"github.com/mesh-intelligence/coco/pkg/types"
)

const waitTimeout = 5 * time.Second

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeServer is a coco server double: an httptest server with the REST
// routes and a websocket endpoint at /coco.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	// ackLogin makes the server answer every login frame.
	ackLogin bool

	upgrader websocket.Upgrader
	accepted chan *serverConn
	requests chan *http.Request
	bodies   chan string

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
}

// serverConn is the server side of one channel.
type serverConn struct {
	conn   *websocket.Conn
	auth   string
	frames chan []byte
	closed chan struct{}
}

func newFakeServer(t *testing.T, ackLogin bool) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		t:        t,
		ackLogin: ackLogin,
		accepted: make(chan *serverConn, 16),
		requests: make(chan *http.Request, 16),
		bodies:   make(chan string, 16),
		handlers: make(map[string]http.HandlerFunc),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/coco", fs.serveChannel)
	mux.HandleFunc("/", fs.serveREST)
	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)
	return fs
}

// handle installs a REST handler for "METHOD /path".
func (fs *fakeServer) handle(route string, h http.HandlerFunc) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.handlers[route] = h
}

func (fs *fakeServer) serveREST(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	fs.requests <- r
	fs.bodies <- string(body)
	fs.mu.Lock()
	h, ok := fs.handlers[r.Method+" "+r.URL.Path]
	fs.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (fs *fakeServer) serveChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sc := &serverConn{
		conn:   conn,
		auth:   r.Header.Get("Authorization"),
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
	fs.accepted <- sc
	go func() {
		defer close(sc.closed)
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			sc.frames <- frame
			if fs.ackLogin && strings.Contains(string(frame), `"msg_type":"login"`) {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"msg_type":"login","success":true}`))
			}
		}
	}()
}

func (fs *fakeServer) next(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-fs.accepted:
		return sc
	case <-time.After(waitTimeout):
		t.Fatal("no channel accepted")
		return nil
	}
}

func (fs *fakeServer) noConnection(t *testing.T) {
	t.Helper()
	select {
	case <-fs.accepted:
		t.Fatal("unexpected channel accepted")
	case <-time.After(100 * time.Millisecond):
	}
}

func (sc *serverConn) frame(t *testing.T) []byte {
	t.Helper()
	select {
	case f := <-sc.frames:
		return f
	case <-time.After(waitTimeout):
		t.Fatal("no frame received")
		return nil
	}
}

func (sc *serverConn) send(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, sc.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// drop closes the TCP connection without a close frame.
func (sc *serverConn) drop() { sc.conn.UnderlyingConn().Close() }

func (sc *serverConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-sc.closed:
	case <-time.After(waitTimeout):
		t.Fatal("server side of channel not closed")
	}
}

// events records connection events as strings.
type events struct {
	ch chan string
}

func newEvents() *events { return &events{ch: make(chan string, 64)} }

func (e *events) ConnectionEstablished()          { e.ch <- "established" }
func (e *events) ConnectionClosed()               { e.ch <- "closed" }
func (e *events) ConnectionFailed(error)          { e.ch <- "failed" }
func (e *events) RequestFailed(error)             { e.ch <- "request_failed" }
func (e *events) MessageRejected(error)           { e.ch <- "rejected" }
func (e *events) MessageReceived(m types.Message) { e.ch <- "message:" + m.Kind }

func (e *events) next(t *testing.T) string {
	t.Helper()
	select {
	case ev := <-e.ch:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("no event")
		return ""
	}
}

func (e *events) expect(t *testing.T, want ...string) {
	t.Helper()
	for _, w := range want {
		require.Equal(t, w, e.next(t))
	}
}

func (e *events) none(t *testing.T, s *Session) {
	t.Helper()
	s.Flush()
	select {
	case ev := <-e.ch:
		t.Fatalf("unexpected event %q", ev)
	default:
	}
}

// memCreds is an in-memory CredentialStore.
type memCreds struct {
	mu    sync.Mutex
	token string
}

func (m *memCreds) Token() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return "", types.ErrNoToken
	}
	return m.token, nil
}

func (m *memCreds) SetToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *memCreds) ClearToken() error { return m.SetToken("") }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newSession(t *testing.T, fs *fakeServer, mutate func(*Config)) (*Session, *events, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(epoch)
	cfg := Config{
		BaseURL:        fs.srv.URL,
		ReconnectDelay: time.Minute,
		Clock:          fake,
		Logger:         quietLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ev := newEvents()
	s.AddListener(ev)
	return s, ev, fake
}

func jsonHandler(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
