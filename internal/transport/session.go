// Package transport implements the transport session: the REST request
// operations of a coco server and the reconnecting websocket duplex
// channel that streams schema messages.
//
// A Session moves through Disconnected, Connecting and Connected. A
// transport failure returns it to Disconnected and schedules one reconnect
// after the configured delay; an explicit Disconnect cancels that
// reconnect and suppresses further ones until the next Connect.
//
// Connection listeners are notified on a dedicated event goroutine, in
// channel order, so callbacks may call Session methods.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/coco/internal/clock"
	"github.com/mesh-intelligence/coco/internal/listeners"
	"github.com/mesh-intelligence/coco/pkg/types"
)

// State is the lifecycle state of the duplex channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config configures a Session. BaseURL is required; zero fields take
// defaults.
type Config struct {
	// BaseURL is the REST root, e.g. "http://localhost:8080".
	BaseURL string
	// WebSocketURL defaults to BaseURL with the ws or wss scheme and
	// types.DefaultWebSocketPath appended to its path.
	WebSocketURL string
	// HasUsers selects authenticated mode: a login frame is sent on open
	// and the session is Connected only after the server acknowledges it.
	// When false the session is Connected as soon as the channel opens.
	HasUsers bool
	// ReconnectDelay defaults to types.DefaultReconnectDelay.
	ReconnectDelay time.Duration
	// HTTPClient defaults to a client without a timeout; request
	// operations are bounded only by their context.
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	// Credentials, when set, receives the token obtained by Login and
	// CreateUser.
	Credentials types.CredentialStore
	// PushTokens, when set, is asked for a device push token each time
	// the channel opens; the token rides along in the login frame.
	PushTokens func(ctx context.Context) (string, error)
	Clock      clock.Clock
	Logger     *slog.Logger
	// Metrics, when set, receives the session's collectors.
	Metrics prometheus.Registerer
	// MaxFrameSize caps one inbound frame in bytes. A larger frame fails
	// the channel. Defaults to DefaultMaxFrameSize.
	MaxFrameSize int64
}

// DefaultMaxFrameSize is the inbound frame cap used when
// Config.MaxFrameSize is zero.
const DefaultMaxFrameSize = 16 << 20

const (
	// closeTimeout bounds the wait for the server to answer a close frame.
	closeTimeout = 5 * time.Second
	// pushTokenTimeout bounds the push token lookup on channel open.
	pushTokenTimeout = 10 * time.Second
)

// Session owns the connection to one coco server.
type Session struct {
	baseURL    *url.URL
	wsURL      string
	hasUsers   bool
	delay      time.Duration
	httpClient *http.Client
	dialer     *websocket.Dialer
	creds      types.CredentialStore
	pushTokens func(ctx context.Context) (string, error)
	maxFrame   int64
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *metrics

	listeners listeners.Set[types.ConnectionListener]
	events    *listeners.Dispatcher

	// connectMu serializes Connect, so each call closes the channel the
	// previous one opened before dialing its own.
	connectMu sync.Mutex

	mu    sync.Mutex
	state State
	token string
	ch    *channel
	// gen increments whenever the live channel is replaced or dropped,
	// so a dial that finishes after being superseded can tell.
	gen uint64
	// reconnect is the pending reconnect, if any; reconnectSeq
	// identifies it to its own callback.
	reconnect    *clock.Timer
	reconnectSeq uint64
	// userClosed is set by Disconnect and cleared by Connect.
	userClosed bool
	closed     bool
}

// New validates cfg and returns a Disconnected Session.
func New(cfg Config) (*Session, error) {
	if cfg.BaseURL == "" {
		return nil, types.ErrHostEmpty
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", types.ErrHostInvalid, cfg.BaseURL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	wsURL := cfg.WebSocketURL
	if wsURL == "" {
		wsURL = deriveWebSocketURL(base)
	} else if u, err := url.Parse(wsURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", types.ErrWebSocketURLInvalid, wsURL)
	}
	if cfg.ReconnectDelay < 0 {
		return nil, types.ErrReconnectDelayInvalid
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = types.DefaultReconnectDelay
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		}
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		baseURL:    base,
		wsURL:      wsURL,
		hasUsers:   cfg.HasUsers,
		delay:      cfg.ReconnectDelay,
		httpClient: cfg.HTTPClient,
		dialer:     cfg.Dialer,
		creds:      cfg.Credentials,
		pushTokens: cfg.PushTokens,
		maxFrame:   cfg.MaxFrameSize,
		clock:      cfg.Clock,
		logger:     cfg.Logger.With("component", "transport"),
		metrics:    newMetrics(cfg.Metrics),
		events:     listeners.NewDispatcher(),
	}
	s.metrics.setState(Disconnected)
	return s, nil
}

func deriveWebSocketURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = base.Path + types.DefaultWebSocketPath
	u.RawQuery = ""
	return u.String()
}

// AddListener subscribes l to connection events and returns a function
// that unsubscribes it.
func (s *Session) AddListener(l types.ConnectionListener) (remove func()) {
	return s.listeners.Add(l)
}

// State returns the current channel state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the token used for the current or last channel.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// ChannelID returns the id of the live channel, or "" when there is none.
func (s *Session) ChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return ""
	}
	return s.ch.id
}

// WebSocketURL returns the duplex channel URL.
func (s *Session) WebSocketURL() string { return s.wsURL }

// Flush blocks until every event queued so far has been delivered to
// listeners. Must not be called from a listener callback.
func (s *Session) Flush() { s.events.Flush() }

// post queues f for every current listener.
func (s *Session) post(f func(types.ConnectionListener)) {
	s.events.Post(func() { s.listeners.Each(f) })
}

// setStateLocked records a state change. s.mu must be held.
func (s *Session) setStateLocked(state State) {
	if s.state != state {
		s.logger.Debug("state changed", "from", s.state.String(), "to", state.String())
	}
	s.state = state
	s.metrics.setState(state)
}
