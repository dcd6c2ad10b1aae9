package types

import (
	"errors"
	"net/url"
	"time"
)

// Config holds the connection parameters of a coco client.
type Config struct {
	// Host is the base URL of the server's REST API, e.g. "http://localhost:8080".
	Host string `json:"host" yaml:"host" mapstructure:"host"`
	// WebSocketURL overrides the duplex channel URL. When empty it is
	// derived from Host (http→ws, https→wss) with DefaultWebSocketPath.
	WebSocketURL string `json:"ws_url" yaml:"ws_url,omitempty" mapstructure:"ws_url"`
	// HasUsers reports whether the deployment has registered accounts.
	// When false the client runs anonymously and skips the login frame.
	HasUsers bool `json:"has_users" yaml:"has_users" mapstructure:"has_users"`
	// ReconnectDelay is the pause before reconnecting after a transport
	// failure. Zero means DefaultReconnectDelay.
	ReconnectDelay time.Duration `json:"reconnect_delay" yaml:"reconnect_delay,omitempty" mapstructure:"reconnect_delay"`
	// DataDir holds the credential store and snapshot cache.
	DataDir string `json:"data_dir" yaml:"data_dir,omitempty" mapstructure:"data_dir"`
}

// Defaults applied by WithDefaults.
const (
	DefaultReconnectDelay = time.Minute
	DefaultWebSocketPath  = "/coco"
)

// Config validation errors.
var (
	ErrHostEmpty             = errors.New("host must not be empty")
	ErrHostInvalid           = errors.New("host must be an http or https URL")
	ErrWebSocketURLInvalid   = errors.New("ws_url must be a ws or wss URL")
	ErrReconnectDelayInvalid = errors.New("reconnect delay must not be negative")
)

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if c.Host == "" {
		return ErrHostEmpty
	}
	u, err := url.Parse(c.Host)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrHostInvalid
	}
	if c.WebSocketURL != "" {
		w, err := url.Parse(c.WebSocketURL)
		if err != nil || (w.Scheme != "ws" && w.Scheme != "wss") || w.Host == "" {
			return ErrWebSocketURLInvalid
		}
	}
	if c.ReconnectDelay < 0 {
		return ErrReconnectDelayInvalid
	}
	return nil
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	return c
}
