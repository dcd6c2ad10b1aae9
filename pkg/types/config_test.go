package types

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "empty host returns ErrHostEmpty",
			config:  Config{},
			wantErr: ErrHostEmpty,
		},
		{
			name:    "non-http scheme returns ErrHostInvalid",
			config:  Config{Host: "ftp://example.com"},
			wantErr: ErrHostInvalid,
		},
		{
			name:    "missing host part returns ErrHostInvalid",
			config:  Config{Host: "http://"},
			wantErr: ErrHostInvalid,
		},
		{
			name:    "http ws_url returns ErrWebSocketURLInvalid",
			config:  Config{Host: "http://localhost:8080", WebSocketURL: "http://localhost:8080/coco"},
			wantErr: ErrWebSocketURLInvalid,
		},
		{
			name:    "negative delay returns ErrReconnectDelayInvalid",
			config:  Config{Host: "http://localhost:8080", ReconnectDelay: -time.Second},
			wantErr: ErrReconnectDelayInvalid,
		},
		{
			name:   "valid http config",
			config: Config{Host: "http://localhost:8080"},
		},
		{
			name:   "valid https config with wss override",
			config: Config{Host: "https://coco.example.com", WebSocketURL: "wss://coco.example.com/ws"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{Host: "http://localhost:8080"}.WithDefaults()
	if cfg.ReconnectDelay != DefaultReconnectDelay {
		t.Errorf("ReconnectDelay = %v, want %v", cfg.ReconnectDelay, DefaultReconnectDelay)
	}

	cfg = Config{Host: "http://localhost:8080", ReconnectDelay: 5 * time.Second}.WithDefaults()
	if cfg.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay = %v, want 5s", cfg.ReconnectDelay)
	}
}
