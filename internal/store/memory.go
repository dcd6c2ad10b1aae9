package store

import (
	"sync"

	"github.com/mesh-intelligence/coco/pkg/types"
)

// Memory is a types.CredentialStore that lives only as long as the process.
type Memory struct {
	mu    sync.Mutex
	token string
}

// NewMemory returns an empty store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Token() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return "", types.ErrNoToken
	}
	return m.token, nil
}

func (m *Memory) SetToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *Memory) ClearToken() error { return m.SetToken("") }
