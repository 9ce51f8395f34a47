package secretstore

import (
	"context"
	"sync"
)

// Memory is an in-process Backend for tests and dry runs.
type Memory struct {
	mu      sync.RWMutex
	secrets map[string]Mnemonic
}

func NewMemory() *Memory {
	return &Memory{secrets: make(map[string]Mnemonic)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Get(ctx context.Context, h Handle) (Mnemonic, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	secret, ok := m.secrets[h.Name]
	if !ok {
		return nil, ErrSecretNotFound
	}
	return secret.Clone(), nil
}

func (m *Memory) Set(ctx context.Context, h Handle, secret Mnemonic) error {
	if err := validateSet(h, secret); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.secrets[h.Name]; ok {
		old.Wipe()
	}
	m.secrets[h.Name] = secret.Clone()
	return nil
}

// Wipe zeroes and drops every stored secret.
func (m *Memory) Wipe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, secret := range m.secrets {
		secret.Wipe()
		delete(m.secrets, name)
	}
}
