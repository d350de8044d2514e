package secrets

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/ctfer-io/ctfd-deploy/pkg/errs"
)

// Memory is an in-process store used by tests and local dry-runs.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

var (
	_ Store  = (*Memory)(nil)
	_ Pinger = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{values: map[string]string{}}
}

func (s *Memory) Get(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	if !ok || v == "" {
		return "", &errs.ErrCredentialUnavailable{Name: name, Sub: errors.New("secret has no current value")}
	}
	return v, nil
}

func (s *Memory) Ping(context.Context, string) error { return nil }

func (s *Memory) Put(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return nil
}
