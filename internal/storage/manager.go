package storage

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// BackendHealth is one entry of the manager's health report.
type BackendHealth struct {
	Available bool `json:"available"`
	IsDefault bool `json:"is_default"`
}

// Manager is a name -> backend registry with one designated default. All
// operations resolve a backend by name (or the default when the name is
// empty) and delegate; resolution fails soft when the backend is missing or
// unavailable, and the backend's own failure signal passes through
// unchanged.
type Manager struct {
	mu          sync.RWMutex
	backends    map[string]Backend
	defaultName string
}

func NewManager() *Manager {
	return &Manager{backends: make(map[string]Backend)}
}

// Register stores the backend under name. The first registered backend, or
// one registered with makeDefault, becomes the default.
func (m *Manager) Register(name string, b Backend, makeDefault bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.backends[name] = b
	if makeDefault || m.defaultName == "" {
		m.defaultName = name
	}
	slog.Info("registered storage backend", "name", name, "available", b.Available())
}

// Resolve returns the named backend (default when name is empty) only if it
// reports available. A nil result means the operation is impossible right
// now; callers must not retry internally.
func (m *Manager) Resolve(name string) Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if name == "" {
		name = m.defaultName
	}
	if name == "" {
		slog.Error("no storage backend specified and no default set")
		return nil
	}

	b, ok := m.backends[name]
	if !ok {
		slog.Error("storage backend not found", "name", name)
		return nil
	}
	if !b.Available() {
		slog.Warn("storage backend not available", "name", name)
		return nil
	}
	return b
}

func (m *Manager) Upload(ctx context.Context, r io.Reader, key, name string, opts UploadOptions) bool {
	b := m.Resolve(name)
	if b == nil {
		return false
	}
	return b.Upload(ctx, r, key, opts)
}

func (m *Manager) UploadFromPath(ctx context.Context, path, key, name string) bool {
	b := m.Resolve(name)
	if b == nil {
		return false
	}
	return b.UploadFromPath(ctx, path, key)
}

func (m *Manager) URL(key, name string) (string, bool) {
	b := m.Resolve(name)
	if b == nil {
		return "", false
	}
	return b.URL(key)
}

func (m *Manager) Download(ctx context.Context, key, name string) ([]byte, bool) {
	b := m.Resolve(name)
	if b == nil {
		return nil, false
	}
	return b.Download(ctx, key)
}

func (m *Manager) Delete(ctx context.Context, key, name string) bool {
	b := m.Resolve(name)
	if b == nil {
		return false
	}
	return b.Delete(ctx, key)
}

func (m *Manager) Exists(ctx context.Context, key, name string) bool {
	b := m.Resolve(name)
	if b == nil {
		return false
	}
	return b.Exists(ctx, key)
}

// HealthReport returns availability and default status per backend. No side
// effects; backends are not re-probed.
func (m *Manager) HealthReport() map[string]BackendHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := make(map[string]BackendHealth, len(m.backends))
	for name, b := range m.backends {
		report[name] = BackendHealth{
			Available: b.Available(),
			IsDefault: name == m.defaultName,
		}
	}
	return report
}
