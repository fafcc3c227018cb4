package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a controllable in-memory Backend for manager tests.
type fakeBackend struct {
	available bool
	failOps   bool
	objects   map[string][]byte
}

func newFakeBackend(available bool) *fakeBackend {
	return &fakeBackend{available: available, objects: make(map[string][]byte)}
}

func (f *fakeBackend) Upload(ctx context.Context, r io.Reader, key string, opts UploadOptions) bool {
	if f.failOps {
		return false
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return false
	}
	f.objects[key] = data
	return true
}

func (f *fakeBackend) UploadFromPath(ctx context.Context, path, key string) bool {
	return !f.failOps
}

func (f *fakeBackend) URL(key string) (string, bool) {
	if f.failOps {
		return "", false
	}
	return "fake://" + key, true
}

func (f *fakeBackend) Download(ctx context.Context, key string) ([]byte, bool) {
	data, ok := f.objects[key]
	return data, ok && !f.failOps
}

func (f *fakeBackend) Delete(ctx context.Context, key string) bool {
	if f.failOps {
		return false
	}
	if _, ok := f.objects[key]; !ok {
		return false
	}
	delete(f.objects, key)
	return true
}

func (f *fakeBackend) Exists(ctx context.Context, key string) bool {
	_, ok := f.objects[key]
	return ok
}

func (f *fakeBackend) Available() bool { return f.available }

func TestManagerFirstRegisteredIsDefault(t *testing.T) {
	m := NewManager()
	first := newFakeBackend(true)
	second := newFakeBackend(true)

	m.Register("a", first, false)
	m.Register("b", second, false)

	assert.Same(t, Backend(first), m.Resolve(""))
}

func TestManagerExplicitDefault(t *testing.T) {
	m := NewManager()
	a := newFakeBackend(true)
	b := newFakeBackend(true)

	m.Register("a", a, false)
	m.Register("b", b, true)

	assert.Same(t, Backend(b), m.Resolve(""))
}

func TestManagerResolveUnknownAndUnavailable(t *testing.T) {
	m := NewManager()
	m.Register("down", newFakeBackend(false), false)

	assert.Nil(t, m.Resolve("missing"))
	assert.Nil(t, m.Resolve("down"))
}

func TestManagerPassThrough(t *testing.T) {
	m := NewManager()
	fb := newFakeBackend(true)
	m.Register("fake", fb, true)
	ctx := context.Background()

	require.True(t, m.Upload(ctx, bytes.NewReader([]byte("payload")), "k1", "fake", UploadOptions{}))

	data, ok := m.Download(ctx, "k1", "fake")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)

	u, ok := m.URL("k1", "fake")
	require.True(t, ok)
	assert.Equal(t, "fake://k1", u)

	assert.True(t, m.Exists(ctx, "k1", "fake"))
	assert.True(t, m.Delete(ctx, "k1", "fake"))
	assert.False(t, m.Exists(ctx, "k1", "fake"))
}

func TestManagerOperationsOnUnavailableBackendFailSoft(t *testing.T) {
	m := NewManager()
	m.Register("down", newFakeBackend(false), true)
	ctx := context.Background()

	assert.False(t, m.Upload(ctx, bytes.NewReader([]byte("x")), "k", "down", UploadOptions{}))
	_, ok := m.Download(ctx, "k", "down")
	assert.False(t, ok)
	_, ok = m.URL("k", "down")
	assert.False(t, ok)
	assert.False(t, m.Delete(ctx, "k", "down"))
}

func TestManagerHealthReport(t *testing.T) {
	m := NewManager()
	m.Register("up", newFakeBackend(true), true)
	m.Register("down", newFakeBackend(false), false)

	report := m.HealthReport()
	require.Len(t, report, 2)
	assert.True(t, report["up"].Available)
	assert.True(t, report["up"].IsDefault)
	assert.False(t, report["down"].Available)
	assert.False(t, report["down"].IsDefault)
}
