package tokenstore

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBackend wraps a MemoryBackend and counts reads.
type countingBackend struct {
	*MemoryBackend
	gets atomic.Int32
}

func (c *countingBackend) Get(key string) (string, error) {
	c.gets.Add(1)
	return c.MemoryBackend.Get(key)
}

// failingBackend fails every write.
type failingBackend struct {
	*MemoryBackend
}

func (failingBackend) Put(string, string) error { return errors.New("disk full") }
func (failingBackend) Delete(string) error      { return errors.New("disk full") }

func TestStore_ReadThroughCache(t *testing.T) {
	b := &countingBackend{MemoryBackend: NewMemoryBackend()}
	require.NoError(t, b.Put(KeyAccessToken, "acc"))

	s := New(b, nil)

	for range 3 {
		tok, err := s.AccessToken()
		require.NoError(t, err)
		assert.Equal(t, "acc", tok)
	}

	assert.Equal(t, int32(1), b.gets.Load(), "value should be served from cache after first read")
}

func TestStore_AbsentEntryIsRereadFromBackend(t *testing.T) {
	b := &countingBackend{MemoryBackend: NewMemoryBackend()}
	s := New(b, nil)

	tok, err := s.RefreshToken()
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, b.Put(KeyRefreshToken, "late"))

	tok, err = s.RefreshToken()
	require.NoError(t, err)
	assert.Equal(t, "late", tok)
}

func TestStore_WriteThrough(t *testing.T) {
	b := NewMemoryBackend()
	s := New(b, nil)

	require.NoError(t, s.SetTokens("acc", "ref"))

	v, _ := b.Get(KeyAccessToken)
	assert.Equal(t, "acc", v)
	v, _ = b.Get(KeyRefreshToken)
	assert.Equal(t, "ref", v)

	require.NoError(t, s.SetAccessToken(""))

	v, _ = b.Get(KeyAccessToken)
	assert.Empty(t, v)

	tok, err := s.AccessToken()
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestStore_FailedWriteKeepsCache(t *testing.T) {
	mem := NewMemoryBackend()
	require.NoError(t, mem.Put(KeyAccessToken, "old"))

	s := New(failingBackend{MemoryBackend: mem}, nil)

	_, err := s.AccessToken()
	require.NoError(t, err)

	require.Error(t, s.SetAccessToken("new"))

	tok, err := s.AccessToken()
	require.NoError(t, err)
	assert.Equal(t, "old", tok)
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	b := NewMemoryBackend()
	s := New(b, nil)

	require.NoError(t, s.SetTokens("acc", "ref"))
	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())

	acc, err := s.AccessToken()
	require.NoError(t, err)
	assert.Empty(t, acc)

	ref, err := s.RefreshToken()
	require.NoError(t, err)
	assert.Empty(t, ref)
}

func TestStore_Invalidate(t *testing.T) {
	b := NewMemoryBackend()
	s := New(b, nil)

	require.NoError(t, s.SetAccessToken("acc"))
	require.NoError(t, b.Put(KeyAccessToken, "rotated-elsewhere"))

	tok, _ := s.AccessToken()
	assert.Equal(t, "acc", tok)

	s.Invalidate()

	tok, _ = s.AccessToken()
	assert.Equal(t, "rotated-elsewhere", tok)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New(NewMemoryBackend(), nil)

	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if i%2 == 0 {
				_ = s.SetAccessToken("tok")
			} else {
				_, _ = s.AccessToken()
			}
		}()
	}

	wg.Wait()

	tok, err := s.AccessToken()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
}

func TestOpen_Kinds(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		kind string
		path string
	}{
		{"file", KindFile, filepath.Join(dir, "tokens.json")},
		{"sqlite", KindSQLite, filepath.Join(dir, "tokens.db")},
		{"memory", KindMemory, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, closeFn, err := Open(tt.kind, tt.path, nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = closeFn() })

			require.NoError(t, s.SetTokens("acc", "ref"))

			acc, err := s.AccessToken()
			require.NoError(t, err)
			assert.Equal(t, "acc", acc)
		})
	}
}

func TestOpen_UnknownKind(t *testing.T) {
	_, closeFn, err := Open("redis", "", nil)
	require.Error(t, err)
	assert.NotNil(t, closeFn)
	assert.Contains(t, err.Error(), "unknown backend kind")
}

func TestOpen_FilePersistsAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")

	first, _, err := Open(KindFile, path, nil)
	require.NoError(t, err)
	require.NoError(t, first.SetTokens("acc", "ref"))

	second, _, err := Open(KindFile, path, nil)
	require.NoError(t, err)

	ref, err := second.RefreshToken()
	require.NoError(t, err)
	assert.Equal(t, "ref", ref)
}
