package tokenstore

import "sync"

// MemoryBackend keeps entries in process memory. Entries do not survive a
// restart; it backs ephemeral sessions and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]string)}
}

func (m *MemoryBackend) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.entries[key], nil
}

func (m *MemoryBackend) Put(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = value

	return nil
}

func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)

	return nil
}
