// An in-memory store that can be provided to a Client for testing purposes.

package devicepair

import (
	"context"
	"sync"
)

// Keys under which the client persists its state.
const (
	KeyDeviceInfo      = "gammaDeviceInfo"
	KeyDeviceToken     = "gammaDeviceToken"
	KeyInstallIdentity = "gammaInstallId"
)

// Storer is the persistent key-value store holding device credentials across restarts.
// Values are JSON documents.
type Storer interface {
	// Load returns the value saved under key, or ErrKeyNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save stores value under key, replacing any previous value.
	Save(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: map[string][]byte{},
	}
}

type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func (ms *MemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	v, ok := ms.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (ms *MemoryStore) Save(ctx context.Context, key string, value []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.values[key] = append([]byte(nil), value...)
	return nil
}

func (ms *MemoryStore) Delete(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.values, key)
	return nil
}

// Reset clears all values.
// This is useful for testing to isolate state between test cases.
func (ms *MemoryStore) Reset() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.values = map[string][]byte{}
}

var _ Storer = (*MemoryStore)(nil)
