package auth

import "sync"

// MemoryStore implements KeyStore in memory. Error fields, when set, are
// returned by the matching method.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]APIKey

	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

// NewMemoryStore creates an empty in-memory key store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]APIKey)}
}

func (m *MemoryStore) Store(key *APIKey) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if key == nil || key.Name == "" {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.Name] = *key
	return nil
}

func (m *MemoryStore) Retrieve(name string) (*APIKey, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[name]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return &key, nil
}

func (m *MemoryStore) List() ([]*APIKey, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]*APIKey, 0, len(m.keys))
	for _, key := range m.keys {
		k := key
		keys = append(keys, &k)
	}
	return keys, nil
}

func (m *MemoryStore) Delete(name string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[name]; !ok {
		return ErrKeyNotFound
	}
	delete(m.keys, name)
	return nil
}

func (m *MemoryStore) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[name]
	return ok
}

// Count returns the number of stored keys
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}
