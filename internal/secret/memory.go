package secret

import "sync"

// MemoryStore is an in-process Store for tests and headless environments
// where no keychain service is available. Contents do not survive process
// restart, which makes any encrypted cache keyed through it ephemeral.
type MemoryStore struct {
	mu      sync.Mutex
	secrets map[string]string
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

func (s *MemoryStore) Read(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.secrets[name]
	if !ok {
		return "", ErrNotFound
	}

	return value, nil
}

func (s *MemoryStore) Write(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets[name] = value

	return nil
}

func (s *MemoryStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.secrets, name)

	return nil
}
