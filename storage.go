package hcid

import "sync"

// Storage attributes, one value per peer address. These mirror the
// per-adapter attribute files the daemon keeps on disk. Adapter-level
// values use an empty key.
const (
	AttrLinkKeys = "linkkeys"
	AttrNames    = "names"
	AttrAliases  = "aliases"
	AttrTrusts   = "trusts"
	AttrLastSeen = "lastseen"
	AttrLastUsed = "lastused"

	AttrMode                = "mode"
	AttrOnMode              = "onmode"
	AttrDiscoverableTimeout = "discovto"
)

// Storage is the persistence surface the adapter consumes. A Storage
// handed to an Adapter is already scoped to that adapter. Get returns
// "" with a nil error when no value is stored.
type Storage interface {
	Get(attr, key string) (string, error)
	Set(attr, key, value string) error
	Delete(attr, key string) error
}

// MemoryStore is a Storage kept entirely in memory, used by tests and
// by deployments that do not care about persistence.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]map[string]string)}
}

func (s *MemoryStore) Get(attr, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[attr][key], nil
}

func (s *MemoryStore) Set(attr, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[attr] == nil {
		s.m[attr] = make(map[string]string)
	}
	s.m[attr][key] = value
	return nil
}

func (s *MemoryStore) Delete(attr, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m[attr], key)
	return nil
}
