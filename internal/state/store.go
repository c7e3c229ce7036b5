// Package state remembers the enabled client set last projected into the
// Xray config so the reconcile job can tell when the registry drifted.
package state

import (
	"sort"
	"sync"

	"github.com/najahiiii/xray-panel/internal/model"
)

type entry struct {
	tag        string
	credential string
}

type Store struct {
	mu          sync.RWMutex
	lastVersion int64
	clients     map[string]entry
}

func New() *Store {
	return &Store{clients: map[string]entry{}}
}

func enabled(records []model.ClientRecord) map[string]entry {
	out := make(map[string]entry, len(records))
	for _, r := range records {
		if r.Enabled() {
			out[r.Username] = entry{tag: r.InboundTag(), credential: r.Credential}
		}
	}
	return out
}

// IsUnchanged reports whether version and the enabled subset of records
// match the last Update.
func (s *Store) IsUnchanged(version int64, records []model.ClientRecord) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := enabled(records)
	if version != s.lastVersion || len(next) != len(s.clients) {
		return false
	}
	for name, e := range next {
		if existing, ok := s.clients[name]; !ok || existing != e {
			return false
		}
	}
	return true
}

// SameClients ignores the version and compares only the enabled set.
func (s *Store) SameClients(records []model.ClientRecord) bool {
	s.mu.RLock()
	version := s.lastVersion
	s.mu.RUnlock()
	return s.IsUnchanged(version, records)
}

func (s *Store) Update(version int64, records []model.ClientRecord) {
	next := enabled(records)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastVersion = version
	s.clients = next
}

// Usernames returns the enabled usernames in sorted order.
func (s *Store) Usernames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.clients))
	for name := range s.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastVersion
}
