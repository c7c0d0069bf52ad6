package license

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store with the same conditional-update semantics
// as the SQL and Mongo adapters.
type memStore struct {
	mu       sync.Mutex
	byHash   map[string]*License
	writes   int
	failWith error

	// When gateSize > 0 the first gateSize lookups block until all of them
	// have arrived, forcing concurrent validators to read the same state.
	gateSize int
	arrived  int
	gate     chan struct{}
}

func newMemStore() *memStore {
	return &memStore{byHash: make(map[string]*License)}
}

func (s *memStore) withGate(n int) *memStore {
	s.gateSize = n
	s.gate = make(chan struct{})
	return s
}

func copyLicense(l *License) *License {
	c := *l
	if l.HWID != nil {
		h := *l.HWID
		c.HWID = &h
	}
	if l.LastSeen != nil {
		t := *l.LastSeen
		c.LastSeen = &t
	}
	if l.BoundAt != nil {
		t := *l.BoundAt
		c.BoundAt = &t
	}
	return &c
}

func (s *memStore) get(keyHash string) *License {
	s.mu.Lock()
	defer s.mu.Unlock()
	lic, ok := s.byHash[keyHash]
	if !ok {
		return nil
	}
	return copyLicense(lic)
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memStore) findByID(id uuid.UUID) *License {
	for _, lic := range s.byHash {
		if lic.ID == id {
			return lic
		}
	}
	return nil
}

func (s *memStore) GetLicenseByHash(_ context.Context, keyHash string) (*License, error) {
	s.mu.Lock()
	if s.failWith != nil {
		s.mu.Unlock()
		return nil, s.failWith
	}
	lic, ok := s.byHash[keyHash]
	var out *License
	if ok {
		out = copyLicense(lic)
	}
	var wait chan struct{}
	if s.gate != nil && s.arrived < s.gateSize {
		s.arrived++
		if s.arrived == s.gateSize {
			close(s.gate)
		}
		wait = s.gate
	}
	s.mu.Unlock()

	if wait != nil {
		<-wait
	}
	if !ok {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *memStore) BindLicense(_ context.Context, id uuid.UUID, hwid string, seenAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return false, s.failWith
	}
	lic := s.findByID(id)
	if lic == nil || !lic.Active || lic.HWID != nil {
		return false, nil
	}
	h := hwid
	lic.HWID = &h
	lic.LastSeen = &seenAt
	lic.BoundAt = &seenAt
	s.writes++
	return true, nil
}

func (s *memStore) TouchLicense(_ context.Context, id uuid.UUID, hwid string, seenAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return false, s.failWith
	}
	lic := s.findByID(id)
	if lic == nil || !lic.Active || lic.HWID == nil || *lic.HWID != hwid {
		return false, nil
	}
	if lic.LastSeen == nil || seenAt.After(*lic.LastSeen) {
		lic.LastSeen = &seenAt
	}
	s.writes++
	return true, nil
}

func (s *memStore) CreateLicense(_ context.Context, lic *License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if _, ok := s.byHash[lic.KeyHash]; ok {
		return ErrConflict
	}
	s.byHash[lic.KeyHash] = copyLicense(lic)
	s.writes++
	return nil
}

func (s *memStore) SetLicenseActive(_ context.Context, keyHash string, active, clearHWID bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	lic, ok := s.byHash[keyHash]
	if !ok {
		return ErrNotFound
	}
	lic.Active = active
	if clearHWID {
		lic.HWID = nil
		lic.BoundAt = nil
	}
	s.writes++
	return nil
}

func (s *memStore) DeleteLicense(_ context.Context, keyHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if _, ok := s.byHash[keyHash]; ok {
		delete(s.byHash, keyHash)
		s.writes++
	}
	return nil
}

func (s *memStore) ListLicenses(_ context.Context) ([]*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]*License, 0, len(s.byHash))
	for _, lic := range s.byHash {
		out = append(out, copyLicense(lic))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) LicenseStats(_ context.Context, onlineSince time.Time) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	stats := &Stats{}
	for _, lic := range s.byHash {
		stats.Total++
		if lic.Active {
			stats.Active++
		}
		if lic.HWID != nil {
			stats.Bound++
		}
		if lic.LastSeen != nil && lic.LastSeen.After(onlineSince) {
			stats.Online++
		}
	}
	return stats, nil
}

var errStoreDown = errors.New("connection refused")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
