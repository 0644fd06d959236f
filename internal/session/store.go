// Package session implements the client-id keyed session store: cached
// subscription filters and pending qos>0 deliveries for clients that
// connected with clean-start=false, kept process-lived (no on-disk
// journal) and consumed on the client's next CONNECT.
package session

import (
	"sync"
	"time"

	"github.com/lattice-edge/brokercore/internal/cparam"
)

// Pending is one qos>0 outbound message waiting for a reconnecting client.
type Pending struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
	Dup     bool
}

// Filter is one subscription filter a resuming session restores, together
// with the QoS it was originally granted.
type Filter struct {
	Topic string
	QoS   byte
}

// Record is the cached state for a single client id's session.
type Record struct {
	Params   *cparam.Param
	LastPipe uint32
	Filters  []Filter
	Pending  []Pending
	SavedAt  time.Time
}

// Store is a concurrency-safe client id -> Record map.
type Store struct {
	mu    sync.Mutex
	byCID map[string]*Record
}

// New creates an empty session store.
func New() *Store {
	return &Store{byCID: make(map[string]*Record)}
}

// Save caches rec under clientID, created on disconnect when clean-start
// is false. Overwrites any prior record for the same client id.
func (s *Store) Save(clientID string, rec *Record) {
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCID[clientID] = rec
}

// Expire deletes every cached session whose v5 SessionExpiryInterval has
// elapsed since it was saved. Sessions with no configured expiry (v3.1.1,
// or v5 with SessionExpiryInterval 0) are process-lived and never expire
// here.
func (s *Store) Expire(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for cid, rec := range s.byCID {
		if rec.Params == nil || rec.Params.SessionExpiryInterval == 0 {
			continue
		}
		deadline := rec.SavedAt.Add(time.Duration(rec.Params.SessionExpiryInterval) * time.Second)
		if now.After(deadline) {
			expired = append(expired, cid)
			delete(s.byCID, cid)
		}
	}
	return expired
}

// Take removes and returns the session for clientID, consuming it — the
// spec requires the session be deleted on the next CONNECT of that id.
func (s *Store) Take(clientID string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byCID[clientID]
	if ok {
		delete(s.byCID, clientID)
	}
	return rec, ok
}

// Delete drops any cached session for clientID without returning it, used
// when a clean-start=true CONNECT arrives and any prior session must be
// discarded rather than resumed.
func (s *Store) Delete(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byCID, clientID)
}

// Has reports whether a session is currently cached for clientID.
func (s *Store) Has(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byCID[clientID]
	return ok
}
