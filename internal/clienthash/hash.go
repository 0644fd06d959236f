// Package clienthash implements the broker's pipe-id-to-filter index (the
// "dbhash"): for each connection, the set of topic filters it currently
// holds a subscription on, so DISCONNECT teardown can enumerate and remove
// every matching topic-index entry in O(1) per filter without a tree scan.
package clienthash

import "sync"

// Entry is one filter a pipe is subscribed to, with the QoS it was
// granted — kept alongside the filter so a resumed session can restore
// the original subscription QoS rather than guessing one.
type Entry struct {
	Topic string
	QoS   byte
}

// Hash is a concurrency-safe pipe id -> filter set index.
type Hash struct {
	mu     sync.Mutex
	byPipe map[uint32]map[string]byte
}

// New creates an empty client-id hash.
func New() *Hash {
	return &Hash{byPipe: make(map[uint32]map[string]byte)}
}

// Insert records that pipeID holds a subscription on filter at the given
// granted QoS.
func (h *Hash) Insert(pipeID uint32, filter string, qos byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byPipe[pipeID]
	if !ok {
		set = make(map[string]byte)
		h.byPipe[pipeID] = set
	}
	set[filter] = qos
}

// Remove drops the (pipeID, filter) entry, if present.
func (h *Hash) Remove(pipeID uint32, filter string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byPipe[pipeID]
	if !ok {
		return
	}
	delete(set, filter)
	if len(set) == 0 {
		delete(h.byPipe, pipeID)
	}
}

// Enumerate returns every filter pipeID currently holds a subscription on,
// with the QoS it was granted.
func (h *Hash) Enumerate(pipeID uint32) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byPipe[pipeID]
	if !ok {
		return nil
	}
	out := make([]Entry, 0, len(set))
	for f, qos := range set {
		out = append(out, Entry{Topic: f, QoS: qos})
	}
	return out
}

// Drop removes every filter entry for pipeID, as called on DISCONNECT
// teardown after the caller has unwound each filter from the topic index.
func (h *Hash) Drop(pipeID uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byPipe, pipeID)
}

// Has reports whether pipeID holds any subscription at all.
func (h *Hash) Has(pipeID uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.byPipe[pipeID]
	return ok
}
