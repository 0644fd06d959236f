// Package topic implements the broker's wildcard-aware topic index (the
// "dbtree"): a trie keyed by topic level, mapping subscription filters to
// subscriber entries, with a second instance reused for the retained-
// message store.
package topic

import (
	"strings"
	"sync"
)

// Subscriber is one entry recorded at a filter's terminal node.
type Subscriber struct {
	PipeID  uint32
	QoS     byte
	Context interface{}
}

// Retained is the payload cached at a node for the retained-message store
// variant of the index. Only populated when Index is used that way.
type Retained struct {
	Payload   []byte
	QoS       byte
	Timestamp int64
}

// node is one level of a topic filter. A '#' node is always terminal and
// has no children; a '+' node matches exactly one level.
type node struct {
	mu       sync.RWMutex
	children map[string]*node
	subs     []Subscriber
	order    []uint64 // insertion sequence per sub, parallel to subs
	retained *Retained
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Index is a topic trie. The same type backs both the live subscription
// tree and the retained-message tree; callers pick which operations to use.
type Index struct {
	root *node
	seq  uint64 // monotonic insertion counter, guarded by root's lock conventions below
	seqMu sync.Mutex
}

// New creates an empty topic index.
func New() *Index {
	return &Index{root: newNode()}
}

func splitFilter(filter string) []string {
	return strings.Split(filter, "/")
}

func (ix *Index) nextSeq() uint64 {
	ix.seqMu.Lock()
	ix.seq++
	v := ix.seq
	ix.seqMu.Unlock()
	return v
}

// Insert walks/creates the node path for filter and appends sub at the
// terminal node. A duplicate (PipeID, filter) pair replaces the existing
// entry (updating QoS/Context) rather than duplicating it.
func (ix *Index) Insert(filter string, sub Subscriber) {
	levels := splitFilter(filter)
	cur := ix.root
	for _, lvl := range levels {
		cur.mu.Lock()
		child, ok := cur.children[lvl]
		if !ok {
			child = newNode()
			cur.children[lvl] = child
		}
		next := child
		cur.mu.Unlock()
		cur = next
	}
	cur.mu.Lock()
	defer cur.mu.Unlock()
	for i := range cur.subs {
		if cur.subs[i].PipeID == sub.PipeID {
			cur.subs[i] = sub
			return
		}
	}
	cur.subs = append(cur.subs, sub)
	cur.order = append(cur.order, ix.nextSeq())
}

// Delete removes the (pipeID) subscriber entry from filter's terminal node
// and prunes now-empty nodes bottom-up. Returns the removed entry and
// whether one was found.
func (ix *Index) Delete(filter string, pipeID uint32) (Subscriber, bool) {
	levels := splitFilter(filter)
	path := make([]*node, 0, len(levels)+1)
	path = append(path, ix.root)
	cur := ix.root
	for _, lvl := range levels {
		cur.mu.RLock()
		child, ok := cur.children[lvl]
		cur.mu.RUnlock()
		if !ok {
			return Subscriber{}, false
		}
		path = append(path, child)
		cur = child
	}

	term := path[len(path)-1]
	term.mu.Lock()
	var removed Subscriber
	found := false
	for i := range term.subs {
		if term.subs[i].PipeID == pipeID {
			removed = term.subs[i]
			found = true
			term.subs = append(term.subs[:i], term.subs[i+1:]...)
			term.order = append(term.order[:i], term.order[i+1:]...)
			break
		}
	}
	term.mu.Unlock()
	if !found {
		return Subscriber{}, false
	}

	// Prune bottom-up: remove each node from its parent once it has no
	// subscribers, no retained message, and no remaining children.
	for i := len(path) - 1; i > 0; i-- {
		n := path[i]
		parent := path[i-1]
		n.mu.RLock()
		empty := len(n.subs) == 0 && n.retained == nil && len(n.children) == 0
		n.mu.RUnlock()
		if !empty {
			break
		}
		parent.mu.Lock()
		delete(parent.children, levels[i-1])
		parent.mu.Unlock()
	}

	return removed, true
}

// isReserved reports whether topic begins with a reserved '$' prefix.
func isReserved(topic string) bool {
	return len(topic) > 0 && topic[0] == '$'
}

// Search returns, in deterministic depth-first pre-order, every subscriber
// whose filter matches the concrete topic. Reserved ('$'-prefixed) topics
// never match a root-level '+' or '#'.
func (ix *Index) Search(topic string) []Subscriber {
	levels := strings.Split(topic, "/")
	reserved := isReserved(topic)
	var out []Subscriber
	ix.walkMatch(ix.root, levels, 0, reserved, &out)
	return out
}

func (ix *Index) walkMatch(n *node, levels []string, depth int, reserved bool, out *[]Subscriber) {
	if depth == len(levels) {
		n.mu.RLock()
		appendOrdered(out, n.subs, n.order)
		hash, hasHash := n.children["#"]
		n.mu.RUnlock()
		// "#" also matches zero remaining levels: "a/#" matches topic "a".
		if hasHash && !(depth == 0 && reserved) {
			hash.mu.RLock()
			appendOrdered(out, hash.subs, hash.order)
			hash.mu.RUnlock()
		}
		return
	}

	n.mu.RLock()
	lit, hasLit := n.children[levels[depth]]
	plus, hasPlus := n.children["+"]
	hash, hasHash := n.children["#"]
	n.mu.RUnlock()

	if hasLit {
		ix.walkMatch(lit, levels, depth+1, reserved, out)
	}
	if hasPlus && !(depth == 0 && reserved) {
		ix.walkMatch(plus, levels, depth+1, reserved, out)
	}
	if hasHash && !(depth == 0 && reserved) {
		hash.mu.RLock()
		appendOrdered(out, hash.subs, hash.order)
		hash.mu.RUnlock()
	}
}

func appendOrdered(out *[]Subscriber, subs []Subscriber, order []uint64) {
	// subs is already insertion-ordered within this node (Insert/Delete
	// keep subs/order parallel and appended in sequence), so a plain
	// append preserves the required per-node insertion order.
	_ = order
	*out = append(*out, subs...)
}

// RetainInsert stores msg as the retained message for the exact topic. An
// empty payload tombstones (removes) the entry instead.
func (ix *Index) RetainInsert(topic string, msg Retained) {
	if len(msg.Payload) == 0 {
		ix.RetainDelete(topic)
		return
	}
	levels := splitFilter(topic)
	cur := ix.root
	for _, lvl := range levels {
		cur.mu.Lock()
		child, ok := cur.children[lvl]
		if !ok {
			child = newNode()
			cur.children[lvl] = child
		}
		next := child
		cur.mu.Unlock()
		cur = next
	}
	cur.mu.Lock()
	r := msg
	cur.retained = &r
	cur.mu.Unlock()
}

// RetainDelete removes the retained message at the exact topic, if any,
// pruning the node path bottom-up when it becomes otherwise empty.
func (ix *Index) RetainDelete(topic string) {
	levels := splitFilter(topic)
	path := make([]*node, 0, len(levels)+1)
	path = append(path, ix.root)
	cur := ix.root
	for _, lvl := range levels {
		cur.mu.RLock()
		child, ok := cur.children[lvl]
		cur.mu.RUnlock()
		if !ok {
			return
		}
		path = append(path, child)
		cur = child
	}
	term := path[len(path)-1]
	term.mu.Lock()
	term.retained = nil
	term.mu.Unlock()

	for i := len(path) - 1; i > 0; i-- {
		n := path[i]
		parent := path[i-1]
		n.mu.RLock()
		empty := len(n.subs) == 0 && n.retained == nil && len(n.children) == 0
		n.mu.RUnlock()
		if !empty {
			break
		}
		parent.mu.Lock()
		delete(parent.children, levels[i-1])
		parent.mu.Unlock()
	}
}

// RetainedMatch pairs a retained entry with the concrete topic it lives at.
type RetainedMatch struct {
	Topic    string
	Retained Retained
}

// RetainSearch enumerates every retained message whose topic matches
// filter, honoring the same wildcard and reserved-topic rules as Search.
func (ix *Index) RetainSearch(filter string) []RetainedMatch {
	levels := splitFilter(filter)
	reserved := isReserved(filter)
	var out []RetainedMatch
	ix.walkRetainMatch(ix.root, levels, 0, nil, reserved, &out)
	return out
}

func (ix *Index) walkRetainMatch(n *node, levels []string, depth int, prefix []string, reserved bool, out *[]RetainedMatch) {
	if depth == len(levels) {
		n.mu.RLock()
		if n.retained != nil {
			*out = append(*out, RetainedMatch{Topic: strings.Join(prefix, "/"), Retained: *n.retained})
		}
		n.mu.RUnlock()
		return
	}

	level := levels[depth]
	switch level {
	case "+":
		n.mu.RLock()
		children := make(map[string]*node, len(n.children))
		for k, v := range n.children {
			if k != "#" && !(depth == 0 && isReserved(k)) {
				children[k] = v
			}
		}
		n.mu.RUnlock()
		if depth == 0 && reserved {
			return
		}
		for k, child := range children {
			ix.walkRetainMatch(child, levels, depth+1, append(append([]string{}, prefix...), k), reserved, out)
		}
	case "#":
		if depth == 0 && reserved {
			return
		}
		if depth == 0 {
			n.mu.RLock()
			children := make(map[string]*node, len(n.children))
			for k, v := range n.children {
				if !isReserved(k) {
					children[k] = v
				}
			}
			n.mu.RUnlock()
			for k, child := range children {
				ix.collectAllRetained(child, []string{k}, out)
			}
			return
		}
		ix.collectAllRetained(n, prefix, out)
	default:
		n.mu.RLock()
		child, ok := n.children[level]
		n.mu.RUnlock()
		if !ok {
			return
		}
		ix.walkRetainMatch(child, levels, depth+1, append(append([]string{}, prefix...), level), reserved, out)
	}
}

// collectAllRetained gathers every retained entry at or below n, used when
// a filter's remaining suffix is '#'.
func (ix *Index) collectAllRetained(n *node, prefix []string, out *[]RetainedMatch) {
	n.mu.RLock()
	if n.retained != nil {
		*out = append(*out, RetainedMatch{Topic: strings.Join(prefix, "/"), Retained: *n.retained})
	}
	children := make(map[string]*node, len(n.children))
	for k, v := range n.children {
		children[k] = v
	}
	n.mu.RUnlock()
	for k, child := range children {
		ix.collectAllRetained(child, append(append([]string{}, prefix...), k), out)
	}
}
