// Package cparam holds the per-connection identity captured at CONNECT
// time. It is reference-counted so a value can outlive the socket it was
// created for — the synthetic connect/disconnect notifications and
// will-message delivery both consult it after the owning pipe is gone.
package cparam

import "sync/atomic"

// Param is a connection's identity and negotiated flags, as recorded from
// the CONNECT packet. Zero value is not meaningful; use New.
type Param struct {
	PipeID          uint32
	ClientID        string
	Username        string
	ProtocolVersion byte
	CleanStart      bool
	KeepAlive       uint16

	WillFlag    bool
	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	WillRetain  bool

	// SessionExpiryInterval is the v5 CONNECT property (seconds); zero
	// means "no expiry" for v3.1.1 or when the property was absent, and
	// the cached session for this client id is process-lived.
	SessionExpiryInterval uint32

	refs *atomic.Int32
}

// New creates a Param with an initial reference count of 1.
func New(pipeID uint32, clientID string) *Param {
	refs := &atomic.Int32{}
	refs.Store(1)
	return &Param{PipeID: pipeID, ClientID: clientID, refs: refs}
}

// Clone increments the shared reference count and returns a new handle to
// the same immutable-in-practice fields. Callers that need the record to
// survive past the current work-item transition (will delivery, synthetic
// $SYS notifications) must Clone before escaping and Release when done.
func (p *Param) Clone() *Param {
	p.refs.Add(1)
	clone := *p
	return &clone
}

// Release decrements the reference count. The zero-reference case has no
// special action beyond bookkeeping: cparam carries no finalizable
// resources of its own, only values copied by Clone.
func (p *Param) Release() {
	p.refs.Add(-1)
}

// RefCount reports the current reference count, chiefly for tests.
func (p *Param) RefCount() int32 {
	return p.refs.Load()
}
