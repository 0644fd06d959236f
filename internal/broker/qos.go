package broker

import (
	"sync"

	"github.com/lattice-edge/brokercore/internal/session"
)

// numPacketIDWords sizes the packet-id bitset to cover the full 16-bit
// MQTT packet identifier space (IDs 1..0xFFFF), one bit per ID.
const numPacketIDWords = 1024

// ackStage tracks where a qos>0 delivery sits in its handshake.
type ackStage int

const (
	stageWaitPuback ackStage = iota
	stageWaitPubrec
	stageWaitPubrel
	stageWaitPubcomp
)

// waiting is one outbound message a pipe has sent and is still waiting on
// an acknowledgement for.
type waiting struct {
	packetID uint16
	topic    string
	payload  []byte
	qos      byte
	retain   bool
	stage    ackStage
	next     *waiting
	prev     *waiting
}

// inflight is the per-pipe bookkeeping for qos>0 delivery: a packet-id
// bitset for allocation plus an ordered waiting list for resend-on-
// reconnect, adapted from a client-side inFlight/waitingPacketList shape
// to the broker's outbound-delivery direction.
type inflight struct {
	mu        sync.Mutex
	bits      [numPacketIDWords]uint64
	nextValue uint16
	byID      map[uint16]*waiting
	front     *waiting
	back      *waiting
}

func newInflight() *inflight {
	return &inflight{byID: make(map[uint16]*waiting)}
}

func (f *inflight) setBit(n uint16) {
	f.bits[n/64] |= 1 << (n % 64)
}

func (f *inflight) unsetBit(n uint16) {
	f.bits[n/64] &^= 1 << (n % 64)
}

func (f *inflight) getBit(n uint16) bool {
	return f.bits[n/64]&(1<<(n%64)) != 0
}

func cappedIncrement(x uint16) uint16 {
	x++
	if x == 0 {
		x = 1
	}
	return x
}

// nextPacketID allocates a free packet id and marks it in-flight. Returns
// 0 if the id space is exhausted (broker equivalent of the client's panic
// — here the caller drops the delivery rather than crash the process).
func (f *inflight) nextPacketID() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := f.nextValue
	result := cappedIncrement(f.nextValue)
	for f.getBit(result) && result != start {
		result = cappedIncrement(result)
	}
	if result == start && f.getBit(result) {
		return 0
	}
	f.nextValue = result
	f.setBit(result)
	return result
}

// register records msg as awaiting acknowledgement under packetID, linking
// it to the back of the ordered waiting list.
func (f *inflight) register(packetID uint16, topic string, payload []byte, qos byte, retain bool, stage ackStage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setBit(packetID)
	w := &waiting{packetID: packetID, topic: topic, payload: payload, qos: qos, retain: retain, stage: stage}
	if f.back == nil {
		f.front, f.back = w, w
	} else {
		w.prev = f.back
		f.back.next = w
		f.back = w
	}
	f.byID[packetID] = w
}

// advance moves the waiting entry for packetID to a new stage (used for
// the PUBREC->PUBREL step of the qos 2 handshake).
func (f *inflight) advance(packetID uint16, stage ackStage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.byID[packetID]; ok {
		w.stage = stage
	}
}

// release drops the waiting entry for packetID (PUBACK for qos 1, PUBCOMP
// for qos 2) and frees its packet id for reuse.
func (f *inflight) release(packetID uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.byID[packetID]
	if !ok {
		f.unsetBit(packetID)
		return
	}
	if w.prev == nil {
		f.front = w.next
	} else {
		w.prev.next = w.next
	}
	if w.next == nil {
		f.back = w.prev
	} else {
		w.next.prev = w.prev
	}
	delete(f.byID, packetID)
	f.unsetBit(packetID)
}

// drainToSession moves every still-waiting entry into pending session
// messages, marked Dup for redelivery, in the order they were sent.
func (f *inflight) drainToSession() []session.Pending {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []session.Pending
	for w := f.front; w != nil; w = w.next {
		out = append(out, session.Pending{
			Topic:   w.topic,
			Payload: w.payload,
			QoS:     w.qos,
			Retain:  w.retain,
			Dup:     true,
		})
	}
	f.front, f.back = nil, nil
	f.byID = make(map[uint16]*waiting)
	for i := range f.bits {
		f.bits[i] = 0
	}
	return out
}
