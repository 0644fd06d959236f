// Package broker implements the broker core: the per-connection protocol
// driver, the publish/subscribe handlers, QoS bookkeeping, the work-item
// scheduling pattern, and the fixed worker pool that executes it.
package broker

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lattice-edge/brokercore/internal/cparam"
)

// State names one phase of a work item's lifecycle, mirroring the
// INIT/RECV/WAIT/SEND/BRIDGE driver: INIT arms the first receive, RECV
// decodes an inbound frame, WAIT dispatches by command and builds any
// delivery list, SEND (or BRIDGE, for the bridge's own context) drains
// that list one recipient at a time before returning to RECV.
type State int

const (
	StateInit State = iota
	StateRecv
	StateWait
	StateSend
	StateBridge
)

// delivery is one (pipe, qos) fan-out target built by the publish handler,
// queued for the SEND phase — the "work queue of tuples drained by
// repeated SEND re-entries" redesign of the source's shared index cursor.
type delivery struct {
	pipeID  uint32
	qos     byte
	dup     bool
	retain  bool
	topic   string
	payload []byte
}

// workItem is the reusable record a worker advances through the state
// machine on each I/O completion.
type workItem struct {
	state          State
	pipe           *Pipe
	deliveries     []delivery
	deliveryCursor int
}

// Pipe is one live connection: its socket, negotiated CONNECT parameters,
// per-pipe QoS bookkeeping, and a bounded outbound queue whose single
// drain goroutine preserves wire-order delivery for that pipe.
type Pipe struct {
	ID       uint32
	conn     net.Conn
	wmu      sync.Mutex
	proto    byte
	params   *cparam.Param
	inflight *inflight

	outq      chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	lastActivity atomic.Int64
	keepAlive    uint16

	cleanStart bool
}

func newPipe(id uint32, conn net.Conn, msqLen int) *Pipe {
	p := &Pipe{
		ID:       id,
		conn:     conn,
		inflight: newInflight(),
		outq:     make(chan []byte, msqLen),
		closed:   make(chan struct{}),
	}
	p.touch()
	return p
}

func (p *Pipe) touch() {
	p.lastActivity.Store(time.Now().UnixNano())
}

// enqueue appends a framed message to the pipe's outbound queue. dropped
// reports whether the message was discarded because the queue was full,
// whatever its qos; the caller applies the backpressure policy.
func (p *Pipe) enqueue(frame []byte) (dropped bool) {
	select {
	case p.outq <- frame:
		return false
	default:
		return true
	}
}

func (p *Pipe) runWriter() {
	for {
		select {
		case frame, ok := <-p.outq:
			if !ok {
				return
			}
			p.wmu.Lock()
			_, err := p.conn.Write(frame)
			p.wmu.Unlock()
			if err != nil {
				p.Close()
				return
			}
		case <-p.closed:
			return
		}
	}
}

// Close closes the underlying socket and stops the writer goroutine. Safe
// to call more than once.
func (p *Pipe) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
	})
}
