package broker

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lattice-edge/brokercore/internal/auth"
	"github.com/lattice-edge/brokercore/internal/clienthash"
	"github.com/lattice-edge/brokercore/internal/metrics"
	"github.com/lattice-edge/brokercore/internal/session"
	"github.com/lattice-edge/brokercore/internal/topic"
)

// Forwarder is the subset of internal/bridge.Bridge the publish handler
// needs: given a locally routed PUBLISH, duplicate it upstream if it
// matches a configured forward filter.
type Forwarder interface {
	Forward(topic string, payload []byte, qos byte, retain bool)
}

// Options configures a Broker. Populated by internal/config and cmd/broker;
// kept free of any config-parsing import so the two packages don't cycle.
type Options struct {
	NumTaskQThread int
	MaxTaskQThread int
	Parallel       int
	PropertySize   int
	MsqLen         int
	QoSDuration    time.Duration
	KeepAliveGrace float64 // multiplier applied to the client's keepalive

	AllowAnonymous bool
	Authenticator  auth.Authenticator

	SysEventsEnabled bool

	Log *logrus.Logger
	Metrics *metrics.Metrics
}

// Broker owns the two topic indices, the client-id hash, the session
// store, and the fixed worker pool that drives every connection's
// protocol state machine.
type Broker struct {
	opts Options
	log  *logrus.Logger
	met  *metrics.Metrics

	subs     *topic.Index
	retained *topic.Index
	hash     *clienthash.Hash
	sessions *session.Store

	pool *pool

	pipesMu sync.RWMutex
	pipes   map[uint32]*Pipe
	byCID   map[string]uint32

	nextPipeID atomic.Uint32

	bridge Forwarder

	qosTicker *time.Ticker
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// New constructs a Broker ready to accept connections once Listen or
// ServeConn is called.
func New(opts Options) *Broker {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.NumTaskQThread < 1 {
		opts.NumTaskQThread = 4
	}
	if opts.MaxTaskQThread < opts.NumTaskQThread {
		opts.MaxTaskQThread = opts.NumTaskQThread
	}
	if opts.MsqLen < 1 {
		opts.MsqLen = 64
	}
	if opts.QoSDuration <= 0 {
		opts.QoSDuration = 20 * time.Second
	}
	if opts.KeepAliveGrace <= 0 {
		opts.KeepAliveGrace = 1.5
	}
	if opts.Authenticator == nil {
		if opts.AllowAnonymous {
			opts.Authenticator = auth.AllowAnonymous{}
		} else {
			opts.Authenticator = auth.Chain{}
		}
	}

	b := &Broker{
		opts:     opts,
		log:      opts.Log,
		met:      opts.Metrics,
		subs:     topic.New(),
		retained: topic.New(),
		hash:     clienthash.New(),
		sessions: session.New(),
		pool:     newPool(opts.MaxTaskQThread, opts.MaxTaskQThread*4),
		pipes:    make(map[uint32]*Pipe),
		byCID:    make(map[string]uint32),
		stopCh:   make(chan struct{}),
	}
	b.qosTicker = time.NewTicker(opts.QoSDuration)
	go b.qosLoop()
	return b
}

// SetBridge attaches the outbound bridge forwarder; publish handling calls
// it for every locally routed message, a no-op until this is set.
func (b *Broker) SetBridge(f Forwarder) {
	b.bridge = f
}

// Stop halts the QoS retry ticker and the worker pool. Existing
// connections are not forcibly closed; callers close the listener first.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.qosTicker.Stop()
		b.pool.stop()
	})
}

// ServeConn drives one accepted connection (TCP or WebSocket-adapted)
// through the protocol state machine until it disconnects.
func (b *Broker) ServeConn(conn net.Conn) {
	id := b.nextPipeID.Add(1)
	pipe := newPipe(id, conn, b.opts.MsqLen)
	go pipe.runWriter()

	b.registerPipe(pipe)
	defer b.teardownPipe(pipe)

	item := &workItem{state: StateInit, pipe: pipe}
	item.state = StateRecv
	b.recvLoop(item)
}

func (b *Broker) registerPipe(p *Pipe) {
	b.pipesMu.Lock()
	b.pipes[p.ID] = p
	b.pipesMu.Unlock()
}

func (b *Broker) pipeByID(id uint32) (*Pipe, bool) {
	b.pipesMu.RLock()
	p, ok := b.pipes[id]
	b.pipesMu.RUnlock()
	return p, ok
}

// evict forcibly disconnects the live pipe for clientID, if any, per the
// spec's "reconnect while an older pipe is live" resolution: forcible
// disconnect of the old pipe before the new session activates.
func (b *Broker) evict(clientID string) {
	b.pipesMu.Lock()
	id, ok := b.byCID[clientID]
	b.pipesMu.Unlock()
	if !ok {
		return
	}
	if p, ok := b.pipeByID(id); ok {
		p.Close()
	}
}

func (b *Broker) bindClientID(clientID string, pipeID uint32) {
	b.pipesMu.Lock()
	b.byCID[clientID] = pipeID
	b.pipesMu.Unlock()
}

func (b *Broker) unbindClientID(clientID string, pipeID uint32) {
	b.pipesMu.Lock()
	if b.byCID[clientID] == pipeID {
		delete(b.byCID, clientID)
	}
	b.pipesMu.Unlock()
}

func (b *Broker) teardownPipe(p *Pipe) {
	b.pipesMu.Lock()
	delete(b.pipes, p.ID)
	b.pipesMu.Unlock()
	p.Close()
}

func (b *Broker) qosLoop() {
	for {
		select {
		case <-b.qosTicker.C:
			b.retryAndExpire()
		case <-b.stopCh:
			return
		}
	}
}
