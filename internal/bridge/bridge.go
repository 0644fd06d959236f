// Package bridge implements the broker's outbound egress client (spec.md
// section 4.7): a second MQTT client context, hosted in-process, that
// republishes locally routed messages matching configured forward filters
// to an upstream broker, and injects messages received on configured
// ingress subscriptions back into the local routing path.
package bridge

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/lattice-edge/brokercore/internal/config"
	"github.com/lattice-edge/brokercore/internal/metrics"
	"github.com/lattice-edge/brokercore/internal/topic"
)

// Injector is the subset of internal/broker.Broker the bridge's ingress
// path needs: re-entering the local publish path for a message received
// from upstream, as if published by a local pipe.
type Injector interface {
	Inject(topic string, payload []byte, qos byte)
}

// forwardQueueDepth bounds the bridge's outbound queue; the bridge must
// never block the core worker pool that calls Forward, so it drops the
// oldest queued message on overflow instead of blocking the sender.
const forwardQueueDepth = 256

type forwardMsg struct {
	topic   string
	payload []byte
	qos     byte
	retain  bool
}

// Bridge owns one outbound paho client dialed toward bridge.address, plus
// the bounded, drop-oldest queue that decouples the core worker pool from
// the upstream connection's pace.
type Bridge struct {
	cfg      *config.BridgeConfig
	injector Injector
	log      *logrus.Logger
	met      *metrics.Metrics

	forwards *topic.Index
	client   paho.Client
	queue    chan forwardMsg
	stopCh   chan struct{}
}

// New constructs a Bridge from cfg. It does not dial upstream until Start
// is called.
func New(cfg *config.BridgeConfig, injector Injector, log *logrus.Logger, met *metrics.Metrics) *Bridge {
	if log == nil {
		log = logrus.StandardLogger()
	}
	forwards := topic.New()
	for _, f := range cfg.Forwards {
		forwards.Insert(f, topic.Subscriber{PipeID: 0})
	}
	return &Bridge{
		cfg:      cfg,
		injector: injector,
		log:      log,
		met:      met,
		forwards: forwards,
		queue:    make(chan forwardMsg, forwardQueueDepth),
		stopCh:   make(chan struct{}),
	}
}

// Start dials the upstream broker, subscribes to every configured ingress
// filter, and begins draining the forward queue. The paho client's own
// keepalive/reconnect machinery (out of scope per spec.md section 1) is
// used as-is.
func (br *Bridge) Start() error {
	opts := paho.NewClientOptions().
		AddBroker(br.cfg.Address).
		SetClientID(br.cfg.ClientID).
		SetCleanSession(br.cfg.CleanStart).
		SetAutoReconnect(true).
		SetKeepAlive(br.cfg.KeepAlive).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(br.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			br.log.WithError(err).Warn("bridge: upstream connection lost")
		})
	if br.cfg.Username != "" {
		opts.SetUsername(br.cfg.Username)
	}
	if br.cfg.Password != "" {
		opts.SetPassword(br.cfg.Password)
	}

	br.client = paho.NewClient(opts)
	token := br.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("bridge: connect to %s timed out", br.cfg.Address)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("bridge: connect to %s: %w", br.cfg.Address, err)
	}

	go br.drainForwards()
	return nil
}

// onConnect (re-)subscribes to every configured ingress filter; paho calls
// this on initial connect and on every auto-reconnect.
func (br *Bridge) onConnect(client paho.Client) {
	for _, sub := range br.cfg.Subscriptions {
		s := sub
		token := client.Subscribe(s.Topic, s.QoS, func(_ paho.Client, msg paho.Message) {
			br.injector.Inject(msg.Topic(), msg.Payload(), msg.Qos())
		})
		if !token.WaitTimeout(5 * time.Second) || token.Error() != nil {
			br.log.WithField("topic", s.Topic).WithError(token.Error()).Warn("bridge: ingress subscribe failed")
		}
	}
}

// Forward is called by the core publish handler for every locally routed
// PUBLISH. It is a no-op unless topicName matches a configured forward
// filter, and never blocks: a full queue drops the oldest entry.
func (br *Bridge) Forward(topicName string, payload []byte, qos byte, retain bool) {
	if len(br.forwards.Search(topicName)) == 0 {
		return
	}
	msg := forwardMsg{topic: topicName, payload: payload, qos: qos, retain: retain}
	select {
	case br.queue <- msg:
	default:
		select {
		case <-br.queue:
		default:
		}
		select {
		case br.queue <- msg:
		default:
		}
	}
}

func (br *Bridge) drainForwards() {
	for {
		select {
		case msg := <-br.queue:
			token := br.client.Publish(msg.topic, msg.qos, msg.retain, msg.payload)
			token.Wait()
			if err := token.Error(); err != nil {
				br.log.WithField("topic", msg.topic).WithError(err).Debug("bridge: forward publish failed")
				continue
			}
			if br.met != nil {
				br.met.BridgeForwardsTotal.Inc()
			}
		case <-br.stopCh:
			return
		}
	}
}

// Stop disconnects the upstream client and halts the forward drain.
func (br *Bridge) Stop() {
	close(br.stopCh)
	if br.client != nil {
		br.client.Disconnect(250)
	}
}
