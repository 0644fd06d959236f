package broker

import (
	"strings"

	"github.com/lattice-edge/brokercore/internal/mqtt"
	"github.com/lattice-edge/brokercore/internal/topic"
)

// handlePublish runs the publish handler's five contractual steps: validate
// the topic, build the delivery list from the subscription index, update
// the retained store if the retain flag is set, forward to the bridge if
// configured, then hand the work item to SEND.
func (b *Broker) handlePublish(item *workItem, pkt *mqtt.PublishPacket) {
	if pkt.Topic == "" || strings.ContainsAny(pkt.Topic, "+#") {
		b.log.WithField("pipe", item.pipe.ID).Debug("protocol error: invalid publish topic")
		item.pipe.Close()
		return
	}

	subs := b.subs.Search(pkt.Topic)
	item.deliveries = item.deliveries[:0]
	item.deliveryCursor = 0
	seen := make(map[uint32]struct{}, len(subs))
	for _, s := range subs {
		if _, dup := seen[s.PipeID]; dup {
			continue
		}
		seen[s.PipeID] = struct{}{}
		qos := pkt.QoS
		if s.QoS < qos {
			qos = s.QoS
		}
		item.deliveries = append(item.deliveries, delivery{
			pipeID: s.PipeID, qos: qos, topic: pkt.Topic, payload: pkt.Payload, retain: false,
		})
	}

	if pkt.Retain {
		b.retained.RetainInsert(pkt.Topic, topic.Retained{Payload: pkt.Payload, QoS: pkt.QoS})
	}

	if b.bridge != nil {
		b.bridge.Forward(pkt.Topic, pkt.Payload, pkt.QoS, pkt.Retain)
	}

	if b.met != nil {
		b.met.MessagesReceived.WithLabelValues("publish").Inc()
	}

	item.state = StateSend
	b.drainDeliveries(item)

	if pkt.QoS == 1 {
		ack, _ := mqtt.NewPuback(pkt.PacketID).Encode()
		item.pipe.enqueue(ack)
	} else if pkt.QoS == 2 {
		rec, _ := mqtt.NewPubrec(pkt.PacketID).Encode()
		item.pipe.enqueue(rec)
	}

	item.state = StateRecv
}

// drainDeliveries pops the work item's delivery queue one recipient at a
// time, submitting each encode+enqueue to the worker pool — the fan-out
// redesign: a queue of (pipe, qos) tuples with deliveryCursor as the
// cursor, rather than a shared index counter re-read across re-entries.
func (b *Broker) drainDeliveries(item *workItem) {
	for item.deliveryCursor < len(item.deliveries) {
		d := item.deliveries[item.deliveryCursor]
		item.deliveryCursor++
		target, ok := b.pipeByID(d.pipeID)
		if !ok {
			continue
		}
		b.pool.submit(func() {
			b.sendOne(target, d)
		})
	}
}

func (b *Broker) sendOne(p *Pipe, d delivery) {
	pkt := &mqtt.PublishPacket{
		Dup: d.dup, QoS: d.qos, Retain: d.retain,
		Topic: d.topic, Payload: d.payload,
	}
	if d.qos > 0 {
		pid := p.inflight.nextPacketID()
		if pid == 0 {
			return // packet id space exhausted for this pipe; drop
		}
		pkt.PacketID = pid
		stage := stageWaitPuback
		if d.qos == 2 {
			stage = stageWaitPubrec
		}
		p.inflight.register(pid, d.topic, d.payload, d.qos, d.retain, stage)
		if b.met != nil {
			b.met.QoSInflight.WithLabelValues(qosLabel(d.qos)).Inc()
		}
	}
	frame, err := pkt.Encode()
	if err != nil {
		return
	}
	dropped := p.enqueue(frame)
	if dropped {
		if d.qos == 0 {
			if b.met != nil {
				b.met.MessagesDropped.Inc()
			}
			return
		}
		// qos>0: spill into the session record if one exists for this
		// pipe's client id, otherwise drop (backpressure policy).
		if p.params != nil {
			if rec, ok := b.sessions.Take(p.params.ClientID); ok {
				rec.Pending = append(rec.Pending, pendingFrom(d))
				b.sessions.Save(p.params.ClientID, rec)
			}
		}
	} else if b.met != nil {
		b.met.MessagesSent.WithLabelValues("publish").Inc()
	}
}

// Inject routes a message received on the bridge's ingress subscriptions
// into the local routing path, as if it had been published by a local
// client on the reserved pipe id 0 (spec.md section 4.7: "messages
// received on those are injected as if published locally").
func (b *Broker) Inject(topicName string, payload []byte, qos byte) {
	b.publishInternal(topicName, payload, qos)
	if b.met != nil {
		b.met.BridgeIngressTotal.Inc()
	}
}

// publishInternal routes a broker-originated message (synthetic $SYS
// notifications, bridge ingress injection) through the same subscription
// index and delivery path as a client PUBLISH, without requiring a pipe of
// its own — there is no sender to ack or retain-store on its behalf.
func (b *Broker) publishInternal(topicName string, payload []byte, qos byte) {
	for _, s := range b.subs.Search(topicName) {
		outQoS := qos
		if s.QoS < outQoS {
			outQoS = s.QoS
		}
		target, ok := b.pipeByID(s.PipeID)
		if !ok {
			continue
		}
		d := delivery{pipeID: s.PipeID, qos: outQoS, topic: topicName, payload: payload}
		b.pool.submit(func() { b.sendOne(target, d) })
	}
}

func qosLabel(qos byte) string {
	switch qos {
	case 1:
		return "1"
	case 2:
		return "2"
	default:
		return "0"
	}
}
