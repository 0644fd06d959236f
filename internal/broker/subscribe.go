package broker

import (
	"strings"

	"github.com/lattice-edge/brokercore/internal/mqtt"
	"github.com/lattice-edge/brokercore/internal/topic"
)

// handleSubscribe mutates the topic index and client-id hash for each
// requested filter, replies with SUBACK, then — after SUBACK is queued —
// enumerates and delivers any matching retained messages.
func (b *Broker) handleSubscribe(item *workItem, pkt *mqtt.SubscribePacket) {
	codes := make([]byte, len(pkt.Topics))
	granted := make([]byte, len(pkt.Topics))
	for i, sub := range pkt.Topics {
		if sub.Topic == "" {
			codes[i] = 0x80
			continue
		}
		b.subs.Insert(sub.Topic, topic.Subscriber{PipeID: item.pipe.ID, QoS: sub.QoS})
		b.hash.Insert(item.pipe.ID, sub.Topic, sub.QoS)
		codes[i] = sub.QoS
		granted[i] = sub.QoS
	}

	ack := &mqtt.SubackPacket{PacketID: pkt.PacketID, ReturnCodes: codes}
	frame, _ := ack.Encode()
	item.pipe.enqueue(frame)

	if b.met != nil {
		b.met.SubscriptionsActive.Add(float64(len(pkt.Topics)))
	}

	// Retained delivery happens only after SUBACK has been queued, in the
	// same synchronous call as the Insert above. No lock spans the Insert
	// and the RetainSearch below, so a live PUBLISH on the same topic that
	// arrives concurrently may reach this pipe before or after the retained
	// copy (Open Question (a)).
	for i, sub := range pkt.Topics {
		if codes[i] == 0x80 || strings.Contains(sub.Topic, "$") {
			continue
		}
		for _, m := range b.retained.RetainSearch(sub.Topic) {
			qos := m.Retained.QoS
			if granted[i] < qos {
				qos = granted[i]
			}
			d := delivery{pipeID: item.pipe.ID, qos: qos, topic: m.Topic, payload: m.Retained.Payload, retain: true}
			b.sendOne(item.pipe, d)
		}
	}
}

// handleUnsubscribe mutates the topic index and client-id hash for each
// filter and replies with UNSUBACK.
func (b *Broker) handleUnsubscribe(item *workItem, pkt *mqtt.UnsubscribePacket) {
	var codes []byte
	if item.pipe.proto == mqtt.ProtoLevel5 {
		codes = make([]byte, len(pkt.Topics))
	}
	for i, f := range pkt.Topics {
		if _, ok := b.subs.Delete(f, item.pipe.ID); ok {
			b.hash.Remove(item.pipe.ID, f)
			if codes != nil {
				codes[i] = 0
			}
		} else if codes != nil {
			codes[i] = 0x11 // no subscription existed
		}
	}

	ack := &mqtt.UnsubackPacket{PacketID: pkt.PacketID, ReturnCodes: codes}
	frame, _ := ack.Encode()
	item.pipe.enqueue(frame)

	if b.met != nil {
		b.met.SubscriptionsActive.Add(-float64(len(pkt.Topics)))
	}
}
