package broker

import (
	"time"

	"github.com/lattice-edge/brokercore/internal/mqtt"
)

func resendFrame(packetID uint16, d delivery) ([]byte, error) {
	pkt := &mqtt.PublishPacket{
		Dup: true, QoS: d.qos, Retain: d.retain,
		Topic: d.topic, Payload: d.payload, PacketID: packetID,
	}
	return pkt.Encode()
}

// retryAndExpire is the global "qos timer": it fires every qos_duration
// and (a) retransmits, marked Dup, any qos>0 delivery a live pipe has not
// yet acknowledged, (b) closes any pipe that has gone idle past 1.5x its
// advertised keepalive, and (c) expires cached sessions past their v5
// session-expiry interval.
func (b *Broker) retryAndExpire() {
	now := time.Now()

	b.pipesMu.RLock()
	pipes := make([]*Pipe, 0, len(b.pipes))
	for _, p := range b.pipes {
		pipes = append(pipes, p)
	}
	b.pipesMu.RUnlock()

	for _, p := range pipes {
		if p.keepAlive > 0 {
			grace := time.Duration(float64(p.keepAlive) * b.opts.KeepAliveGrace * float64(time.Second))
			last := time.Unix(0, p.lastActivity.Load())
			if now.Sub(last) > grace {
				b.log.WithField("pipe", p.ID).Debug("keepalive expired, closing pipe")
				p.Close()
				continue
			}
		}
		b.resendUnacked(p)
	}

	for _, cid := range b.sessions.Expire(now) {
		b.log.WithField("client_id", cid).Debug("session expired")
	}
}

// resendUnacked walks a pipe's waiting-ack list and retransmits each entry
// marked as a duplicate, mirroring a reconnect-time inFlight replay but
// driven by the periodic timer instead of CONNECT.
func (b *Broker) resendUnacked(p *Pipe) {
	p.inflight.mu.Lock()
	entries := make([]*waiting, 0)
	for w := p.inflight.front; w != nil; w = w.next {
		entries = append(entries, w)
	}
	p.inflight.mu.Unlock()

	for _, w := range entries {
		if w.stage != stageWaitPuback && w.stage != stageWaitPubrec {
			continue
		}
		d := delivery{pipeID: p.ID, qos: w.qos, dup: true, retain: w.retain, topic: w.topic, payload: w.payload}
		b.resendDelivery(p, w.packetID, d)
	}
}

func (b *Broker) resendDelivery(p *Pipe, packetID uint16, d delivery) {
	frame, err := resendFrame(packetID, d)
	if err != nil {
		return
	}
	p.enqueue(frame)
}
