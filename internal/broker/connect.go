package broker

import (
	"bufio"
	"io"

	"github.com/lattice-edge/brokercore/internal/cparam"
	"github.com/lattice-edge/brokercore/internal/mqtt"
	"github.com/lattice-edge/brokercore/internal/topic"
)

// recvLoop is the RECV phase of the state machine: it blocks for the next
// frame, decodes it, and dispatches by command type (the WAIT phase),
// looping until the pipe closes or a protocol/IO error ends the
// connection. Go's goroutine-per-connection model supplies the "re-entered
// on each I/O completion" behavior the source gets from callbacks; the
// work item's state field still names each phase for clarity and for the
// SEND-phase delivery cursor below.
func (b *Broker) recvLoop(item *workItem) {
	r := bufio.NewReader(item.pipe.conn)
	abnormal := true

recv:
	for {
		header, err := mqtt.ReadFixedHeader(r)
		if err != nil {
			break
		}
		item.pipe.touch()

		body := io.LimitReader(r, int64(header.RemainingLen))
		switch header.PacketType {
		case mqtt.CONNECT:
			pkt, err := mqtt.DecodeConnectPacket(body, b.opts.PropertySize)
			if err != nil {
				b.log.WithField("pipe", item.pipe.ID).WithError(err).Debug("malformed CONNECT")
				break recv
			}
			if !b.handleConnect(item, pkt) {
				break recv
			}
		case mqtt.PUBLISH:
			v5 := item.pipe.proto == mqtt.ProtoLevel5
			pkt, err := mqtt.DecodePublishPacket(body, header, v5, b.opts.PropertySize)
			if err != nil {
				b.log.WithField("pipe", item.pipe.ID).WithError(err).Debug("malformed PUBLISH")
				break recv
			}
			b.handlePublish(item, pkt)
		case mqtt.PUBACK:
			ack, err := mqtt.DecodeAckPacket(mqtt.PUBACK, body, header.RemainingLen)
			if err == nil {
				item.pipe.inflight.release(ack.PacketID)
				if b.met != nil {
					b.met.QoSInflight.WithLabelValues("1").Dec()
				}
			}
		case mqtt.PUBREC:
			ack, err := mqtt.DecodeAckPacket(mqtt.PUBREC, body, header.RemainingLen)
			if err == nil {
				item.pipe.inflight.advance(ack.PacketID, stageWaitPubcomp)
				rel, _ := mqtt.NewPubrel(ack.PacketID).Encode()
				item.pipe.enqueue(rel)
			}
		case mqtt.PUBREL:
			ack, err := mqtt.DecodeAckPacket(mqtt.PUBREL, body, header.RemainingLen)
			if err == nil {
				comp, _ := mqtt.NewPubcomp(ack.PacketID).Encode()
				item.pipe.enqueue(comp)
			}
		case mqtt.PUBCOMP:
			ack, err := mqtt.DecodeAckPacket(mqtt.PUBCOMP, body, header.RemainingLen)
			if err == nil {
				item.pipe.inflight.release(ack.PacketID)
				if b.met != nil {
					b.met.QoSInflight.WithLabelValues("2").Dec()
				}
			}
		case mqtt.SUBSCRIBE:
			v5 := item.pipe.proto == mqtt.ProtoLevel5
			pkt, err := mqtt.DecodeSubscribePacket(body, header.RemainingLen, v5, b.opts.PropertySize)
			if err != nil {
				break recv
			}
			b.handleSubscribe(item, pkt)
		case mqtt.UNSUBSCRIBE:
			v5 := item.pipe.proto == mqtt.ProtoLevel5
			pkt, err := mqtt.DecodeUnsubscribePacket(body, header.RemainingLen, v5, b.opts.PropertySize)
			if err != nil {
				break recv
			}
			b.handleUnsubscribe(item, pkt)
		case mqtt.PINGREQ:
			resp, _ := (&mqtt.PingrespPacket{}).Encode()
			item.pipe.enqueue(resp)
		case mqtt.DISCONNECT:
			_, _ = mqtt.DecodeDisconnectPacket(body, header.RemainingLen)
			abnormal = false
			break recv
		default:
			break recv
		}
		_, _ = io.Copy(io.Discard, body)
	}

	b.onDisconnect(item, abnormal)
}

// handleConnect runs the CONNECT transition: authenticate, evict any live
// pipe for the same client id, resume or discard the cached session per
// clean-start, reply with CONNACK, then emit the synthetic connect
// notification. Returns false if the connection should be closed.
func (b *Broker) handleConnect(item *workItem, pkt *mqtt.ConnectPacket) bool {
	if !b.opts.Authenticator.Authenticate(pkt.ClientID, pkt.Username, pkt.Password) {
		ack := &mqtt.ConnackPacket{ReturnCode: mqtt.ConnRefusedBadUserOrPass, ProtocolLevel: pkt.ProtocolVersion}
		frame, _ := ack.Encode()
		item.pipe.enqueue(frame)
		return false
	}

	clientID := pkt.ClientID
	if clientID == "" {
		clientID = generateClientID()
	}

	// Open Question (c): clean-start=true forcibly disconnects any live
	// pipe for the same client id before the new session activates.
	b.evict(clientID)

	item.pipe.proto = pkt.ProtocolVersion
	item.pipe.keepAlive = pkt.KeepAlive
	item.pipe.cleanStart = pkt.CleanSession

	params := cparam.New(item.pipe.ID, clientID)
	params.Username = pkt.Username
	params.ProtocolVersion = pkt.ProtocolVersion
	params.CleanStart = pkt.CleanSession
	params.KeepAlive = pkt.KeepAlive
	params.WillFlag = pkt.WillFlag
	params.WillTopic = pkt.WillTopic
	params.WillPayload = pkt.WillMessage
	params.WillQoS = pkt.WillQoS
	params.WillRetain = pkt.WillRetain
	if pkt.Properties != nil {
		params.SessionExpiryInterval = pkt.Properties.SessionExpiryInterval
	}
	item.pipe.params = params

	sessionPresent := false
	if pkt.CleanSession {
		b.sessions.Delete(clientID)
	} else if rec, ok := b.sessions.Take(clientID); ok {
		sessionPresent = true
		for _, f := range rec.Filters {
			b.subs.Insert(f.Topic, topic.Subscriber{PipeID: item.pipe.ID, QoS: f.QoS})
			b.hash.Insert(item.pipe.ID, f.Topic, f.QoS)
		}
		for _, pend := range rec.Pending {
			frame, _ := (&mqtt.PublishPacket{
				Dup: pend.Dup, QoS: pend.QoS, Retain: pend.Retain,
				Topic: pend.Topic, Payload: pend.Payload,
			}).Encode()
			item.pipe.enqueue(frame)
		}
	}

	b.bindClientID(clientID, item.pipe.ID)

	ack := &mqtt.ConnackPacket{SessionPresent: sessionPresent, ReturnCode: mqtt.ConnAccepted, ProtocolLevel: pkt.ProtocolVersion}
	frame, _ := ack.Encode()
	item.pipe.enqueue(frame)

	if b.opts.SysEventsEnabled {
		b.publishSysConnected(params)
	}
	if b.met != nil {
		b.met.ConnectionsTotal.Inc()
		b.met.ClientsConnected.Inc()
	}
	return true
}

