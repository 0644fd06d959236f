package broker

import (
	"github.com/lithammer/shortuuid"

	"github.com/lattice-edge/brokercore/internal/cparam"
	"github.com/lattice-edge/brokercore/internal/mqtt"
	"github.com/lattice-edge/brokercore/internal/session"
	"github.com/lattice-edge/brokercore/internal/topic"
)

func generateClientID() string {
	return "auto-" + shortuuid.New()
}

func pendingFrom(d delivery) session.Pending {
	return session.Pending{Topic: d.topic, Payload: d.payload, QoS: d.qos, Retain: d.retain}
}

// onDisconnect tears down a pipe: enumerates and removes every filter it
// held (guaranteeing dbhash.drop leaves no orphan subscriber entries),
// emits the will message on an abnormal disconnect, caches or discards the
// session per clean-start, and emits the synthetic disconnect notification.
func (b *Broker) onDisconnect(item *workItem, abnormal bool) {
	p := item.pipe
	entries := b.hash.Enumerate(p.ID)
	for _, e := range entries {
		b.subs.Delete(e.Topic, p.ID)
	}
	b.hash.Drop(p.ID)

	if p.params == nil {
		p.Close()
		return
	}
	b.unbindClientID(p.params.ClientID, p.ID)

	if abnormal && p.params.WillFlag {
		will := willAsPublish(p.params)
		b.publishInternal(will.Topic, will.Payload, will.QoS)
		if will.Retain {
			b.retained.RetainInsert(will.Topic, retainedFromPublish(will))
		}
	}

	if !p.cleanStart {
		filters := make([]session.Filter, len(entries))
		for i, e := range entries {
			filters[i] = session.Filter{Topic: e.Topic, QoS: e.QoS}
		}
		rec := &session.Record{
			Params:   p.params,
			LastPipe: p.ID,
			Filters:  filters,
			Pending:  p.inflight.drainToSession(),
		}
		b.sessions.Save(p.params.ClientID, rec)
	}

	if b.opts.SysEventsEnabled {
		reason := "normal"
		if abnormal {
			reason = "abnormal"
		}
		b.publishSysDisconnected(p.params, reason)
	}
	if b.met != nil {
		b.met.ClientsConnected.Dec()
	}

	p.Close()
}

// willAsPublish synthesizes a PUBLISH from the stored will fields so it can
// be run through the normal publish handler.
func willAsPublish(p *cparam.Param) *mqtt.PublishPacket {
	return &mqtt.PublishPacket{
		QoS:     p.WillQoS,
		Retain:  p.WillRetain,
		Topic:   p.WillTopic,
		Payload: p.WillPayload,
	}
}

func retainedFromPublish(pkt *mqtt.PublishPacket) topic.Retained {
	return topic.Retained{Payload: pkt.Payload, QoS: pkt.QoS}
}
