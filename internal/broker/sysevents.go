package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lattice-edge/brokercore/internal/cparam"
)

// sysConnectedEvent is the JSON payload published on
// $SYS/brokers/<clientid>/connected when a client completes CONNECT.
type sysConnectedEvent struct {
	ClientID    string `json:"client_id"`
	Username    string `json:"username,omitempty"`
	ProtoVer    byte   `json:"proto_ver"`
	KeepAlive   uint16 `json:"keepalive"`
	ConnectedAt int64  `json:"connected_at"`
}

// sysDisconnectedEvent is the JSON payload published on
// $SYS/brokers/<clientid>/disconnected when a client's pipe tears down.
type sysDisconnectedEvent struct {
	ClientID       string `json:"client_id"`
	Reason         string `json:"reason"`
	DisconnectedAt int64  `json:"disconnected_at"`
}

// publishSysConnected routes a synthetic connect notification through the
// normal local publish path, grounded on the pattern of re-entering the
// routing path (publishInternal) with a broker-internal event payload
// rather than writing directly to subscriber sockets.
func (b *Broker) publishSysConnected(p *cparam.Param) {
	evt := sysConnectedEvent{
		ClientID:    p.ClientID,
		Username:    p.Username,
		ProtoVer:    p.ProtocolVersion,
		KeepAlive:   p.KeepAlive,
		ConnectedAt: time.Now().Unix(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	b.publishInternal(fmt.Sprintf("$SYS/brokers/%s/connected", p.ClientID), payload, 0)
}

// publishSysDisconnected mirrors publishSysConnected for teardown.
func (b *Broker) publishSysDisconnected(p *cparam.Param, reason string) {
	evt := sysDisconnectedEvent{
		ClientID:       p.ClientID,
		Reason:         reason,
		DisconnectedAt: time.Now().Unix(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	b.publishInternal(fmt.Sprintf("$SYS/brokers/%s/disconnected", p.ClientID), payload, 0)
}
