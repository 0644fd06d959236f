package integration

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lattice-edge/brokercore/internal/bridge"
	"github.com/lattice-edge/brokercore/internal/config"
)

// TestBridgeForwardAndIngress runs two brokers — "downstream" (local) and
// "upstream" — connected by a Bridge, and checks both directions: a local
// publish matching a forward filter reaches a subscriber on upstream, and
// a message published on upstream matching an ingress filter is injected
// into downstream's own routing path.
func TestBridgeForwardAndIngress(t *testing.T) {
	downAddr, down, stopDown := startTestBroker(t)
	defer stopDown()
	upAddr, _, stopUp := startTestBroker(t)
	defer stopUp()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	bcfg := &config.BridgeConfig{
		Address:    "tcp://" + upAddr,
		ClientID:   "bridge-test",
		CleanStart: true,
		KeepAlive:  30 * time.Second,
		Forwards:   []string{"local/#"},
		Subscriptions: []config.BridgeSubscription{
			{Topic: "remote/#", QoS: 1},
		},
	}

	br := bridge.New(bcfg, down, logger, nil)
	if err := br.Start(); err != nil {
		t.Fatalf("bridge start: %v", err)
	}
	defer br.Stop()
	down.SetBridge(br)

	// Forward direction: a subscriber on upstream sees a local publish
	// that matches the bridge's forward filter.
	upSub := dial(t, upAddr, "upstream-subscriber", true)
	defer upSub.Disconnect(100)
	upCh, upHandler := collector(1)
	if token := upSub.Subscribe("local/#", 1, upHandler); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("upstream subscribe: %v", token.Error())
	}
	time.Sleep(100 * time.Millisecond)

	downPub := dial(t, downAddr, "downstream-publisher", true)
	defer downPub.Disconnect(100)
	if token := downPub.Publish("local/room1", 0, false, "hello-up"); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("downstream publish: %v", token.Error())
	}

	fwd := waitMsg(t, upCh, 5*time.Second)
	if fwd.topic != "local/room1" || fwd.payload != "hello-up" {
		t.Fatalf("unexpected forwarded message: %+v", fwd)
	}

	// Ingress direction: a subscriber on downstream sees an upstream
	// publish on a bridge ingress filter, injected as a local message.
	downSub := dial(t, downAddr, "downstream-subscriber", true)
	defer downSub.Disconnect(100)
	downCh, downHandler := collector(1)
	if token := downSub.Subscribe("remote/#", 1, downHandler); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("downstream subscribe: %v", token.Error())
	}
	time.Sleep(100 * time.Millisecond)

	upPub := dial(t, upAddr, "upstream-publisher", true)
	defer upPub.Disconnect(100)
	if token := upPub.Publish("remote/alert", 1, false, "hello-down"); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("upstream publish: %v", token.Error())
	}

	inj := waitMsg(t, downCh, 5*time.Second)
	if inj.topic != "remote/alert" || inj.payload != "hello-down" {
		t.Fatalf("unexpected injected message: %+v", inj)
	}
}
