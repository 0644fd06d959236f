// Package integration drives a real internal/broker.Broker over TCP with
// eclipse/paho.mqtt.golang as the test client, exercising the concrete
// end-to-end scenarios named in the broker's specification.
package integration

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/lattice-edge/brokercore/internal/auth"
	"github.com/lattice-edge/brokercore/internal/broker"
	wiremqtt "github.com/lattice-edge/brokercore/internal/mqtt"
)

func freeTCPAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// startTestBroker builds a Broker with a short QoS-retry period (so
// scenario-relevant retransmits don't need to wait out production-sized
// timers) listening on an ephemeral TCP port.
func startTestBroker(t *testing.T) (addr string, b *broker.Broker, stop func()) {
	t.Helper()
	addr = freeTCPAddr(t)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	b = broker.New(broker.Options{
		NumTaskQThread:   2,
		MaxTaskQThread:   4,
		MsqLen:           32,
		QoSDuration:      200 * time.Millisecond,
		AllowAnonymous:   true,
		Authenticator:    auth.AllowAnonymous{},
		SysEventsEnabled: true,
		Log:              logger,
	})

	closeFn, err := b.Listen("broker+tcp://" + addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return addr, b, func() {
		_ = closeFn()
		b.Stop()
	}
}

func dial(t *testing.T, addr, clientID string, cleanSession bool) mqtt.Client {
	t.Helper()
	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + addr).
		SetClientID(clientID).
		SetCleanSession(cleanSession).
		SetAutoReconnect(false).
		SetConnectTimeout(5 * time.Second)
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("connect %s: %v", clientID, token.Error())
	}
	return c
}

type recvMsg struct {
	topic   string
	payload string
	qos     byte
	retain  bool
}

func collector(n int) (chan recvMsg, mqtt.MessageHandler) {
	ch := make(chan recvMsg, n)
	return ch, func(_ mqtt.Client, msg mqtt.Message) {
		ch <- recvMsg{topic: msg.Topic(), payload: string(msg.Payload()), qos: msg.Qos(), retain: msg.Retained()}
	}
}

func waitMsg(t *testing.T, ch chan recvMsg, timeout time.Duration) recvMsg {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for a message")
		return recvMsg{}
	}
}

func expectNoMsg(t *testing.T, ch chan recvMsg, wait time.Duration) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("expected no message, got %+v", m)
	case <-time.After(wait):
	}
}

// Scenario: simple fan-out through a single-level wildcard.
func TestSimpleFanOut(t *testing.T) {
	addr, _, stop := startTestBroker(t)
	defer stop()

	a := dial(t, addr, "client-a", true)
	defer a.Disconnect(100)
	ch, handler := collector(1)
	if token := a.Subscribe("sensors/+/temp", 1, handler); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe: %v", token.Error())
	}

	b := dial(t, addr, "client-b", true)
	defer b.Disconnect(100)
	if token := b.Publish("sensors/room1/temp", 0, false, "23"); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("publish: %v", token.Error())
	}

	msg := waitMsg(t, ch, 5*time.Second)
	if msg.topic != "sensors/room1/temp" || msg.payload != "23" || msg.qos != 0 {
		t.Fatalf("unexpected delivery: %+v", msg)
	}
}

// Scenario: a retained message is delivered to a subscriber that joins
// after the publish.
func TestRetainThenLateSubscribe(t *testing.T) {
	addr, _, stop := startTestBroker(t)
	defer stop()

	a := dial(t, addr, "client-a", true)
	if token := a.Publish("status/device7", 1, true, "online"); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("publish retained: %v", token.Error())
	}
	a.Disconnect(100)

	b := dial(t, addr, "client-b", true)
	defer b.Disconnect(100)
	ch, handler := collector(1)
	if token := b.Subscribe("status/#", 2, handler); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe: %v", token.Error())
	}

	msg := waitMsg(t, ch, 5*time.Second)
	if msg.topic != "status/device7" || msg.payload != "online" || msg.qos != 1 || !msg.retain {
		t.Fatalf("unexpected retained delivery: %+v", msg)
	}
}

// Scenario: an empty-payload retained publish tombstones the entry.
func TestRetainTombstone(t *testing.T) {
	addr, _, stop := startTestBroker(t)
	defer stop()

	a := dial(t, addr, "client-a", true)
	if token := a.Publish("status/device7", 1, true, "online"); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("publish retained: %v", token.Error())
	}
	if token := a.Publish("status/device7", 1, true, ""); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("tombstone publish: %v", token.Error())
	}
	a.Disconnect(100)

	c := dial(t, addr, "client-c", true)
	defer c.Disconnect(100)
	ch, handler := collector(1)
	if token := c.Subscribe("status/#", 2, handler); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe: %v", token.Error())
	}
	expectNoMsg(t, ch, 500*time.Millisecond)
}

// Scenario: an abnormal disconnect (raw TCP close, no DISCONNECT packet)
// triggers delivery of the stored will message. Driven over a raw
// net.Conn rather than paho, since paho always sends a clean DISCONNECT.
func TestWillMessage(t *testing.T) {
	addr, _, stop := startTestBroker(t)
	defer stop()

	sub := dial(t, addr, "client-b", true)
	defer sub.Disconnect(100)
	ch, handler := collector(1)
	if token := sub.Subscribe("goodbye", 1, handler); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe: %v", token.Error())
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	connectPkt := &wiremqtt.ConnectPacket{
		ProtocolName:    "MQTT",
		ProtocolVersion: wiremqtt.ProtoLevel311,
		CleanSession:    true,
		WillFlag:        true,
		WillQoS:         1,
		WillTopic:       "goodbye",
		WillMessage:     []byte("bye"),
		KeepAlive:       30,
		ClientID:        "client-a-raw",
	}
	frame, err := connectPkt.Encode()
	if err != nil {
		t.Fatalf("encode connect: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	reader := bufio.NewReader(conn)
	header, err := wiremqtt.ReadFixedHeader(reader)
	if err != nil {
		t.Fatalf("read connack header: %v", err)
	}
	if header.PacketType != wiremqtt.CONNACK {
		t.Fatalf("expected CONNACK, got %v", header.PacketType)
	}

	// Abnormal disconnect: close the raw socket without sending DISCONNECT.
	conn.Close()

	msg := waitMsg(t, ch, 5*time.Second)
	if msg.topic != "goodbye" || msg.payload != "bye" {
		t.Fatalf("unexpected will delivery: %+v", msg)
	}
}

// Scenario: clean-start=false resumption replays a qos 1 message queued
// while the client was offline, without re-subscribing.
func TestCleanStartFalseResumption(t *testing.T) {
	addr, _, stop := startTestBroker(t)
	defer stop()

	x := dial(t, addr, "x1", false)
	if token := x.Subscribe("alerts/#", 1, nil); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe: %v", token.Error())
	}
	x.Disconnect(100)
	time.Sleep(50 * time.Millisecond)

	pub := dial(t, addr, "publisher", true)
	defer pub.Disconnect(100)
	if token := pub.Publish("alerts/fire", 1, false, "P"); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("publish: %v", token.Error())
	}
	time.Sleep(100 * time.Millisecond)

	ch, handler := collector(1)
	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + addr).
		SetClientID("x1").
		SetCleanSession(false).
		SetDefaultPublishHandler(handler).
		SetConnectTimeout(5 * time.Second)
	x2 := mqtt.NewClient(opts)
	token := x2.Connect()
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("reconnect: %v", token.Error())
	}
	defer x2.Disconnect(100)

	msg := waitMsg(t, ch, 5*time.Second)
	if msg.topic != "alerts/fire" || msg.payload != "P" {
		t.Fatalf("unexpected resumed delivery: %+v", msg)
	}
}

// Scenario: a "#" subscription never matches a reserved $ topic.
func TestReservedTopicVsHash(t *testing.T) {
	addr, _, stop := startTestBroker(t)
	defer stop()

	sub := dial(t, addr, "subscriber", true)
	defer sub.Disconnect(100)
	ch, handler := collector(1)
	if token := sub.Subscribe("#", 0, handler); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe: %v", token.Error())
	}

	pub := dial(t, addr, "publisher", true)
	defer pub.Disconnect(100)
	if token := pub.Publish("$SYS/foo", 0, false, "x"); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("publish: %v", token.Error())
	}
	expectNoMsg(t, ch, 500*time.Millisecond)
}

// QoS degradation: a qos 2 publish delivered to a qos 0 subscriber arrives
// at qos 0, never higher than either side requested.
func TestQoSDegradation(t *testing.T) {
	addr, _, stop := startTestBroker(t)
	defer stop()

	sub := dial(t, addr, "subscriber", true)
	defer sub.Disconnect(100)
	ch, handler := collector(1)
	if token := sub.Subscribe("metrics/cpu", 0, handler); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe: %v", token.Error())
	}

	pub := dial(t, addr, "publisher", true)
	defer pub.Disconnect(100)
	if token := pub.Publish("metrics/cpu", 2, false, "99"); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("publish: %v", token.Error())
	}

	msg := waitMsg(t, ch, 5*time.Second)
	if msg.qos != 0 {
		t.Fatalf("expected degraded qos 0, got %d", msg.qos)
	}
}

// Multiple overlapping subscriptions on the same pipe each get a single
// delivery per matching publish — no duplicate copies for the same pipe.
func TestNoDuplicateDelivery(t *testing.T) {
	addr, _, stop := startTestBroker(t)
	defer stop()

	sub := dial(t, addr, "subscriber", true)
	defer sub.Disconnect(100)
	ch, handler := collector(4)
	if token := sub.Subscribe("a/b", 1, handler); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe a/b: %v", token.Error())
	}
	// Only the first subscription registers the handler, so each PUBLISH
	// frame the broker sends to this pipe is counted exactly once.
	if token := sub.Subscribe("a/+", 1, nil); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe a/+: %v", token.Error())
	}

	pub := dial(t, addr, "publisher", true)
	defer pub.Disconnect(100)
	if token := pub.Publish("a/b", 0, false, "x"); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("publish: %v", token.Error())
	}

	waitMsg(t, ch, 5*time.Second)
	expectNoMsg(t, ch, 300*time.Millisecond)
}

// Concurrent publishers on disjoint topics all get through — a smoke test
// for the topic-index lock granularity under parallel load.
func TestConcurrentPublishersDisjointTopics(t *testing.T) {
	addr, _, stop := startTestBroker(t)
	defer stop()

	const n = 8
	var wg sync.WaitGroup
	chans := make([]chan recvMsg, n)
	for i := 0; i < n; i++ {
		topic := fmt.Sprintf("rooms/%d/temp", i)
		c := dial(t, addr, fmt.Sprintf("sub-%d", i), true)
		defer c.Disconnect(100)
		ch, handler := collector(1)
		if token := c.Subscribe(topic, 0, handler); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			t.Fatalf("subscribe %s: %v", topic, token.Error())
		}
		chans[i] = ch
	}

	pub := dial(t, addr, "fanout-publisher", true)
	defer pub.Disconnect(100)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			topic := fmt.Sprintf("rooms/%d/temp", i)
			pub.Publish(topic, 0, false, fmt.Sprintf("%d", i)).Wait()
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		msg := waitMsg(t, chans[i], 5*time.Second)
		if msg.payload != fmt.Sprintf("%d", i) {
			t.Fatalf("room %d: unexpected payload %q", i, msg.payload)
		}
	}
}
