package natsbus

import (
	"context"
	"testing"
	"time"

	"github.com/mtzanidakis/aiteam/internal/config"
	"github.com/nats-io/nats.go"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(config.NATSConfig{Port: -1}) // Random port
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func TestBusStartStop(t *testing.T) {
	bus := newTestBus(t)

	url := bus.ClientURL()
	if url == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestPubSub(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	if !client.Connected() {
		t.Fatal("expected client to be connected")
	}

	received := make(chan string, 1)
	_, err = client.Subscribe("test.topic", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.Publish("test.topic", []byte("hello")); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != "hello" {
			t.Errorf("expected 'hello', got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishJSON(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe("test.json", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	payload := map[string]string{"key": "value"}
	if err := client.PublishJSON("test.json", payload); err != nil {
		t.Fatalf("publish json error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != `{"key":"value"}` {
			t.Errorf("expected json, got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestQueueSubscribeDeliversOnce(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 4)
	for i := 0; i < 2; i++ {
		if _, err := client.QueueSubscribe("work", "workers", func(msg *nats.Msg) {
			received <- string(msg.Data)
		}); err != nil {
			t.Fatalf("queue subscribe error: %v", err)
		}
	}

	if err := client.Publish("work", []byte("unit")); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for unit")
	}
	select {
	case extra := <-received:
		t.Fatalf("unit delivered twice: %s", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRequestWithContext(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	if _, err := client.Subscribe("echo", func(msg *nats.Msg) {
		_ = msg.Respond(append([]byte("re: "), msg.Data...))
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := client.RequestWithContext(ctx, "echo", []byte("hi"))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if string(reply.Data) != "re: hi" {
		t.Errorf("expected 're: hi', got %q", reply.Data)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	if _, err := client.RequestWithContext(short, "nobody.home", []byte("x")); err == nil {
		t.Error("expected error for request without responders")
	}
}

func TestConnectUnreachable(t *testing.T) {
	if _, err := NewClientFromURL("nats://127.0.0.1:1"); err == nil {
		t.Fatal("expected error connecting to unreachable broker")
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicEventsPipeline("r1"); got != "events.pipeline.r1" {
		t.Errorf("expected events.pipeline.r1, got %s", got)
	}
	if got := TopicEventsRetro(); got != "events.retro" {
		t.Errorf("expected events.retro, got %s", got)
	}
}
