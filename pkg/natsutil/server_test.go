package natsutil

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func TestSubscribeReceivesAndDropsMalformed(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan testMsg, 2)
	sub, err := Subscribe(nc, "test.sub", func(_ context.Context, m testMsg) { ch <- m })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := nc.Publish("test.sub", []byte("{broken")); err != nil {
		t.Fatal(err)
	}
	if err := Publish(context.Background(), nc, "test.sub", testMsg{Name: "ok", Value: 1}); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-ch:
		if got.Name != "ok" {
			t.Fatalf("unexpected %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	select {
	case extra := <-ch:
		t.Fatalf("malformed message reached handler: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}
