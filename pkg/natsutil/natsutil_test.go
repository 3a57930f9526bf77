package natsutil

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type testMsg struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type fakePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakePublisher) PublishMsg(msg *nats.Msg) error {
	f.msgs = append(f.msgs, msg)
	return f.err
}

func tracedContext(t *testing.T) (context.Context, trace.SpanContext) {
	t.Helper()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc), sc
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}

	keys := carrier.Keys()
	if len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestNatsHeaderCarrierNilHeader(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}
}

func TestPublishInjectsTrace(t *testing.T) {
	ctx, sc := tracedContext(t)
	pub := &fakePublisher{}

	if err := Publish(ctx, pub, "safety.changes", testMsg{Name: "f1", Value: 2}); err != nil {
		t.Fatal(err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.Subject != "safety.changes" || string(msg.Data) != `{"name":"f1","value":2}` {
		t.Fatalf("unexpected message %q %s", msg.Subject, msg.Data)
	}

	got, v, err := Decode[testMsg](msg)
	if err != nil {
		t.Fatal(err)
	}
	if v.Name != "f1" || v.Value != 2 {
		t.Fatalf("unexpected payload %+v", v)
	}
	if trace.SpanContextFromContext(got).TraceID() != sc.TraceID() {
		t.Fatal("trace id not propagated")
	}
}

func TestPublishReturnsConnError(t *testing.T) {
	boom := errors.New("closed")
	err := Publish(context.Background(), &fakePublisher{err: boom}, "s", testMsg{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}

func TestPublishUnencodable(t *testing.T) {
	pub := &fakePublisher{}
	if err := Publish(context.Background(), pub, "s", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if len(pub.msgs) != 0 {
		t.Fatal("nothing should be published")
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, _, err := Decode[testMsg](&nats.Msg{Data: []byte("{invalid json")}); err == nil {
		t.Fatal("expected error")
	}
}
