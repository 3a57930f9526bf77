// Package events announces changes to the safety graph on NATS so other
// tools can follow edits without polling.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/WessleyAI/safety-workbench/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// Action is what happened to an entity.
type Action string

const (
	Created  Action = "created"
	Updated  Action = "updated"
	Deleted  Action = "deleted"
	Linked   Action = "linked"
	Unlinked Action = "unlinked"
	Imported Action = "imported"
)

// Change is one event. Subjects are "<prefix>.<kind>.<action>", e.g.
// "safety.changes.failure.deleted".
type Change struct {
	Kind   string    `json:"kind"`
	Action Action    `json:"action"`
	ID     string    `json:"id,omitempty"`
	Parent string    `json:"parent,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher sends change events. Publishing is best-effort: callers never
// fail a request because an event could not be sent.
type Publisher interface {
	Publish(ctx context.Context, c Change)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Change) {}

// NATS publishes events as JSON under a subject prefix.
type NATS struct {
	conn   natsutil.Publisher
	prefix string
	log    *slog.Logger
	now    func() time.Time
}

// NewNATS wraps conn. conn is usually a *nats.Conn.
func NewNATS(conn natsutil.Publisher, prefix string, log *slog.Logger) *NATS {
	return &NATS{conn: conn, prefix: prefix, log: log, now: time.Now}
}

// Subject returns the subject c is published on.
func (p *NATS) Subject(c Change) string {
	return p.prefix + "." + c.Kind + "." + string(c.Action)
}

// Publish implements Publisher. Send failures are logged.
func (p *NATS) Publish(ctx context.Context, c Change) {
	if c.At.IsZero() {
		c.At = p.now().UTC()
	}
	if err := natsutil.Publish(ctx, p.conn, p.Subject(c), c); err != nil {
		p.log.Warn("publish change", "kind", c.Kind, "action", c.Action, "id", c.ID, "err", err)
	}
}

// Listen delivers every change under prefix to handler until the
// subscription is drained.
func Listen(nc *nats.Conn, prefix string, handler func(context.Context, Change)) (*nats.Subscription, error) {
	return natsutil.Subscribe(nc, prefix+".>", handler)
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*NATS)(nil)
)
