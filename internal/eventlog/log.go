// Package eventlog defines the durable, subject-partitioned append-only
// stream the rest of the engine treats as its single source of truth, and a
// NATS JetStream-backed implementation of it.
package eventlog

import (
	"context"
	"encoding/json"
	"time"
)

// DeliverPolicy selects which portion of a subject's history fetch_by_subject
// returns.
type DeliverPolicy int

const (
	// DeliverAll replays every retained record on the subject.
	DeliverAll DeliverPolicy = iota
	// DeliverLastPerSubject returns only the newest record per literal subject
	// matched by a wildcard filter.
	DeliverLastPerSubject
	// DeliverNew returns only records appended after the consumer attaches.
	DeliverNew
)

// Record is one appended, immutable event-log entry.
type Record struct {
	Subject   string
	Event     string // "<name>:v<version>"
	Timestamp time.Time
	Payload   json.RawMessage
	MsgID     string
	Sequence  uint64
}

// Decode unmarshals the record payload into v.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r.Payload, v)
}

// Log is the contract the ritual engine, approvals subsystem, TTL worker,
// graph commit store, and scale-hint emitter all depend on. No component
// holds an in-process lock over it; the log itself is the only authority.
type Log interface {
	// Publish appends payload to subject, deduplicated on msgID within the
	// server's configured window. Two publishes with the same msgID within
	// that window yield exactly one stored record.
	Publish(ctx context.Context, subject, event string, payload any, msgID string) error

	// FetchBySubject returns an ordered stream of records matching
	// subjectFilter (which may contain NATS-style wildcards), honoring
	// policy.
	FetchBySubject(ctx context.Context, subjectFilter string, policy DeliverPolicy) ([]Record, error)

	// GetOrCreateStream idempotently provisions a stream covering subjects.
	GetOrCreateStream(ctx context.Context, name string, subjects []string) error
}

// PullConsumer is the subset of Log needed by durable workers that must ack
// or nak individual deliveries rather than read a batch and move on.
type PullConsumer interface {
	// Subscribe attaches a durable pull consumer named durable, filtered by
	// subjectFilter, delivering only new messages (policy is always
	// DeliverNew for workers — replay is handled by projections, not
	// workers). The returned Subscription is pulled explicitly via Fetch.
	Subscribe(ctx context.Context, durable, subjectFilter string, batch int, pullTimeout time.Duration) (Subscription, error)
}

// Subscription is a durable pull consumer attachment.
type Subscription struct {
	Fetch func(ctx context.Context) ([]Delivery, error)
	Close func() error
}

// Delivery is one pulled, not-yet-acked message.
type Delivery struct {
	Record Record
	Ack    func() error
	Nak    func(delay time.Duration) error
}
