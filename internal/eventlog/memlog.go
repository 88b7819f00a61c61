package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemLog is a deterministic in-process fake of Log, used by component tests
// that need subject-scoped fetch and msg-id dedup without a NATS server.
type MemLog struct {
	mu       sync.Mutex
	records  []Record
	seenMsgs map[string]struct{}
	seq      uint64
	subs     map[string][]chan Record
	now      func() time.Time
}

// NewMemLog constructs an empty fake log.
func NewMemLog() *MemLog {
	return &MemLog{
		seenMsgs: make(map[string]struct{}),
		subs:     make(map[string][]chan Record),
		now:      time.Now,
	}
}

func (l *MemLog) GetOrCreateStream(ctx context.Context, name string, subjects []string) error {
	return nil // in-memory: every subject is always provisioned
}

func (l *MemLog) Publish(ctx context.Context, subject, event string, payload any, msgID string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.seenMsgs[msgID]; dup {
		return nil // idempotent no-op, matching server-side Nats-Msg-Id dedup
	}
	l.seenMsgs[msgID] = struct{}{}
	l.seq++
	rec := Record{
		Subject:   subject,
		Event:     event,
		Timestamp: l.now(),
		Payload:   body,
		MsgID:     msgID,
		Sequence:  l.seq,
	}
	l.records = append(l.records, rec)
	for pattern, chans := range l.subs {
		if subjectMatches(pattern, subject) {
			for _, ch := range chans {
				select {
				case ch <- rec:
				default:
				}
			}
		}
	}
	return nil
}

func (l *MemLog) FetchBySubject(ctx context.Context, subjectFilter string, policy DeliverPolicy) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matched []Record
	for _, rec := range l.records {
		if subjectMatches(subjectFilter, rec.Subject) {
			matched = append(matched, rec)
		}
	}
	if policy != DeliverLastPerSubject {
		return matched, nil
	}
	latest := make(map[string]Record)
	var order []string
	for _, rec := range matched {
		if _, ok := latest[rec.Subject]; !ok {
			order = append(order, rec.Subject)
		}
		latest[rec.Subject] = rec
	}
	out := make([]Record, 0, len(order))
	for _, subj := range order {
		out = append(out, latest[subj])
	}
	return out, nil
}

// Subscribe implements a minimal PullConsumer over future publishes only
// (DeliverNew semantics — matching the TTL worker's requirement).
func (l *MemLog) Subscribe(ctx context.Context, durable, subjectFilter string, batch int, pullTimeout time.Duration) (Subscription, error) {
	ch := make(chan Record, 1024)
	l.mu.Lock()
	l.subs[subjectFilter] = append(l.subs[subjectFilter], ch)
	l.mu.Unlock()

	fetch := func(ctx context.Context) ([]Delivery, error) {
		var out []Delivery
		deadline := time.NewTimer(pullTimeout)
		defer deadline.Stop()
		for len(out) < batch {
			select {
			case rec := <-ch:
				out = append(out, Delivery{
					Record: rec,
					Ack:    func() error { return nil },
					Nak:    func(time.Duration) error { return nil },
				})
			case <-deadline.C:
				return out, nil
			case <-ctx.Done():
				return out, ctx.Err()
			}
		}
		return out, nil
	}
	return Subscription{Fetch: fetch, Close: func() error { return nil }}, nil
}

// subjectMatches implements NATS-style `*`/`>` wildcard matching over
// dot-separated tokens.
func subjectMatches(pattern, subject string) bool {
	pTokens := splitSubject(pattern)
	sTokens := splitSubject(subject)
	for i, pt := range pTokens {
		if pt == ">" {
			return true
		}
		if i >= len(sTokens) {
			return false
		}
		if pt != "*" && pt != sTokens[i] {
			return false
		}
	}
	return len(pTokens) == len(sTokens)
}

func splitSubject(s string) []string {
	var tokens []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			tokens = append(tokens, s[start:i])
			start = i + 1
		}
	}
	tokens = append(tokens, s[start:])
	return tokens
}
