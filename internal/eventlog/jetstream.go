package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// wireRecord is the on-wire shape of an event-log entry. Event names and
// payload fields are camelCased per §6.
type wireRecord struct {
	Event string          `json:"event"`
	Ts    string          `json:"ts"`
	Rest  json.RawMessage `json:"-"`
}

// JetStreamLog is the production Log implementation, backed by NATS
// JetStream. It trusts the server for per-subject ordering and msg-id
// dedup; it holds no in-process lock over published state.
type JetStreamLog struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Dial connects to natsURL and wraps the connection's JetStream context.
func Dial(ctx context.Context, natsURL string) (*JetStreamLog, error) {
	nc, err := nats.Connect(natsURL, nats.Name("demon-engine"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats %q: %w", natsURL, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("attach jetstream: %w", err)
	}
	return &JetStreamLog{nc: nc, js: js}, nil
}

// Close closes the underlying NATS connection without draining it first.
func (l *JetStreamLog) Close() {
	if l.nc != nil {
		l.nc.Close()
	}
}

func (l *JetStreamLog) GetOrCreateStream(ctx context.Context, name string, subjects []string) error {
	_, err := l.js.Stream(ctx, name)
	if err == nil {
		return nil
	}
	if err != jetstream.ErrStreamNotFound {
		return fmt.Errorf("lookup stream %s: %w", name, err)
	}
	_, err = l.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	return nil
}

func (l *JetStreamLog) Publish(ctx context.Context, subject, event string, payload any, msgID string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = body
	msg.Header.Set("Nats-Msg-Id", msgID)
	_, err = l.js.PublishMsg(ctx, msg)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, subject, err)
	}
	return nil
}

func (l *JetStreamLog) FetchBySubject(ctx context.Context, subjectFilter string, policy DeliverPolicy) ([]Record, error) {
	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subjectFilter},
		DeliverPolicy:  toJSDeliverPolicy(policy),
	}
	streamName, err := l.streamNameForFilter(ctx, subjectFilter)
	if err != nil {
		return nil, err
	}
	cons, err := l.js.OrderedConsumer(ctx, streamName, cfg)
	if err != nil {
		return nil, fmt.Errorf("ordered consumer on %s: %w", subjectFilter, err)
	}

	var records []Record
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		batch, err := cons.Fetch(256, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, fmt.Errorf("fetch from %s: %w", subjectFilter, err)
		}
		count := 0
		for msg := range batch.Messages() {
			count++
			rec, err := decodeRecord(msg)
			if err != nil {
				continue
			}
			records = append(records, rec)
			_ = msg.Ack()
		}
		if err := batch.Error(); err != nil || count == 0 {
			break
		}
		select {
		case <-fetchCtx.Done():
			return records, nil
		default:
		}
	}
	return records, nil
}

// streamNameForFilter picks the stream owning subjectFilter's prefix. The
// three domain streams partition subjects disjointly (§6).
func (l *JetStreamLog) streamNameForFilter(ctx context.Context, subjectFilter string) (string, error) {
	switch {
	case hasPrefix(subjectFilter, "demon.ritual.v1."):
		if _, err := l.js.Stream(ctx, StreamRitualEvents); err == nil {
			return StreamRitualEvents, nil
		}
		return StreamRitualEventsLegacy, nil
	case hasPrefix(subjectFilter, "demon.graph.v1."):
		return StreamGraphCommits, nil
	case hasPrefix(subjectFilter, "demon.scale.v1."):
		return StreamScaleHints, nil
	default:
		return "", fmt.Errorf("no stream owns subject filter %q", subjectFilter)
	}
}

func (l *JetStreamLog) Subscribe(ctx context.Context, durable, subjectFilter string, batch int, pullTimeout time.Duration) (Subscription, error) {
	streamName, err := l.streamNameForFilter(ctx, subjectFilter)
	if err != nil {
		return Subscription{}, err
	}
	cons, err := l.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:        durable,
		FilterSubjects: []string{subjectFilter},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
		AckPolicy:      jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return Subscription{}, fmt.Errorf("create consumer %s: %w", durable, err)
	}

	fetch := func(ctx context.Context) ([]Delivery, error) {
		msgs, err := cons.Fetch(batch, jetstream.FetchMaxWait(pullTimeout))
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", durable, err)
		}
		var deliveries []Delivery
		for msg := range msgs.Messages() {
			rec, derr := decodeRecord(msg)
			m := msg
			deliveries = append(deliveries, Delivery{
				Record: rec,
				Ack:    func() error { return m.Ack() },
				Nak: func(delay time.Duration) error {
					return m.NakWithDelay(delay)
				},
			})
			if derr != nil {
				// Still surfaced; caller decides (malformed payload ack-and-skip).
				continue
			}
		}
		if err := msgs.Error(); err != nil {
			return deliveries, fmt.Errorf("fetch batch error on %s: %w", durable, err)
		}
		return deliveries, nil
	}

	return Subscription{Fetch: fetch, Close: func() error { return nil }}, nil
}

func decodeRecord(msg jetstream.Msg) (Record, error) {
	meta, err := msg.Metadata()
	seq := uint64(0)
	if err == nil {
		seq = meta.Sequence.Stream
	}
	var wr wireRecord
	if err := json.Unmarshal(msg.Data(), &wr); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	ts, _ := time.Parse(time.RFC3339, wr.Ts)
	return Record{
		Subject:   msg.Subject(),
		Event:     wr.Event,
		Timestamp: ts,
		Payload:   msg.Data(),
		MsgID:     msg.Headers().Get("Nats-Msg-Id"),
		Sequence:  seq,
	}, nil
}

func toJSDeliverPolicy(p DeliverPolicy) jetstream.DeliverPolicy {
	switch p {
	case DeliverLastPerSubject:
		return jetstream.DeliverLastPerSubjectPolicy
	case DeliverNew:
		return jetstream.DeliverNewPolicy
	default:
		return jetstream.DeliverAllPolicy
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
