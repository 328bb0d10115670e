package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/you-humble/apsplot/internal/domain"
)

// Publisher is the part of nats.JetStreamContext the queue needs.
type Publisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type queue struct {
	js     Publisher
	prefix string
}

func New(js Publisher, subjectPrefix string) *queue {
	return &queue{
		js:     js,
		prefix: subjectPrefix,
	}
}

// Subjects returns the wildcard the event stream has to capture.
func Subjects(prefix string) []string {
	return []string{prefix + ".>"}
}

func (q *queue) Publish(ctx context.Context, ev domain.Event) error {
	if ev.RunID == "" {
		return fmt.Errorf("publish %s: empty run id", ev.Type)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("publish %s: encode: %w", ev.Type, err)
	}

	msg := &nats.Msg{
		Subject: q.prefix + "." + string(ev.Type),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, msgID(ev))
	msg.Header.Set("Run-Id", ev.RunID)

	ack, err := q.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish %s for run %s: %w", ev.Type, ev.RunID, err)
	}

	slog.Debug(
		"event published",
		slog.String("run_id", ev.RunID),
		slog.String("subject", msg.Subject),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
	)
	return nil
}

// msgID lets JetStream drop duplicates of the same transition.
func msgID(ev domain.Event) string {
	id := ev.RunID + ":" + string(ev.Type)
	if ev.Track != "" {
		id += ":" + ev.Track
	}
	return id
}

type noop struct{}

// NewNoop returns a publisher that only logs. It is wired when no NATS url
// is configured.
func NewNoop() noop { return noop{} }

func (noop) Publish(_ context.Context, ev domain.Event) error {
	slog.Debug("event dropped, no broker configured",
		slog.String("run_id", ev.RunID),
		slog.String("type", string(ev.Type)),
	)
	return nil
}
