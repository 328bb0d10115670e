package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/you-humble/apsplot/internal/domain"
)

// Fetcher is the part of a pull subscription the consumer loop needs.
type Fetcher interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
	Drain() error
}

type Handler func(ctx context.Context, ev domain.Event) error

type consumer struct {
	js      nats.JetStreamContext
	stream  string
	subject string
	durable string
	batch   int
}

// NewConsumer reads run events from stream. Only events published after the
// consumer is first created are delivered.
func NewConsumer(js nats.JetStreamContext, stream, subjectPrefix, durable string) *consumer {
	return &consumer{
		js:      js,
		stream:  stream,
		subject: Subjects(subjectPrefix)[0],
		durable: durable,
		batch:   16,
	}
}

func (c *consumer) Run(ctx context.Context, handle Handler) error {
	_, err := c.js.AddConsumer(c.stream, &nats.ConsumerConfig{
		Durable:       c.durable,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverNewPolicy,
		FilterSubject: c.subject,
		MaxAckPending: c.batch * 2,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return fmt.Errorf("JetStream AddConsumer %s: %w", c.durable, err)
	}

	sub, err := c.js.PullSubscribe(c.subject, c.durable, nats.Bind(c.stream, c.durable))
	if err != nil {
		return fmt.Errorf("JetStream PullSubscribe %s: %w", c.subject, err)
	}

	slog.Info("event consumer is running",
		slog.String("stream", c.stream),
		slog.String("subject", c.subject),
		slog.String("durable", c.durable),
	)
	return consume(ctx, sub, c.batch, handle)
}

func consume(ctx context.Context, sub Fetcher, batch int, handle Handler) error {
	defer func() {
		if err := sub.Drain(); err != nil {
			slog.Warn("NATS subscription drain", slog.String("error", err.Error()))
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := sub.Fetch(batch, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				continue
			}
			slog.Warn("NATS Fetch", slog.String("error", err.Error()))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, msg := range msgs {
			deliver(ctx, msg, handle)
		}
	}
}

func deliver(ctx context.Context, msg *nats.Msg, handle Handler) {
	var ev domain.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		slog.Error("drop malformed event",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
		if err := msg.Term(); err != nil {
			slog.Debug("NATS Term", slog.String("error", err.Error()))
		}
		return
	}

	if err := handle(ctx, ev); err != nil {
		slog.Warn("handle event",
			slog.String("run_id", ev.RunID),
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		if err := msg.Nak(); err != nil {
			slog.Debug("NATS Nak", slog.String("error", err.Error()))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		slog.Debug("NATS Ack", slog.String("error", err.Error()))
	}
}
