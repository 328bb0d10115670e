package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/you-humble/apsplot/internal/domain"
)

type State int

const (
	Polling State = iota
	Succeeded
	Failed
)

func (s State) Terminal() bool { return s == Succeeded || s == Failed }

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "polling"
	}
}

// Machine is one remote job observed through single-shot probes.
// An error from Poll is treated as transient and the machine is probed
// again on the next tick.
type Machine interface {
	Name() string
	Poll(ctx context.Context) (State, error)
}

type Config struct {
	Interval time.Duration
	// MaxAttempts bounds the number of ticks. Zero means unbounded.
	MaxAttempts int
	// MaxWait bounds the wall-clock time spent waiting. Zero means unbounded.
	MaxWait time.Duration
}

type Outcome struct {
	Name   string
	State  State
	Probes int
	Errors int
}

type Scheduler struct {
	cfg    Config
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithSleep replaces the pause between ticks.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		logger: slog.Default(),
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait drives every machine until all of them are terminal. A machine that
// reached a terminal state is never probed again. Failed machines do not stop
// the others; the caller inspects the outcomes.
func (s *Scheduler) Wait(ctx context.Context, machines ...Machine) ([]Outcome, error) {
	outcomes := make([]Outcome, len(machines))
	for i, m := range machines {
		outcomes[i] = Outcome{Name: m.Name(), State: Polling}
	}

	start := s.now()
	for tick := 1; ; tick++ {
		pending := 0
		for i, m := range machines {
			if outcomes[i].State.Terminal() {
				continue
			}

			outcomes[i].Probes++
			st, err := m.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return outcomes, ctx.Err()
				}
				outcomes[i].Errors++
				pending++
				s.logger.Warn("probe failed, retrying next tick",
					slog.String("track", m.Name()),
					slog.Int("tick", tick),
					slog.String("error", err.Error()),
				)
				continue
			}

			outcomes[i].State = st
			if !st.Terminal() {
				pending++
				continue
			}
			s.logger.Info("track terminal",
				slog.String("track", m.Name()),
				slog.String("state", st.String()),
				slog.Int("probes", outcomes[i].Probes),
			)
		}

		if pending == 0 {
			return outcomes, nil
		}

		if s.cfg.MaxAttempts > 0 && tick >= s.cfg.MaxAttempts {
			return outcomes, fmt.Errorf("%w: %d ticks, %d tracks still polling", domain.ErrPollTimeout, tick, pending)
		}
		if s.cfg.MaxWait > 0 && s.now().Sub(start) >= s.cfg.MaxWait {
			return outcomes, fmt.Errorf("%w: waited %s, %d tracks still polling", domain.ErrPollTimeout, s.cfg.MaxWait, pending)
		}

		if err := s.sleep(ctx, s.cfg.Interval); err != nil {
			return outcomes, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
