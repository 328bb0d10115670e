package usecase

import (
	"context"
	"log/slog"

	"github.com/you-humble/apsplot/internal/domain"
)

// recorder writes journal updates and events for one run. Both are audit
// side channels: a failure is logged and never fails the workflow.
type recorder struct {
	runID   string
	journal RunJournal
	events  EventPublisher
	now     clock
	logger  *slog.Logger
}

func (r *recorder) update(ctx context.Context, u domain.RunUpdate) {
	if err := r.journal.Update(ctx, r.runID, u); err != nil {
		r.logger.Warn("journal update failed",
			slog.String("run_id", r.runID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *recorder) publish(ctx context.Context, ev domain.Event) {
	ev.RunID = r.runID
	ev.At = r.now()
	if err := r.events.Publish(ctx, ev); err != nil {
		r.logger.Warn("event publish failed",
			slog.String("run_id", r.runID),
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (r *recorder) trackTerminal(ctx context.Context, track, status string) {
	r.publish(ctx, domain.Event{Type: domain.EventTrackTerminal, Track: track, Status: status})
}

// finish stores the final state of the run and announces it.
func (r *recorder) finish(ctx context.Context, u domain.RunUpdate, err error) {
	ev := domain.Event{Type: domain.EventRunFinished, Status: string(domain.RunDone)}
	u.Status = domain.RunDone
	if err != nil {
		u.Status = domain.RunFailed
		u.Error = err.Error()
		ev.Status = string(domain.RunFailed)
		ev.Error = err.Error()
	}

	// The run context may already be canceled; the record must still land.
	ctx = context.WithoutCancel(ctx)
	r.update(ctx, u)
	r.publish(ctx, ev)
}
