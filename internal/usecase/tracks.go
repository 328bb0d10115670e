package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/you-humble/apsplot/internal/domain"
	"github.com/you-humble/apsplot/internal/poller"
)

const (
	trackTranslation = "translation"
	trackWorkItem    = "workitem"
)

// translationTrack follows the viewer translation of one URN.
type translationTrack struct {
	cloud      Translator
	tokens     TokenSource
	urn        string
	onTerminal func(ctx context.Context, track, status string)
	logger     *slog.Logger

	last domain.TranslationStatus
}

func (t *translationTrack) Name() string { return trackTranslation }

func (t *translationTrack) Poll(ctx context.Context) (poller.State, error) {
	token, err := t.tokens.Bearer(ctx)
	if err != nil {
		return poller.Polling, fmt.Errorf("token: %w", err)
	}
	st, err := t.cloud.TranslationStatus(ctx, token, t.urn)
	if err != nil {
		return poller.Polling, err
	}
	t.last = st

	t.logger.Info("MD status",
		slog.String("status", st.Status),
		slog.String("progress", st.Progress),
	)

	switch {
	case !st.Terminal():
		return poller.Polling, nil
	case st.Succeeded():
		t.notify(ctx)
		return poller.Succeeded, nil
	default:
		t.notify(ctx)
		return poller.Failed, nil
	}
}

func (t *translationTrack) notify(ctx context.Context) {
	if t.onTerminal != nil {
		t.onTerminal(ctx, trackTranslation, t.last.Status)
	}
}

// workItemTrack follows one design automation work item. On a terminal
// status it prints the job report when the service offers one.
type workItemTrack struct {
	cloud      Automation
	tokens     TokenSource
	id         string
	report     io.Writer
	onTerminal func(ctx context.Context, track, status string)
	logger     *slog.Logger

	last domain.WorkItemStatus
}

func (t *workItemTrack) Name() string { return trackWorkItem }

func (t *workItemTrack) Poll(ctx context.Context) (poller.State, error) {
	token, err := t.tokens.Bearer(ctx)
	if err != nil {
		return poller.Polling, fmt.Errorf("token: %w", err)
	}
	st, err := t.cloud.WorkItemStatus(ctx, token, t.id)
	if err != nil {
		return poller.Polling, err
	}
	t.last = st

	t.logger.Info("DA status",
		slog.String("work_item_id", t.id),
		slog.String("status", st.Status),
	)

	if !st.Terminal() {
		return poller.Polling, nil
	}

	t.printReport(ctx)
	if t.onTerminal != nil {
		t.onTerminal(ctx, trackWorkItem, st.Status)
	}
	if st.Succeeded() {
		return poller.Succeeded, nil
	}
	return poller.Failed, nil
}

func (t *workItemTrack) printReport(ctx context.Context) {
	if t.last.ReportURL == "" || t.report == nil {
		return
	}
	text, err := t.cloud.FetchReport(ctx, t.last.ReportURL)
	if err != nil {
		t.logger.Warn("cannot fetch work item report",
			slog.String("work_item_id", t.id),
			slog.String("error", err.Error()),
		)
		return
	}
	fmt.Fprintf(t.report, "--- DA REPORT ---\n%s\n--- END REPORT ---\n", text)
}
