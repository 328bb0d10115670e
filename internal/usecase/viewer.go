package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/you-humble/apsplot/internal/domain"
	"github.com/you-humble/apsplot/internal/poller"
)

var ErrEmptyUpload = errors.New("no file uploaded")

type ViewerConfig struct {
	Bucket       string
	BucketPolicy string
	RunTTL       time.Duration
	Poll         poller.Config
}

// ViewerSession is what the viewer page needs to display a translated model.
type ViewerSession struct {
	RunID string
	URN   string
	Token string
}

// Viewer uploads a drawing and waits for its viewer translation only.
type Viewer struct {
	cfg        ViewerConfig
	cloud      Cloud
	sessions   SessionFactory
	journal    RunJournal
	events     EventPublisher
	pollerOpts []poller.Option
	now        clock
	logger     *slog.Logger
}

func NewViewer(
	cfg ViewerConfig,
	cloud Cloud,
	sessions SessionFactory,
	journal RunJournal,
	events EventPublisher,
	pollerOpts ...poller.Option,
) *Viewer {
	return &Viewer{
		cfg:        cfg,
		cloud:      cloud,
		sessions:   sessions,
		journal:    journal,
		events:     events,
		pollerOpts: pollerOpts,
		now:        time.Now,
		logger:     slog.Default(),
	}
}

func (v *Viewer) Prepare(ctx context.Context, filename string, data []byte) (ViewerSession, error) {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || strings.TrimSpace(name) == "" || len(data) == 0 {
		return ViewerSession{}, ErrEmptyUpload
	}

	tokens := v.sessions()
	token, err := tokens.Bearer(ctx)
	if err != nil {
		return ViewerSession{}, fmt.Errorf("authenticate: %w", err)
	}

	run, err := v.journal.Create(ctx, domain.CreateRunParams{
		Kind:       domain.RunViewer,
		SourceName: name,
		Bucket:     v.cfg.Bucket,
		TTL:        v.cfg.RunTTL,
	})
	if err != nil {
		return ViewerSession{}, fmt.Errorf("create run: %w", err)
	}
	rec := &recorder{
		runID:   run.ID,
		journal: v.journal,
		events:  v.events,
		now:     v.now,
		logger:  v.logger,
	}
	rec.publish(ctx, domain.Event{Type: domain.EventRunStarted})

	urn, err := v.translate(ctx, rec, tokens, token, name, data)
	rec.finish(ctx, domain.RunUpdate{URN: urn, TranslationStatus: statusOf(err)}, err)
	if err != nil {
		return ViewerSession{}, err
	}

	// The model may have taken long enough to need a fresh token.
	token, err = tokens.Bearer(ctx)
	if err != nil {
		return ViewerSession{}, fmt.Errorf("authenticate: %w", err)
	}
	return ViewerSession{RunID: run.ID, URN: urn, Token: token}, nil
}

func (v *Viewer) translate(
	ctx context.Context,
	rec *recorder,
	tokens TokenSource,
	token, name string,
	data []byte,
) (string, error) {
	l := v.logger.With(slog.String("run_id", rec.runID))

	if err := v.cloud.CreateBucket(ctx, token, v.cfg.Bucket, v.cfg.BucketPolicy); err != nil {
		return "", fmt.Errorf("create bucket: %w", err)
	}
	obj, err := v.cloud.Upload(ctx, token, v.cfg.Bucket, name, data)
	if err != nil {
		return "", fmt.Errorf("upload source: %w", err)
	}
	urn := domain.EncodeURN(obj.ObjectID)

	if err := v.cloud.StartTranslation(ctx, token, urn); err != nil {
		return urn, fmt.Errorf("start translation: %w", err)
	}
	rec.update(ctx, domain.RunUpdate{Status: domain.RunPolling, URN: urn})
	l.Info("MD translation job submitted", slog.String("urn", urn))

	md := &translationTrack{
		cloud:      v.cloud,
		tokens:     tokens,
		urn:        urn,
		onTerminal: rec.trackTerminal,
		logger:     l,
	}
	opts := append([]poller.Option{poller.WithLogger(l)}, v.pollerOpts...)
	if _, err := poller.New(v.cfg.Poll, opts...).Wait(ctx, md); err != nil {
		return urn, fmt.Errorf("wait for translation: %w", err)
	}
	if !md.last.Succeeded() {
		return urn, &domain.JobFailedError{Failures: []domain.TrackFailure{
			{Track: trackTranslation, Status: md.last.Status},
		}}
	}
	return urn, nil
}

func statusOf(err error) string {
	if err == nil {
		return domain.TranslationSuccess
	}
	var jobErr *domain.JobFailedError
	if errors.As(err, &jobErr) && len(jobErr.Failures) > 0 {
		return jobErr.Failures[0].Status
	}
	return ""
}
