package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/you-humble/apsplot/internal/domain"
	"github.com/you-humble/apsplot/internal/poller"
)

type WorkflowConfig struct {
	Bucket       string
	BucketPolicy string
	ActivityID   string
	RunTTL       time.Duration
	Poll         poller.Config
}

// Workflow uploads a drawing, runs the viewer translation and the PDF plot
// side by side and downloads the plotted PDF.
type Workflow struct {
	cfg WorkflowConfig

	cloud     Cloud
	sessions  SessionFactory
	artifacts ArtifactStore
	journal   RunJournal
	events    EventPublisher
	inspector PDFInspector

	report     io.Writer
	pollerOpts []poller.Option
	readFile   func(string) ([]byte, error)
	now        clock
	logger     *slog.Logger
}

type WorkflowOption func(*Workflow)

// WithReportWriter sets where work item reports are printed.
func WithReportWriter(w io.Writer) WorkflowOption {
	return func(wf *Workflow) { wf.report = w }
}

func WithPollerOptions(opts ...poller.Option) WorkflowOption {
	return func(wf *Workflow) { wf.pollerOpts = append(wf.pollerOpts, opts...) }
}

func WithLogger(l *slog.Logger) WorkflowOption {
	return func(wf *Workflow) { wf.logger = l }
}

func NewWorkflow(
	cfg WorkflowConfig,
	cloud Cloud,
	sessions SessionFactory,
	artifacts ArtifactStore,
	journal RunJournal,
	events EventPublisher,
	inspector PDFInspector,
	opts ...WorkflowOption,
) *Workflow {
	wf := &Workflow{
		cfg:       cfg,
		cloud:     cloud,
		sessions:  sessions,
		artifacts: artifacts,
		journal:   journal,
		events:    events,
		inspector: inspector,
		report:    os.Stdout,
		readFile:  os.ReadFile,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(wf)
	}
	return wf
}

// Convert runs the whole workflow for the drawing at sourcePath. The returned
// run carries whatever was reached, also on error.
func (wf *Workflow) Convert(ctx context.Context, sourcePath string) (domain.Run, error) {
	data, err := wf.readFile(sourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Run{}, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, sourcePath)
		}
		return domain.Run{}, fmt.Errorf("read source: %w", err)
	}

	sourceName := filepath.Base(sourcePath)
	run, err := wf.journal.Create(ctx, domain.CreateRunParams{
		Kind:       domain.RunConvert,
		SourceName: sourceName,
		OutputName: domain.OutputName(sourceName, ".pdf"),
		Bucket:     wf.cfg.Bucket,
		TTL:        wf.cfg.RunTTL,
	})
	if err != nil {
		return domain.Run{}, fmt.Errorf("create run: %w", err)
	}

	rec := &recorder{
		runID:   run.ID,
		journal: wf.journal,
		events:  wf.events,
		now:     wf.now,
		logger:  wf.logger,
	}
	l := wf.logger.With(slog.String("run_id", run.ID))
	l.Info("workflow started",
		slog.String("source", sourceName),
		slog.Int("size", len(data)),
		slog.String("bucket", wf.cfg.Bucket),
	)
	rec.publish(ctx, domain.Event{Type: domain.EventRunStarted})

	final, err := wf.execute(ctx, l, rec, &run, data)
	rec.finish(ctx, final, err)
	if err != nil {
		run.Status = domain.RunFailed
		run.Error = err.Error()
		return run, err
	}
	run.Status = domain.RunDone

	l.Info("workflow complete",
		slog.String("urn", run.URN),
		slog.String("pdf", run.OutputPath),
		slog.Int64("pdf_size", run.OutputSize),
		slog.Int("pages", run.PageCount),
	)
	return run, nil
}

func (wf *Workflow) execute(
	ctx context.Context,
	l *slog.Logger,
	rec *recorder,
	run *domain.Run,
	data []byte,
) (domain.RunUpdate, error) {
	var final domain.RunUpdate
	tokens := wf.sessions()
	bucket := wf.cfg.Bucket

	token, err := tokens.Bearer(ctx)
	if err != nil {
		return final, fmt.Errorf("authenticate: %w", err)
	}
	if err := wf.cloud.CreateBucket(ctx, token, bucket, wf.cfg.BucketPolicy); err != nil {
		return final, fmt.Errorf("create bucket: %w", err)
	}

	source, err := wf.cloud.Upload(ctx, token, bucket, run.SourceName, data)
	if err != nil {
		return final, fmt.Errorf("upload source: %w", err)
	}
	run.URN = domain.EncodeURN(source.ObjectID)
	l.Info("source uploaded", slog.String("object_id", source.ObjectID), slog.String("urn", run.URN))

	if err := wf.cloud.CreatePlaceholder(ctx, token, bucket, run.OutputName); err != nil {
		return final, fmt.Errorf("create output placeholder: %w", err)
	}

	if err := wf.cloud.StartTranslation(ctx, token, run.URN); err != nil {
		return final, fmt.Errorf("start translation: %w", err)
	}
	l.Info("MD translation job submitted")

	hostURL, err := wf.cloud.SignedURL(ctx, token, bucket, run.SourceName, "read")
	if err != nil {
		return final, fmt.Errorf("sign source url: %w", err)
	}
	sink, err := wf.cloud.SignedUpload(ctx, token, bucket, run.OutputName)
	if err != nil {
		return final, fmt.Errorf("sign output upload: %w", err)
	}
	run.WorkItemID, err = wf.cloud.StartWorkItem(ctx, token,
		domain.NewPlotWorkItem(wf.cfg.ActivityID, hostURL, sink.URLs[0]))
	if err != nil {
		return final, fmt.Errorf("start work item: %w", err)
	}
	l.Info("DA work item submitted", slog.String("work_item_id", run.WorkItemID))

	rec.update(ctx, domain.RunUpdate{
		Status:     domain.RunPolling,
		URN:        run.URN,
		WorkItemID: run.WorkItemID,
	})

	md := &translationTrack{
		cloud:      wf.cloud,
		tokens:     tokens,
		urn:        run.URN,
		onTerminal: rec.trackTerminal,
		logger:     l,
	}
	da := &workItemTrack{
		cloud:      wf.cloud,
		tokens:     tokens,
		id:         run.WorkItemID,
		report:     wf.report,
		onTerminal: rec.trackTerminal,
		logger:     l,
	}

	l.Info("waiting for both cloud jobs", slog.Duration("interval", wf.cfg.Poll.Interval))
	_, waitErr := poller.New(wf.cfg.Poll, append([]poller.Option{poller.WithLogger(l)}, wf.pollerOpts...)...).
		Wait(ctx, md, da)

	run.TranslationStatus = md.last.Status
	run.WorkItemStatus = da.last.Status
	final.TranslationStatus = md.last.Status
	final.WorkItemStatus = da.last.Status
	if waitErr != nil {
		return final, fmt.Errorf("wait for cloud jobs: %w", waitErr)
	}

	if err := jobFailures(md.last, da.last); err != nil {
		return final, err
	}

	size, ok := da.last.BytesUploaded()
	if !ok {
		return final, domain.ErrMissingUploadStats
	}

	rec.update(ctx, domain.RunUpdate{Status: domain.RunFinishing})
	token, err = tokens.Bearer(ctx)
	if err != nil {
		return final, fmt.Errorf("authenticate: %w", err)
	}
	if _, err := wf.cloud.Finalize(ctx, token, bucket, run.OutputName, sink.UploadKey, size); err != nil {
		return final, fmt.Errorf("finalize output: %w", err)
	}
	l.Info("output finalized", slog.Int64("size", size))

	if err := wf.download(ctx, token, run, size); err != nil {
		return final, err
	}

	final.OutputPath = run.OutputPath
	final.OutputSize = run.OutputSize
	final.PageCount = run.PageCount
	return final, nil
}

// jobFailures builds the consolidated error once both tracks are terminal.
func jobFailures(md domain.TranslationStatus, da domain.WorkItemStatus) error {
	var failures []domain.TrackFailure
	if !md.Succeeded() {
		failures = append(failures, domain.TrackFailure{Track: trackTranslation, Status: md.Status})
	}
	if !da.Succeeded() {
		failures = append(failures, domain.TrackFailure{Track: trackWorkItem, Status: da.Status})
	}
	if len(failures) == 0 {
		return nil
	}

	jobErr := &domain.JobFailedError{Failures: failures}
	if !da.Succeeded() {
		return errors.Join(jobErr, fmt.Errorf("%w: final status %s", domain.ErrFinalizePrecondition, da.Status))
	}
	return jobErr
}

func (wf *Workflow) download(ctx context.Context, token string, run *domain.Run, size int64) error {
	readURL, err := wf.cloud.SignedURL(ctx, token, wf.cfg.Bucket, run.OutputName, "read")
	if err != nil {
		return fmt.Errorf("sign output url: %w", err)
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := wf.cloud.Download(ctx, readURL, pw)
		_ = pw.CloseWithError(err)
	}()
	written, _, err := wf.artifacts.Save(ctx, pr, run.OutputName, size)
	_ = pr.CloseWithError(err)
	<-done
	if err != nil {
		return fmt.Errorf("download output: %w", err)
	}

	path, err := wf.artifacts.Path(run.OutputName)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}
	run.OutputPath = path
	run.OutputSize = written

	// The PDF is finalized and on disk at this point, so a failed inspection
	// only leaves the page count unknown.
	pages, err := wf.inspector.PageCount(path)
	if err != nil {
		wf.logger.Warn("cannot inspect output pdf",
			slog.String("run_id", run.ID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil
	}
	run.PageCount = pages
	return nil
}
