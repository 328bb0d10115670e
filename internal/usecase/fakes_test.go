package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/you-humble/apsplot/internal/domain"
	"github.com/you-humble/apsplot/internal/poller"
)

const (
	testBucket    = "dwg-multi-process-demo-abc"
	testObjectID  = "urn:adsk.objects:os.object:dwg-multi-process-demo-abc/room.dwg"
	testSinkKey   = "sink-upload-key"
	testWorkItem  = "wi-123"
	testReportURL = "https://reports.example/wi-123.txt"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type mdStep struct {
	status domain.TranslationStatus
	err    error
}

type wiStep struct {
	status domain.WorkItemStatus
	err    error
}

func md(status string) mdStep {
	return mdStep{status: domain.TranslationStatus{Status: status, Progress: "N/A"}}
}

func wi(status string) wiStep {
	return wiStep{status: domain.WorkItemStatus{ID: testWorkItem, Status: status}}
}

func wiDone(uploaded int64) wiStep {
	return wiStep{status: domain.WorkItemStatus{
		ID:        testWorkItem,
		Status:    domain.WorkItemSuccess,
		ReportURL: testReportURL,
		Stats:     &domain.WorkItemStats{BytesUploaded: &uploaded},
	}}
}

// fakeCloud scripts the platform. Probing past the end of a script repeats
// the last step.
type fakeCloud struct {
	mu sync.Mutex

	bucketErr error
	uploaded  map[string][]byte
	mdSteps   []mdStep
	wiSteps   []wiStep
	pdf       []byte

	calls      []string
	mdProbes   int
	wiProbes   int
	finalized  []int64
	submitted  []domain.WorkItemRequest
	downloaded int
}

func (f *fakeCloud) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeCloud) CreateBucket(_ context.Context, _, bucket, _ string) error {
	f.record("bucket " + bucket)
	return f.bucketErr
}

func (f *fakeCloud) Upload(_ context.Context, _, _, object string, data []byte) (domain.ObjectDetails, error) {
	f.record("upload " + object)
	if f.uploaded == nil {
		f.uploaded = map[string][]byte{}
	}
	f.uploaded[object] = data
	return domain.ObjectDetails{ObjectID: testObjectID, Size: int64(len(data))}, nil
}

func (f *fakeCloud) CreatePlaceholder(_ context.Context, _, _, object string) error {
	f.record("placeholder " + object)
	return nil
}

func (f *fakeCloud) SignedUpload(_ context.Context, _, _, object string) (domain.UploadTarget, error) {
	f.record("sign-upload " + object)
	return domain.UploadTarget{UploadKey: testSinkKey, URLs: []string{"https://s3.example/put/" + object}}, nil
}

func (f *fakeCloud) Finalize(_ context.Context, _, _, object, uploadKey string, size int64) (domain.ObjectDetails, error) {
	f.record("finalize " + object)
	if uploadKey != testSinkKey {
		return domain.ObjectDetails{}, errors.New("unexpected upload key " + uploadKey)
	}
	f.finalized = append(f.finalized, size)
	return domain.ObjectDetails{Size: size}, nil
}

func (f *fakeCloud) SignedURL(_ context.Context, _, _, object, access string) (string, error) {
	f.record("sign-" + access + " " + object)
	return "https://s3.example/" + access + "/" + object, nil
}

func (f *fakeCloud) Download(_ context.Context, _ string, w io.Writer) (int64, error) {
	f.mu.Lock()
	f.downloaded++
	f.mu.Unlock()
	return io.Copy(w, bytes.NewReader(f.pdf))
}

func (f *fakeCloud) StartTranslation(_ context.Context, _, urn string) error {
	f.record("translate " + urn)
	return nil
}

func (f *fakeCloud) TranslationStatus(context.Context, string, string) (domain.TranslationStatus, error) {
	i := min(f.mdProbes, len(f.mdSteps)-1)
	f.mdProbes++
	return f.mdSteps[i].status, f.mdSteps[i].err
}

func (f *fakeCloud) StartWorkItem(_ context.Context, _ string, req domain.WorkItemRequest) (string, error) {
	f.record("workitem")
	f.submitted = append(f.submitted, req)
	return testWorkItem, nil
}

func (f *fakeCloud) WorkItemStatus(context.Context, string, string) (domain.WorkItemStatus, error) {
	i := min(f.wiProbes, len(f.wiSteps)-1)
	f.wiProbes++
	return f.wiSteps[i].status, f.wiSteps[i].err
}

func (f *fakeCloud) FetchReport(context.Context, string) (string, error) {
	return "[INFO] Plot complete", nil
}

type staticTokens struct {
	err   error
	calls int
}

func (s *staticTokens) Bearer(context.Context) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "tok", nil
}

type memArtifacts struct {
	files map[string][]byte
}

func (m *memArtifacts) Save(_ context.Context, r io.Reader, name string, size int64) (int64, string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, "", err
	}
	if size > 0 && int64(len(b)) != size {
		return 0, "", errors.New("size mismatch")
	}
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[name] = b
	return int64(len(b)), "", nil
}

func (m *memArtifacts) Path(name string) (string, error) { return "/out/" + name, nil }

func (m *memArtifacts) Open(_ context.Context, name string) (io.ReadCloser, int64, error) {
	b, ok := m.files[name]
	if !ok {
		return nil, 0, domain.ErrArtifactNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

type memJournal struct {
	mu   sync.Mutex
	runs map[string]domain.Run
	log  []domain.RunUpdate
}

func (j *memJournal) Create(_ context.Context, p domain.CreateRunParams) (domain.Run, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.runs == nil {
		j.runs = map[string]domain.Run{}
	}
	r := domain.Run{
		ID:         "run-1",
		Kind:       p.Kind,
		Status:     domain.RunPending,
		SourceName: p.SourceName,
		OutputName: p.OutputName,
		Bucket:     p.Bucket,
	}
	j.runs[r.ID] = r
	return r, nil
}

func (j *memJournal) Update(_ context.Context, id string, u domain.RunUpdate) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	r, ok := j.runs[id]
	if !ok {
		return domain.ErrRunNotFound
	}
	if u.Status != "" {
		r.Status = u.Status
	}
	if u.Error != "" {
		r.Error = u.Error
	}
	if u.URN != "" {
		r.URN = u.URN
	}
	if u.OutputPath != "" {
		r.OutputPath = u.OutputPath
	}
	j.runs[id] = r
	j.log = append(j.log, u)
	return nil
}

func (j *memJournal) Run(_ context.Context, id string) (domain.Run, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	r, ok := j.runs[id]
	if !ok {
		return domain.Run{}, domain.ErrRunNotFound
	}
	return r, nil
}

type memEvents struct {
	events []domain.Event
}

func (m *memEvents) Publish(_ context.Context, ev domain.Event) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *memEvents) types() []domain.EventType {
	out := make([]domain.EventType, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixedPages int

func (p fixedPages) PageCount(string) (int, error) { return int(p), nil }

type brokenPages struct{}

func (brokenPages) PageCount(string) (int, error) {
	return 0, errors.New("downloaded artifact is not a valid PDF: xref corrupt")
}

func noSleep() poller.Option {
	return poller.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })
}
