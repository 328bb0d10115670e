package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you-humble/apsplot/internal/domain"
	"github.com/you-humble/apsplot/internal/usecase"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeViewer struct {
	sess     usecase.ViewerSession
	err      error
	gotName  string
	gotData  []byte
	calls    int
	panicMsg string
}

func (f *fakeViewer) Prepare(_ context.Context, filename string, data []byte) (usecase.ViewerSession, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.calls++
	f.gotName = filename
	f.gotData = data
	return f.sess, f.err
}

type fakeRuns map[string]domain.Run

func (f fakeRuns) Get(_ context.Context, id string) (domain.Run, error) {
	r, ok := f[id]
	if !ok {
		return domain.Run{}, domain.ErrRunNotFound
	}
	return r, nil
}

func (f fakeRuns) Artifact(ctx context.Context, id string) (domain.Artifact, error) {
	r, err := f.Get(ctx, id)
	if err != nil {
		return domain.Artifact{}, err
	}
	switch {
	case r.Status != domain.RunDone:
		return domain.Artifact{}, domain.ErrRunNotReady
	case r.OutputPath == "":
		return domain.Artifact{}, domain.ErrArtifactNotFound
	}
	body := "%PDF-1.7 " + r.ID
	return domain.Artifact{
		Name:    r.OutputName,
		Size:    int64(len(body)),
		Content: io.NopCloser(strings.NewReader(body)),
	}, nil
}

func newTestRouter(t *testing.T, v ViewerUsecase, runs RunReader) http.Handler {
	t.Helper()
	h, err := NewHandler(1, v, runs)
	require.NoError(t, err)
	return NewRouter(h, discard)
}

func uploadRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/viewer", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHome(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, &fakeViewer{}, fakeRuns{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/viewer"`)
	assert.Contains(t, rec.Body.String(), "Up to 1 MB")
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestViewerUpload_RendersViewerPage(t *testing.T) {
	v := &fakeViewer{sess: usecase.ViewerSession{RunID: "run-1", URN: "dXJuOmFkc2s", Token: `tok"en`}}
	rec := httptest.NewRecorder()

	newTestRouter(t, v, fakeRuns{}).ServeHTTP(rec, uploadRequest(t, "file", "room.dwg", []byte("drawing")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "room.dwg", v.gotName)
	assert.Equal(t, []byte("drawing"), v.gotData)

	page := rec.Body.String()
	assert.Contains(t, page, `const urn = "dXJuOmFkc2s";`)
	assert.Contains(t, page, `const accessToken = "tok\"en";`)
	assert.NotContains(t, page, tokenPlaceholder)
	assert.NotContains(t, page, urnPlaceholder)
}

func TestViewerUpload_MissingFile(t *testing.T) {
	v := &fakeViewer{}
	rec := httptest.NewRecorder()

	newTestRouter(t, v, fakeRuns{}).ServeHTTP(rec, uploadRequest(t, "", "", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "field `file` is required", decodeError(t, rec).Message)
	assert.Zero(t, v.calls)
}

func TestViewerUpload_TooLarge(t *testing.T) {
	v := &fakeViewer{}
	rec := httptest.NewRecorder()

	newTestRouter(t, v, fakeRuns{}).ServeHTTP(rec, uploadRequest(t, "file", "big.dwg", bytes.Repeat([]byte("x"), 2<<20)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, v.calls)
}

func TestViewerUpload_Failures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "missing credentials",
			err:     fmt.Errorf("authenticate: %w", domain.ErrMissingCredentials),
			status:  http.StatusServiceUnavailable,
			message: domain.ErrMissingCredentials.Error(),
		},
		{
			name:    "empty upload",
			err:     usecase.ErrEmptyUpload,
			status:  http.StatusBadRequest,
			message: "please upload a CAD file",
		},
		{
			name:    "translation failed",
			err:     &domain.JobFailedError{Failures: []domain.TrackFailure{{Track: "translation", Status: "failed"}}},
			status:  http.StatusBadGateway,
			message: "cloud job failed: translation=failed",
		},
		{
			name:    "poll timeout",
			err:     fmt.Errorf("wait for translation: %w", domain.ErrPollTimeout),
			status:  http.StatusGatewayTimeout,
			message: "translation did not finish in time",
		},
		{
			name:    "unexpected",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			message: "cannot prepare the viewer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestRouter(t, &fakeViewer{err: tt.err}, fakeRuns{}).
				ServeHTTP(rec, uploadRequest(t, "file", "room.dwg", []byte("drawing")))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, decodeError(t, rec).Message)
		})
	}
}

func TestViewerUpload_RecoversPanic(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, &fakeViewer{panicMsg: "kaboom"}, fakeRuns{}).
		ServeHTTP(rec, uploadRequest(t, "file", "room.dwg", []byte("drawing")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRun(t *testing.T) {
	runs := fakeRuns{"run-1": {ID: "run-1", Kind: domain.RunConvert, Status: domain.RunDone, PageCount: 2}}
	router := newTestRouter(t, &fakeViewer{}, runs)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/run-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.Run
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, domain.RunDone, got.Status)
	assert.Equal(t, 2, got.PageCount)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouting(t *testing.T) {
	router := newTestRouter(t, &fakeViewer{}, fakeRuns{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/viewer", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogMiddleware_KeepsIncomingRequestID(t *testing.T) {
	var seen string
	h := LogMiddleware(discard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get(requestIDHeader))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestDownload(t *testing.T) {
	runs := fakeRuns{
		"done":    {ID: "done", Status: domain.RunDone, OutputName: "room.pdf", OutputPath: "/out/room.pdf"},
		"polling": {ID: "polling", Status: domain.RunPolling, OutputName: "room.pdf"},
		"gone":    {ID: "gone", Status: domain.RunDone, OutputName: "room.pdf"},
	}
	router := newTestRouter(t, &fakeViewer{}, runs)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/done/pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=room.pdf", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.7 done", rec.Body.String())

	tests := map[string]int{
		"/runs/polling/pdf": http.StatusConflict,
		"/runs/gone/pdf":    http.StatusGone,
		"/runs/missing/pdf": http.StatusNotFound,
	}
	for path, want := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}
}

func TestDownload_QuotesFilename(t *testing.T) {
	names := []string{`site "B" plan.pdf`, `C;\temp.pdf`, "plan étage.pdf"}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			runs := fakeRuns{"done": {ID: "done", Status: domain.RunDone, OutputName: name, OutputPath: "/out/x.pdf"}}
			router := newTestRouter(t, &fakeViewer{}, runs)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/done/pdf", nil))
			require.Equal(t, http.StatusOK, rec.Code)

			disposition, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
			require.NoError(t, err)
			assert.Equal(t, "attachment", disposition)
			assert.Equal(t, name, params["filename"])
		})
	}
}
