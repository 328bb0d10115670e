package transport

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/you-humble/apsplot/internal/domain"
	"github.com/you-humble/apsplot/internal/usecase"
)

const (
	tokenPlaceholder = "APS_TOKEN_PLACEHOLDER"
	urnPlaceholder   = "URN_PLACEHOLDER"
)

//go:embed templates/*.html
var templates embed.FS

type ViewerUsecase interface {
	Prepare(ctx context.Context, filename string, data []byte) (usecase.ViewerSession, error)
}

type RunReader interface {
	Get(ctx context.Context, id string) (domain.Run, error)
	Artifact(ctx context.Context, id string) (domain.Artifact, error)
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type handler struct {
	maxUploadBytes int64
	viewer         ViewerUsecase
	runs           RunReader

	index      *template.Template
	viewerPage string
}

func NewHandler(maxUploadMb int64, viewer ViewerUsecase, runs RunReader) (*handler, error) {
	index, err := template.ParseFS(templates, "templates/index.html")
	if err != nil {
		return nil, err
	}
	page, err := templates.ReadFile("templates/viewer.html")
	if err != nil {
		return nil, err
	}
	return &handler{
		maxUploadBytes: maxUploadMb << 20,
		viewer:         viewer,
		runs:           runs,
		index:          index,
		viewerPage:     string(page),
	}, nil
}

func (h *handler) home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.index.Execute(w, struct{ MaxUploadMb int64 }{h.maxUploadBytes >> 20}); err != nil {
		slog.Error("render index", slog.String("error", err.Error()))
	}
}

// viewerUpload accepts a drawing, translates it for the viewer and answers
// with the viewer page pointing at the translated model.
func (h *handler) viewerUpload(w http.ResponseWriter, r *http.Request) {
	logger := slog.With(
		slog.String("request_id", RequestID(r.Context())),
		slog.String("handler", "viewer"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		logger.Warn("ParseMultipartForm", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "unable to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		logger.Warn("missing file field")
		writeError(w, http.StatusBadRequest, "field `file` is required")
		return
	}
	defer file.Close()
	logger = logger.With(slog.String("file_name", header.Filename))

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Error("read upload", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "cannot read uploaded file")
		return
	}

	sess, err := h.viewer.Prepare(r.Context(), header.Filename, data)
	if err != nil {
		logger.Error("Prepare viewer", slog.String("error", err.Error()))
		status, msg := viewerFailure(err)
		writeError(w, status, msg)
		return
	}
	logger.Info("viewer ready", slog.String("run_id", sess.RunID), slog.String("urn", sess.URN))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, h.renderViewer(sess)); err != nil {
		logger.Error("write viewer page", slog.String("error", err.Error()))
	}
}

func (h *handler) renderViewer(sess usecase.ViewerSession) string {
	return strings.NewReplacer(
		tokenPlaceholder, template.JSEscapeString(sess.Token),
		urnPlaceholder, template.JSEscapeString(sess.URN),
	).Replace(h.viewerPage)
}

func viewerFailure(err error) (int, string) {
	var jobErr *domain.JobFailedError
	switch {
	case errors.Is(err, usecase.ErrEmptyUpload):
		return http.StatusBadRequest, "please upload a CAD file"
	case errors.Is(err, domain.ErrMissingCredentials):
		return http.StatusServiceUnavailable, domain.ErrMissingCredentials.Error()
	case errors.As(err, &jobErr):
		return http.StatusBadGateway, jobErr.Error()
	case errors.Is(err, domain.ErrPollTimeout):
		return http.StatusGatewayTimeout, "translation did not finish in time"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "request canceled"
	default:
		return http.StatusInternalServerError, "cannot prepare the viewer"
	}
}

func (h *handler) run(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		slog.Error("get run",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("run_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	logger := slog.With(
		slog.String("request_id", RequestID(r.Context())),
		slog.String("handler", "download"),
		slog.String("run_id", id),
	)

	art, err := h.runs.Artifact(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRunNotFound):
			writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, domain.ErrRunNotReady):
			writeError(w, http.StatusConflict, "run has no PDF to download")
		case errors.Is(err, domain.ErrArtifactNotFound):
			writeError(w, http.StatusGone, "PDF is no longer stored")
		default:
			logger.Error("open artifact", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "cannot open PDF")
		}
		return
	}
	defer art.Content.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Name}))
	if art.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(art.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, art.Content); err != nil {
		logger.Error("download: send file", slog.String("error", err.Error()))
	}
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
