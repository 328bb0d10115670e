package transport

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter mounts the front end routes. Recovery runs inside the access log
// so a recovered panic is still logged with its 500.
func NewRouter(h *handler, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(LogMiddleware(logger), WithRecover(logger))

	r.HandleFunc("/", h.home).Methods(http.MethodGet)
	r.HandleFunc("/viewer", h.viewerUpload).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}", h.run).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/pdf", h.download).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "")
	})
	return r
}
