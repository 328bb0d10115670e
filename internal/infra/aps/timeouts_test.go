package aps

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/you-humble/apsplot/internal/domain"
)

const (
	slowReply   = 150 * time.Millisecond
	tightBudget = 30 * time.Millisecond
	wideBudget  = 5 * time.Second
)

type callClass string

const (
	classAuth     callClass = "auth"
	classControl  callClass = "control"
	classTransfer callClass = "transfer"
)

type apsCall struct {
	name  string
	class callClass
	do    func(ctx context.Context, c *Client, base string) error
}

var apsCalls = []apsCall{
	{"Authenticate", classAuth, func(ctx context.Context, c *Client, _ string) error {
		_, err := c.Authenticate(ctx, Credentials{ClientID: "id", ClientSecret: "secret"})
		return err
	}},
	{"CreateBucket", classControl, func(ctx context.Context, c *Client, _ string) error {
		return c.CreateBucket(ctx, "tok", "b", "")
	}},
	{"SignedUpload", classControl, func(ctx context.Context, c *Client, _ string) error {
		_, err := c.SignedUpload(ctx, "tok", "b", "room.dwg")
		return err
	}},
	{"Finalize", classControl, func(ctx context.Context, c *Client, _ string) error {
		_, err := c.Finalize(ctx, "tok", "b", "room.dwg", "key", 4)
		return err
	}},
	{"SignedURL", classControl, func(ctx context.Context, c *Client, _ string) error {
		_, err := c.SignedURL(ctx, "tok", "b", "room.dwg", "read")
		return err
	}},
	{"StartTranslation", classControl, func(ctx context.Context, c *Client, _ string) error {
		return c.StartTranslation(ctx, "tok", "dXJu")
	}},
	{"TranslationStatus", classControl, func(ctx context.Context, c *Client, _ string) error {
		_, err := c.TranslationStatus(ctx, "tok", "dXJu")
		return err
	}},
	{"StartWorkItem", classControl, func(ctx context.Context, c *Client, _ string) error {
		_, err := c.StartWorkItem(ctx, "tok", domain.NewPlotWorkItem("", "https://in", "https://out"))
		return err
	}},
	{"WorkItemStatus", classControl, func(ctx context.Context, c *Client, _ string) error {
		_, err := c.WorkItemStatus(ctx, "tok", "wi-123")
		return err
	}},
	{"FetchReport", classControl, func(ctx context.Context, c *Client, base string) error {
		_, err := c.FetchReport(ctx, base+"/reports/wi-123.txt")
		return err
	}},
	{"PutBytes", classTransfer, func(ctx context.Context, c *Client, base string) error {
		return c.PutBytes(ctx, base+"/s3/room.pdf", []byte("data"))
	}},
	{"Download", classTransfer, func(ctx context.Context, c *Client, base string) error {
		_, err := c.Download(ctx, base+"/s3/room.pdf", &bytes.Buffer{})
		return err
	}},
}

// newSlowServer answers every APS route after slowReply, or gives up when the
// caller goes away.
func newSlowServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server

	slow := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(slowReply):
				h(w, r)
			case <-r.Context().Done():
			}
		}
	}
	objects := "/oss/v2/buckets/b/objects/room.dwg"

	mux.HandleFunc("POST /authentication/v2/token", slow(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "tok", "token_type": "Bearer", "expires_in": 3599})
	}))
	mux.HandleFunc("POST /oss/v2/buckets", slow(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"bucketKey": "b"})
	}))
	mux.HandleFunc("GET "+objects+"/signeds3upload", slow(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"uploadKey": "key", "urls": []string{srv.URL + "/s3/room.dwg"}})
	}))
	mux.HandleFunc("POST "+objects+"/signeds3upload", slow(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"objectId": "urn:adsk.objects:os.object:b/room.dwg", "size": 4})
	}))
	mux.HandleFunc("POST "+objects+"/signed", slow(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"signedUrl": srv.URL + "/s3/room.dwg"})
	}))
	mux.HandleFunc("POST /modelderivative/v2/designdata/job", slow(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"result": "created"})
	}))
	mux.HandleFunc("GET /modelderivative/v2/designdata/dXJu/manifest", slow(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "progress": "complete"})
	}))
	mux.HandleFunc("POST /da/us-east/v3/workitems", slow(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "wi-123", "status": "pending"})
	}))
	mux.HandleFunc("GET /da/us-east/v3/workitems/wi-123", slow(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "wi-123", "status": "inprogress"})
	}))
	mux.HandleFunc("GET /reports/wi-123.txt", slow(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Plot complete"))
	}))
	mux.HandleFunc("PUT /s3/room.pdf", slow(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
	}))
	mux.HandleFunc("GET /s3/room.pdf", slow(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF"))
	}))

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_TimeoutsBoundTheirCallClass(t *testing.T) {
	budgets := map[callClass]Timeouts{
		classAuth:     {Auth: tightBudget, Control: wideBudget, Transfer: wideBudget},
		classControl:  {Auth: wideBudget, Control: tightBudget, Transfer: wideBudget},
		classTransfer: {Auth: wideBudget, Control: wideBudget, Transfer: tightBudget},
	}

	for class, timeouts := range budgets {
		t.Run(string(class), func(t *testing.T) {
			srv := newSlowServer(t)
			c := New(srv.URL, timeouts,
				WithHTTPClient(srv.Client()),
				WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			)

			for _, call := range apsCalls {
				err := call.do(context.Background(), c, srv.URL)
				if call.class == class {
					require.ErrorIs(t, err, context.DeadlineExceeded, "%s must be bounded by the %s timeout", call.name, class)
					continue
				}
				require.NoError(t, err, "%s must not be bounded by the %s timeout", call.name, class)
			}
		})
	}
}
