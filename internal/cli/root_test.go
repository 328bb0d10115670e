package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you-humble/apsplot/internal/domain"
)

func TestRun_WrongArgCount(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"convert"}, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "accepts 1 arg")
}

func TestRun_UnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"plot"}, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "unknown command")
}

func TestRun_ConvertMissingSource(t *testing.T) {
	for _, k := range []string{"APS_CLIENT_ID", "CLIENT_ID", "APS_CLIENT_SECRET", "CLIENT_SECRET", "APS_BASE_URL", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("output:\n  dir: "+dir+"\n"), 0o644))
	t.Cleanup(func() { cfgPath = "" })

	var stderr bytes.Buffer
	code := run(context.Background(), []string{"--config", cfg, "convert", filepath.Join(dir, "missing.dwg")}, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "source file not found")
}

func TestWriteSummary(t *testing.T) {
	var out bytes.Buffer
	writeSummary(&out, domain.Run{
		ID:         "3f1c2a9e-run",
		URN:        "dXJuOmFkc2s",
		OutputPath: "/out/room.pdf",
		OutputSize: 4096,
		PageCount:  2,
	})

	assert.Equal(t,
		"Run: 3f1c2a9e-run\n"+
			"URN ready for viewer: dXJuOmFkc2s\n"+
			"PDF saved to: /out/room.pdf (4096 bytes, 2 pages)\n",
		out.String())
}
