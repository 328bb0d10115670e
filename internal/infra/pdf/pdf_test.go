package pdf

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePDF writes a minimal PDF with the given number of blank pages and a
// correct cross-reference table.
func writePDF(t *testing.T, pages int) string {
	t.Helper()

	objects := []string{"<< /Type /Catalog /Pages 2 0 R >>"}
	kids := make([]string, pages)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for range pages {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	path := filepath.Join(t.TempDir(), "room.pdf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestPageCount(t *testing.T) {
	tests := []struct {
		name  string
		pages int
	}{
		{name: "single sheet", pages: 1},
		{name: "three sheets", pages: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NewInspector().PageCount(writePDF(t, tt.pages))
			require.NoError(t, err)
			assert.Equal(t, tt.pages, n)
		})
	}
}

func TestPageCount_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "room.pdf")
	require.NoError(t, os.WriteFile(path, []byte("<Error><Code>AccessDenied</Code></Error>"), 0o644))

	_, err := NewInspector().PageCount(path)
	require.ErrorIs(t, err, ErrInvalidPDF)
}

func TestPageCount_MissingFile(t *testing.T) {
	_, err := NewInspector().PageCount(filepath.Join(t.TempDir(), "missing.pdf"))
	require.ErrorIs(t, err, ErrInvalidPDF)
}

func TestNoop(t *testing.T) {
	n, err := NewNoop().PageCount("anything")
	require.NoError(t, err)
	assert.Zero(t, n)
}
