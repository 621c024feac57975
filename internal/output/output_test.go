package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrinter_Line_PrintsIconAndMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	p := New(buf)

	p.Line("🔍", "Checking embedder...")

	out := buf.String()
	assert.Contains(t, out, "🔍")
	assert.Contains(t, out, "Checking embedder...")
}

func TestPrinter_Success_PrintsCheckmark(t *testing.T) {
	buf := &bytes.Buffer{}
	p := New(buf)

	p.Success("Index complete!")

	out := buf.String()
	assert.Contains(t, out, "✅")
	assert.Contains(t, out, "Index complete!")
}

func TestPrinter_Warning_PrintsWarningIcon(t *testing.T) {
	buf := &bytes.Buffer{}
	p := New(buf)

	p.Warning("Embedder not available")

	out := buf.String()
	assert.Contains(t, out, "⚠️")
	assert.Contains(t, out, "Embedder not available")
}

func TestPrinter_Error_PrintsErrorIcon(t *testing.T) {
	buf := &bytes.Buffer{}
	p := New(buf)

	p.Error("Failed to connect")

	out := buf.String()
	assert.Contains(t, out, "❌")
	assert.Contains(t, out, "Failed to connect")
}

func TestPrinter_Block_PrintsIndentedContent(t *testing.T) {
	buf := &bytes.Buffer{}
	p := New(buf)

	p.Block(`{"key": "value"}`)

	assert.Contains(t, buf.String(), `{"key": "value"}`)
}

func TestPrinter_Progress_PrintsProgressBar(t *testing.T) {
	buf := &bytes.Buffer{}
	p := New(buf)

	p.Progress(50, 100, "Indexing files")

	out := buf.String()
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "Indexing files")
}

func TestPrinter_Progress_ZeroTotal_NoOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	p := New(buf)

	assert.NotPanics(t, func() {
		p.Progress(0, 0, "Processing")
	})
	assert.Empty(t, buf.String())
}

func TestPrinter_Linef_FormatsMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	p := New(buf)

	p.Linef("📂", "Found %d files in %s", 42, "/path/to/project")

	out := buf.String()
	assert.Contains(t, out, "📂")
	assert.Contains(t, out, "Found 42 files in /path/to/project")
}

func TestProgressBar_Render(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		total    int
		width    int
		wantFull int
	}{
		{name: "0 percent", current: 0, total: 100, width: 10, wantFull: 0},
		{name: "50 percent", current: 50, total: 100, width: 10, wantFull: 5},
		{name: "100 percent", current: 100, total: 100, width: 10, wantFull: 10},
		{name: "25 percent", current: 25, total: 100, width: 20, wantFull: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := progressBar(tt.current, tt.total, tt.width)

			filled := strings.Count(bar, "█")
			assert.Equal(t, tt.wantFull, filled)
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}

func TestPrinter_Blank_PrintsEmptyLine(t *testing.T) {
	buf := &bytes.Buffer{}
	p := New(buf)

	p.Blank()

	assert.Equal(t, "\n", buf.String())
}

func TestNew_ReturnsNonNilPrinter(t *testing.T) {
	buf := &bytes.Buffer{}
	p := New(buf)

	assert.NotNil(t, p)
}
