package markdown

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/mark-batch/pkg/batch"
)

func discardHandler() slog.Handler {
	return slog.NewTextHandler(io.Discard, nil)
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newConverter(t *testing.T, opts Options) *Converter {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardHandler()
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

// TestNewValidatesOptions verifies the logger and format checks.
func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, batch.ErrConfigValidation)

	_, err = New(Options{Logger: discardHandler(), FrontMatter: "xml"})
	assert.ErrorIs(t, err, batch.ErrConfigValidation)
}

// TestConvertYAMLFrontMatter verifies the document shape: YAML front matter,
// title heading, and a language-fenced code block.
func TestConvertYAMLFrontMatter(t *testing.T) {
	path := writeSource(t, "main.go", "package main\n\nfunc main() {}\n")
	fixed := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	c := newConverter(t, Options{
		FrontMatter: FrontMatterYAML,
		Now:         func() time.Time { return fixed },
	})

	out, err := c.Convert(context.Background(), path)
	require.NoError(t, err)
	doc := string(out)

	assert.True(t, strings.HasPrefix(doc, "---\n"), "document must open with YAML front matter")
	assert.Contains(t, doc, "title: main.go")
	assert.Contains(t, doc, "language: go")
	assert.Contains(t, doc, "# main.go\n")
	assert.Contains(t, doc, "```go\npackage main\n")
	assert.True(t, strings.HasSuffix(doc, "```\n"))
	assert.NotContains(t, doc, "git:", "no git metadata unless enabled")
}

// TestConvertTOMLFrontMatter verifies the TOML delimiter variant.
func TestConvertTOMLFrontMatter(t *testing.T) {
	path := writeSource(t, "notes.txt", "hello\n")
	c := newConverter(t, Options{FrontMatter: FrontMatterTOML})

	out, err := c.Convert(context.Background(), path)
	require.NoError(t, err)
	doc := string(out)

	assert.True(t, strings.HasPrefix(doc, "+++\n"))
	assert.Contains(t, doc, `title = "notes.txt"`)
	assert.Contains(t, doc, "# notes.txt\n")
	assert.Equal(t, 2, strings.Count(doc, "+++\n"))
}

// TestConvertNoFrontMatter verifies the block is omitted entirely when
// disabled.
func TestConvertNoFrontMatter(t *testing.T) {
	path := writeSource(t, "notes.txt", "hello\n")
	c := newConverter(t, Options{})

	out, err := c.Convert(context.Background(), path)
	require.NoError(t, err)
	doc := string(out)

	assert.True(t, strings.HasPrefix(doc, "# notes.txt\n"))
	assert.NotContains(t, doc, "---")
}

// TestConvertRejectsBinary verifies binary content fails validation so the
// engine treats it as fatal rather than retryable.
func TestConvertRejectsBinary(t *testing.T) {
	content := make([]byte, 600)
	path := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	c := newConverter(t, Options{})
	_, err := c.Convert(context.Background(), path)
	assert.ErrorIs(t, err, batch.ErrValidation)
}

// TestConvertMissingFile verifies an unreadable source is a validation error.
func TestConvertMissingFile(t *testing.T) {
	c := newConverter(t, Options{})
	_, err := c.Convert(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorIs(t, err, batch.ErrValidation)
}

// TestConvertCancelledContext verifies cancellation is honored before work.
func TestConvertCancelledContext(t *testing.T) {
	path := writeSource(t, "a.txt", "hello\n")
	c := newConverter(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Convert(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestConvertFenceEscalation verifies content containing a triple backtick
// fence is wrapped in a longer one.
func TestConvertFenceEscalation(t *testing.T) {
	path := writeSource(t, "readme.txt", "example:\n```\ncode\n```\n")
	c := newConverter(t, Options{})

	out, err := c.Convert(context.Background(), path)
	require.NoError(t, err)
	doc := string(out)

	assert.Contains(t, doc, "````")
	assert.True(t, strings.HasSuffix(doc, "````\n"))
}

// TestConvertLanguageOverride verifies overrides beat detection and are
// normalized to a leading dot.
func TestConvertLanguageOverride(t *testing.T) {
	path := writeSource(t, "query.tpl", "SELECT 1;\n")
	c := newConverter(t, Options{
		LanguageOverrides: map[string]string{"tpl": "SQL"},
	})

	out, err := c.Convert(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, string(out), "```sql\n")
}

// TestConvertTrailingNewlineAdded verifies content without a final newline
// still closes the fence on its own line.
func TestConvertTrailingNewlineAdded(t *testing.T) {
	path := writeSource(t, "frag.txt", "no newline at end")
	c := newConverter(t, Options{})

	out, err := c.Convert(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, string(out), "no newline at end\n```\n")
}

// TestFenceFor exercises the backtick run scan directly.
func TestFenceFor(t *testing.T) {
	assert.Equal(t, "```", fenceFor([]byte("plain text")))
	assert.Equal(t, "```", fenceFor([]byte("inline `code` span")))
	assert.Equal(t, "````", fenceFor([]byte("```\nfence\n```")))
	assert.Equal(t, "``````", fenceFor([]byte("`````")))
}

// TestIsBinary exercises the MIME and null byte heuristics.
func TestIsBinary(t *testing.T) {
	assert.False(t, isBinary(nil))
	assert.False(t, isBinary([]byte("hello world\n")))
	assert.False(t, isBinary([]byte(`{"json": true}`)))
	assert.True(t, isBinary([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}))

	// Mostly nulls trips the ratio check even when sniffing is inconclusive.
	nulls := make([]byte, 100)
	copy(nulls, "text start")
	assert.True(t, isBinary(nulls))
}
