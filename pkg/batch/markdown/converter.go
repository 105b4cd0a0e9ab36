// Package markdown provides the default Converter implementation: it turns a
// single text file into a Markdown document with optional front matter, a
// language-fenced code block, and optional Git metadata about the source.
package markdown

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-enry/go-enry/v2"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"

	"github.com/stackvity/mark-batch/pkg/batch"
)

const (
	// sniffLen is the number of bytes http.DetectContentType inspects.
	sniffLen = 512
	// checkLen bounds the null byte scan.
	checkLen = 1024
	// nullThreshold is the null byte ratio above which content is binary.
	nullThreshold = 0.15
	// minFenceLen is the minimum code fence length.
	minFenceLen = 3
)

// FrontMatterFormat selects the serialization of the metadata block prepended
// to each document.
type FrontMatterFormat string

const (
	FrontMatterNone FrontMatterFormat = ""
	FrontMatterYAML FrontMatterFormat = "yaml"
	FrontMatterTOML FrontMatterFormat = "toml"
)

// Options configures the markdown converter.
type Options struct {
	// FrontMatter selects the metadata block format; empty disables it.
	FrontMatter FrontMatterFormat
	// DefaultEncoding is assumed when charset detection is uncertain.
	DefaultEncoding string
	// LanguageOverrides maps a file extension (with leading dot) to a fence
	// language identifier, bypassing detection.
	LanguageOverrides map[string]string
	// IncludeGitMeta enables repository lookups for source commit metadata.
	IncludeGitMeta bool
	// Logger is the logging backend; required.
	Logger slog.Handler
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Converter implements batch.Converter.
type Converter struct {
	opts      Options
	overrides map[string]string
	logger    *slog.Logger
	gitMeta   func(path string) (map[string]string, error)
}

// frontMatter is the metadata block serialized at the top of each document.
type frontMatter struct {
	Title       string            `yaml:"title" toml:"title"`
	Source      string            `yaml:"source" toml:"source"`
	Language    string            `yaml:"language" toml:"language"`
	Encoding    string            `yaml:"encoding" toml:"encoding"`
	ConvertedAt time.Time         `yaml:"convertedAt" toml:"convertedAt"`
	Git         map[string]string `yaml:"git,omitempty" toml:"git,omitempty"`
}

// New creates a markdown converter.
func New(opts Options) (*Converter, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("%w: Logger implementation (slog.Handler) cannot be nil", batch.ErrConfigValidation)
	}
	switch opts.FrontMatter {
	case FrontMatterNone, FrontMatterYAML, FrontMatterTOML:
	default:
		return nil, fmt.Errorf("%w: unknown front matter format %q", batch.ErrConfigValidation, opts.FrontMatter)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	overrides := make(map[string]string, len(opts.LanguageOverrides))
	for ext, lang := range opts.LanguageOverrides {
		ext = strings.ToLower(strings.TrimSpace(ext))
		lang = strings.ToLower(strings.TrimSpace(lang))
		if ext == "" || ext == "." || lang == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		overrides[ext] = lang
	}

	c := &Converter{
		opts:      opts,
		overrides: overrides,
		logger:    slog.New(opts.Logger).With(slog.String("component", "markdown")),
	}
	if opts.IncludeGitMeta {
		c.gitMeta = sourceGitMetadata
	}
	return c, nil
}

// Convert implements batch.Converter. Binary inputs are rejected with a
// validation error so the engine fails them without retrying.
func (c *Converter) Convert(ctx context.Context, sourcePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %w", batch.ErrValidation, sourcePath, err)
	}
	if isBinary(raw) {
		return nil, fmt.Errorf("%w: %q appears to be binary", batch.ErrValidation, sourcePath)
	}

	text, encodingName, err := c.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %q: %w", batch.ErrConversion, sourcePath, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lang := c.detectLanguage(text, sourcePath)

	var gitInfo map[string]string
	if c.gitMeta != nil {
		gitInfo, err = c.gitMeta(sourcePath)
		if err != nil {
			// Not being in a repository is expected; metadata is best effort.
			c.logger.Debug("No git metadata for source",
				slog.String("path", sourcePath),
				slog.String("reason", err.Error()))
			gitInfo = nil
		}
	}

	return c.render(sourcePath, text, lang, encodingName, gitInfo)
}

// decode converts raw bytes to UTF-8, falling back to the configured default
// encoding when detection is uncertain.
func (c *Converter) decode(raw []byte) ([]byte, string, error) {
	enc, name, certain := charset.DetermineEncoding(raw, "")
	if !certain && c.opts.DefaultEncoding != "" {
		if fallback, fallbackName := charset.Lookup(c.opts.DefaultEncoding); fallback != nil {
			enc = fallback
			name = fallbackName
		}
	}
	if enc == nil {
		if name == "" {
			name = "utf-8"
		}
		return raw, name, nil
	}

	decoded, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return nil, name, fmt.Errorf("converting from %q: %w", name, err)
	}
	if name == "" {
		name = "unknown"
	}
	return decoded, name, nil
}

// detectLanguage picks the fence language identifier: overrides first, then
// combined content/filename analysis, then extension and filename mappings.
func (c *Converter) detectLanguage(content []byte, sourcePath string) string {
	ext := strings.ToLower(filepath.Ext(sourcePath))
	if lang, ok := c.overrides[ext]; ok {
		return lang
	}
	if lang := enry.GetLanguage(filepath.Base(sourcePath), content); lang != "" && lang != "Text" {
		return strings.ToLower(lang)
	}
	if lang, safe := enry.GetLanguageByExtension(sourcePath); safe && lang != "" && lang != "Text" {
		return strings.ToLower(lang)
	}
	if lang, safe := enry.GetLanguageByFilename(sourcePath); safe && lang != "" && lang != "Text" {
		return strings.ToLower(lang)
	}
	return ""
}

// render assembles the final document: front matter, title heading, and the
// source content in a fenced code block.
func (c *Converter) render(sourcePath string, text []byte, lang, encodingName string, gitInfo map[string]string) ([]byte, error) {
	base := filepath.Base(sourcePath)
	var buf bytes.Buffer

	if c.opts.FrontMatter != FrontMatterNone {
		fm := frontMatter{
			Title:       base,
			Source:      sourcePath,
			Language:    lang,
			Encoding:    encodingName,
			ConvertedAt: c.opts.Now().UTC(),
			Git:         gitInfo,
		}
		if err := writeFrontMatter(&buf, c.opts.FrontMatter, fm); err != nil {
			return nil, fmt.Errorf("%w: front matter for %q: %w", batch.ErrConversion, sourcePath, err)
		}
	}

	fmt.Fprintf(&buf, "# %s\n\n", base)

	fence := fenceFor(text)
	buf.WriteString(fence)
	buf.WriteString(lang)
	buf.WriteByte('\n')
	buf.Write(text)
	if len(text) > 0 && text[len(text)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString(fence)
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

func writeFrontMatter(buf *bytes.Buffer, format FrontMatterFormat, fm frontMatter) error {
	switch format {
	case FrontMatterYAML:
		data, err := yaml.Marshal(fm)
		if err != nil {
			return err
		}
		buf.WriteString("---\n")
		buf.Write(data)
		buf.WriteString("---\n\n")
	case FrontMatterTOML:
		buf.WriteString("+++\n")
		if err := toml.NewEncoder(buf).Encode(fm); err != nil {
			return err
		}
		buf.WriteString("+++\n\n")
	}
	return nil
}

// fenceFor returns a backtick fence strictly longer than any backtick run in
// the content, so embedded fences cannot terminate the block early.
func fenceFor(content []byte) string {
	longest := 0
	run := 0
	for _, b := range content {
		if b == '`' {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	n := longest + 1
	if n < minFenceLen {
		n = minFenceLen
	}
	return strings.Repeat("`", n)
}

// Map of text-based MIME type prefixes accepted by isBinary.
var knownTextMIMEPrefixes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/javascript": true,
	"application/yaml":       true,
	"application/toml":       true,
	"application/sql":        true,
	"image/svg+xml":          true,
	// octet-stream may still be text; the null byte check decides.
	"application/octet-stream": true,
}

func isTextMIME(contentType string) bool {
	mimeType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	if knownTextMIMEPrefixes[mimeType] {
		return true
	}
	return strings.HasSuffix(mimeType, "+xml") || strings.HasSuffix(mimeType, "+json")
}

// isBinary combines MIME sniffing over the first 512 bytes with a null byte
// ratio check over the first 1024 bytes.
func isBinary(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	sniff := content
	if len(sniff) > sniffLen {
		sniff = sniff[:sniffLen]
	}
	if !isTextMIME(http.DetectContentType(sniff)) {
		return true
	}
	check := content
	if len(check) > checkLen {
		check = check[:checkLen]
	}
	nulls := bytes.Count(check, []byte{0x00})
	return float64(nulls)/float64(len(check)) > nullThreshold
}
