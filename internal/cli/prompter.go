package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/stackvity/mark-batch/pkg/batch"
)

// TerminalPrompter implements batch.Prompter over an interactive terminal.
// Prompts are serialized with a mutex so concurrent workers never interleave
// questions on the same terminal.
type TerminalPrompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompter creates a prompter reading stdin and writing stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
	}
}

// Ask implements batch.Prompter. The resolver bounds the wait with its own
// timeout; a read still pending when the timeout fires is abandoned.
func (p *TerminalPrompter) Ask(ctx context.Context, prompt batch.ConflictPrompt) (batch.ConflictPolicy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprintf(p.out, "Output %q already exists (source: %s).\n", prompt.TargetPath, prompt.SourcePath)
	fmt.Fprintf(p.out, "  [s]kip / [o]verwrite / [r]ename? ")

	line, err := p.in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading conflict answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "s", "skip":
		return batch.PolicySkip, nil
	case "o", "overwrite":
		return batch.PolicyOverwrite, nil
	case "r", "rename":
		return batch.PolicyRename, nil
	}
	return "", fmt.Errorf("unrecognized answer %q", strings.TrimSpace(line))
}
