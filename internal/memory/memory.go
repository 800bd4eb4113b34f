// Package memory applies approved memory updates to markdown files under the
// workspace base path.
package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/metalagman/steward/internal/model"
	"github.com/metalagman/steward/internal/pathsec"
)

// ReviewQueue is the file that collects flagged updates.
const ReviewQueue = "review-queue.md"

// ErrOutsideBase is returned for update targets that resolve outside the base path.
var ErrOutsideBase = errors.New("path escapes base directory")

// Applier writes approved updates somewhere.
type Applier interface {
	Apply(ctx context.Context, agent string, upd model.MemoryUpdate) error
}

// FileApplier applies updates to files under BasePath.
type FileApplier struct {
	BasePath string
	Now      func() time.Time

	mu sync.Mutex
}

// NewFileApplier returns an applier rooted at basePath.
func NewFileApplier(basePath string) *FileApplier {
	return &FileApplier{BasePath: basePath, Now: time.Now}
}

// Apply performs one update. Append adds content on a new line, update
// replaces the section headed by the first content line, flag queues the
// update in ReviewQueue for a human.
func (a *FileApplier) Apply(ctx context.Context, agent string, upd model.MemoryUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	switch upd.Operation {
	case model.MemoryOpFlag:
		return a.flag(agent, upd)
	case model.MemoryOpAppend, model.MemoryOpUpdate:
	default:
		return fmt.Errorf("unknown memory operation %q", upd.Operation)
	}

	path, err := a.resolve(upd.File)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}

	if upd.Operation == model.MemoryOpAppend {
		return appendText(path, upd.Content)
	}
	return replaceSection(path, upd.Content)
}

func (a *FileApplier) resolve(file string) (string, error) {
	rel, ok := pathsec.Normalize(file, a.BasePath)
	if !ok || rel == "" {
		return "", fmt.Errorf("%w: %s", ErrOutsideBase, file)
	}
	return filepath.Join(a.BasePath, filepath.FromSlash(rel)), nil
}

func (a *FileApplier) flag(agent string, upd model.MemoryUpdate) error {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	path := filepath.Join(a.BasePath, ReviewQueue)

	var b strings.Builder
	fmt.Fprintf(&b, "## %s | %s | %s\n\n", now().UTC().Format(time.RFC3339), agent, upd.File)
	b.WriteString(strings.TrimRight(upd.Content, "\n"))
	b.WriteString("\n")

	log.Debug().Str("agent", agent).Str("file", upd.File).Msg("flagged memory update for review")
	return appendText(path, b.String())
}

func appendText(path, content string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		b.WriteString("\n")
	}
	b.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

// replaceSection swaps the section whose heading line equals the first line
// of content. The section runs until the next heading of the same or higher
// level. Content without a matching section is appended.
func replaceSection(path, content string) error {
	heading, _, _ := strings.Cut(content, "\n")
	heading = strings.TrimSpace(heading)
	level := headingLevel(heading)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) || level == 0 {
		return appendText(path, content)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == heading {
			start = i
			break
		}
	}
	if start < 0 {
		return appendText(path, content)
	}
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if l := headingLevel(strings.TrimSpace(lines[i])); l > 0 && l <= level {
			end = i
			break
		}
	}

	replacement := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if end < len(lines) {
		replacement = append(replacement, "")
	}
	out := append(append(append([]string{}, lines[:start]...), replacement...), lines[end:]...)
	text := strings.Join(out, "\n")
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func headingLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || n >= len(line) || line[n] != ' ' {
		return 0
	}
	return n
}
