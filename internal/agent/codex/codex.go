// Package codex runs the codex CLI in exec mode and turns its JSON-line
// stream into an agent output.
package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/metalagman/steward/internal/agent"
)

// DefaultBinary is the executable used when no command override is set.
const DefaultBinary = "codex"

// ExitTimedOut marks a run terminated by its deadline. Real exit codes are
// never negative.
const ExitTimedOut = -2

const maxLineSize = 1024 * 1024

// Event is one parsed JSON line of codex output.
type Event map[string]any

// Type returns the event type, looking into the wrapped item or msg object
// when present.
func (e Event) Type() string {
	for _, key := range []string{"item", "msg"} {
		if inner, ok := e[key].(map[string]any); ok {
			if t, ok := inner["type"].(string); ok && t != "" {
				return t
			}
		}
	}
	t, _ := e["type"].(string)
	return t
}

// AgentMessage returns the text of an agent_message event.
func (e Event) AgentMessage() (string, bool) {
	candidates := []map[string]any{e}
	for _, key := range []string{"item", "msg"} {
		if inner, ok := e[key].(map[string]any); ok {
			candidates = append(candidates, inner)
		}
	}
	for _, c := range candidates {
		if t, _ := c["type"].(string); t != "agent_message" {
			continue
		}
		for _, key := range []string{"text", "message"} {
			if s, ok := c[key].(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// ErrorMessage returns the message of an error or turn.failed event.
func (e Event) ErrorMessage() (string, bool) {
	switch e.Type() {
	case "error":
		s, ok := e["message"].(string)
		return s, ok && s != ""
	case "turn.failed":
		if inner, ok := e["error"].(map[string]any); ok {
			s, ok := inner["message"].(string)
			return s, ok && s != ""
		}
	}
	return "", false
}

// Invocation describes one codex exec run.
type Invocation struct {
	Binary  string
	Args    []string // placed before the subcommand
	Flags   []string // extra flags after "exec -"
	Prompt  string
	WorkDir string
	Model   string
	Sandbox string
	Timeout time.Duration
}

// Result is the outcome of Exec.
type Result struct {
	Events       []Event
	FinalMessage string
	ExitCode     int
	TimedOut     bool
	Stderr       string
}

// Exec runs codex, piping the prompt on stdin and parsing stdout line by line.
// onEvent, when set, sees each event as it arrives. Lines that are not JSON
// are skipped. The temporary directory holding the output file is always
// removed.
func Exec(ctx context.Context, inv Invocation, onEvent func(Event)) (Result, error) {
	tmpDir, err := os.MkdirTemp("", "steward-codex-*")
	if err != nil {
		return Result{}, fmt.Errorf("create codex temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			log.Warn().Err(err).Str("dir", tmpDir).Msg("failed to remove codex temp dir")
		}
	}()
	outputFile := filepath.Join(tmpDir, "last-message.txt")

	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	binary := inv.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	cmd := exec.CommandContext(ctx, binary, Args(inv, outputFile)...)
	cmd.Dir = inv.WorkDir
	cmd.Stdin = strings.NewReader(inv.Prompt)
	agent.TerminateGroupOnCancel(cmd, syscall.SIGTERM)

	var stderr strings.Builder
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("codex stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start codex: %w", err)
	}

	events := readEvents(stdout, onEvent)
	waitErr := cmd.Wait()

	res := Result{Events: events, Stderr: stderr.String()}
	switch {
	case ctx.Err() != nil:
		res.TimedOut = true
		res.ExitCode = ExitTimedOut
	case waitErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("wait codex: %w", waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	if data, err := os.ReadFile(outputFile); err == nil && strings.TrimSpace(string(data)) != "" {
		res.FinalMessage = string(data)
	} else {
		res.FinalMessage = lastAgentMessage(events)
	}
	return res, nil
}

// Args builds the command line: [args] exec - --json --skip-git-repo-check
// [flags] -C workdir -o outputFile [--model m] [--sandbox mode].
func Args(inv Invocation, outputFile string) []string {
	args := append([]string{}, inv.Args...)
	args = append(args, "exec", "-", "--json", "--skip-git-repo-check")
	args = append(args, inv.Flags...)
	if inv.WorkDir != "" {
		args = append(args, "-C", inv.WorkDir)
	}
	args = append(args, "-o", outputFile)
	if inv.Model != "" {
		args = append(args, "--model", inv.Model)
	}
	if inv.Sandbox != "" {
		args = append(args, "--sandbox", inv.Sandbox)
	}
	return args
}

func readEvents(r io.Reader, onEvent func(Event)) []Event {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] != '{' {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			log.Debug().Err(err).Msg("codex: skipping malformed line")
			continue
		}
		events = append(events, ev)
		if onEvent != nil {
			onEvent(ev)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug().Err(err).Msg("codex: stdout scan stopped")
		// Drain so the process does not block on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
	return events
}

func lastAgentMessage(events []Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		if text, ok := events[i].AgentMessage(); ok {
			return text
		}
	}
	return ""
}
