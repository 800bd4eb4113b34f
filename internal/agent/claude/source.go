package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/metalagman/steward/internal/agent"
	"github.com/metalagman/steward/internal/model"
)

// DefaultBinary is the executable used when no command override is set.
const DefaultBinary = "claude"

// DefaultMaxTurns applies when the spawn config does not set max_turns.
const DefaultMaxTurns = 10

const maxLineSize = 4 * 1024 * 1024

// Request describes one streaming run.
type Request struct {
	Binary   string
	Args     []string // placed before the generated flags
	Flags    []string // appended after the generated flags
	Prompt   string
	WorkDir  string
	Model    string
	MaxTurns int
}

// Source produces the message stream of one run.
type Source interface {
	Stream(ctx context.Context, req Request) iter.Seq2[Message, error]
}

// CLISource streams messages from the claude CLI.
type CLISource struct{}

// Args builds the command line for req.
func Args(req Request) []string {
	args := append([]string{}, req.Args...)
	args = append(args, "--print", "--output-format", "stream-json", "--verbose")
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	args = append(args, "--max-turns", strconv.Itoa(maxTurns))
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	return append(args, req.Flags...)
}

// Stream starts the CLI with the prompt on stdin and yields each parsed line.
// Non-JSON lines are skipped. Stopping the iteration early terminates the
// process.
func (CLISource) Stream(ctx context.Context, req Request) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		binary := req.Binary
		if binary == "" {
			binary = DefaultBinary
		}
		cmd := exec.CommandContext(ctx, binary, Args(req)...)
		cmd.Dir = req.WorkDir
		cmd.Stdin = strings.NewReader(req.Prompt)
		agent.TerminateGroupOnCancel(cmd, syscall.SIGTERM)

		var stderr strings.Builder
		cmd.Stderr = &stderr
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(Message{}, fmt.Errorf("claude stdout pipe: %w", err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(Message{}, fmt.Errorf("start claude: %w", err))
			return
		}

		sawResult := false
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || line[0] != '{' {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(line), &msg); err != nil {
				log.Debug().Err(err).Msg("claude: skipping malformed line")
				continue
			}
			if msg.Type == TypeResult {
				sawResult = true
			}
			if !yield(msg, nil) {
				cancel()
				_ = cmd.Wait()
				return
			}
		}

		waitErr := cmd.Wait()
		if waitErr != nil && !sawResult {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = "no output"
			}
			yield(Message{}, fmt.Errorf("claude exited: %w: %s", waitErr, msg))
		}
	}
}

// Strategy executes claude_code agents.
type Strategy struct {
	Source Source
}

// Execute streams a run for cfg and folds it into an agent output.
func (s Strategy) Execute(ctx context.Context, cfg model.AgentSpawnConfig, rc agent.RunContext) (model.AgentOutput, error) {
	src := s.Source
	if src == nil {
		src = CLISource{}
	}
	binary, pre := agent.Binary(cfg.Command, DefaultBinary)
	modelName := cfg.Model
	if modelName == "" {
		modelName = cfg.Permissions.Model
	}
	req := Request{
		Binary:   binary,
		Args:     pre,
		Flags:    cfg.Args,
		Prompt:   agent.BuildPrompt(cfg, rc),
		WorkDir:  rc.BasePath,
		Model:    modelName,
		MaxTurns: cfg.MaxTurns,
	}
	return Collect(src.Stream(ctx, req), rc.Report)
}
