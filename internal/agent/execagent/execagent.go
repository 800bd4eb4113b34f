// Package execagent runs arbitrary commands as agents through ainvoke, which
// validates the context document and the agent output against JSON schemas.
package execagent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/metalagman/ainvoke"

	"github.com/metalagman/steward/internal/agent"
	"github.com/metalagman/steward/internal/model"
)

// Strategy executes agents with execution_type "exec".
type Strategy struct {
	UseTTY bool
	Stdout io.Writer
	Stderr io.Writer
}

// Command returns the argv of cfg: command followed by args.
func Command(cfg model.AgentSpawnConfig) ([]string, error) {
	cmd := make([]string, 0, len(cfg.Command)+len(cfg.Args))
	cmd = append(cmd, cfg.Command...)
	cmd = append(cmd, cfg.Args...)
	if len(cmd) == 0 || strings.TrimSpace(cmd[0]) == "" {
		return nil, fmt.Errorf("exec agent %s requires command", cfg.Agent)
	}
	return cmd, nil
}

// Execute invokes the command in a scratch run directory.
func (s Strategy) Execute(ctx context.Context, cfg model.AgentSpawnConfig, rc agent.RunContext) (model.AgentOutput, error) {
	cmd, err := Command(cfg)
	if err != nil {
		return model.AgentOutput{}, err
	}
	runner, err := ainvoke.NewRunner(ainvoke.AgentConfig{Cmd: cmd, UseTTY: s.UseTTY})
	if err != nil {
		return model.AgentOutput{}, fmt.Errorf("create exec runner: %w", err)
	}

	runDir, err := os.MkdirTemp("", "steward-exec-*")
	if err != nil {
		return model.AgentOutput{}, fmt.Errorf("create run dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(runDir) }()

	rc.Report("exec: " + cmd[0])
	outBytes, errBytes, exitCode, err := runner.Run(ctx, ainvoke.Invocation{
		RunDir:       runDir,
		SystemPrompt: agent.BuildPrompt(cfg, rc),
		Input:        agent.Input(cfg, rc),
		InputSchema:  agent.InputSchema,
		OutputSchema: agent.OutputSchema,
	}, ainvoke.WithStdout(orDiscard(s.Stdout)), ainvoke.WithStderr(orDiscard(s.Stderr)))
	return decode(outBytes, errBytes, exitCode, err)
}

func decode(outBytes, errBytes []byte, exitCode int, runErr error) (model.AgentOutput, error) {
	if runErr != nil {
		return model.AgentOutput{}, fmt.Errorf("run exec agent (exit code %d): %w", exitCode, runErr)
	}
	var out model.AgentOutput
	if err := json.Unmarshal(outBytes, &out); err != nil {
		parsed, perr := agent.ParseOutput(string(outBytes))
		if perr != nil {
			return model.AgentOutput{}, fmt.Errorf("decode exec agent output: %w", err)
		}
		out = parsed
	}
	if exitCode != 0 {
		msg := fmt.Sprintf("exec agent exited with code %d", exitCode)
		if stderr := strings.TrimSpace(string(errBytes)); stderr != "" {
			msg += ": " + stderr
		}
		out.Errors = append(out.Errors, msg)
	}
	return out, nil
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
