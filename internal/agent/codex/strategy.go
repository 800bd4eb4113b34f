package codex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/metalagman/steward/internal/agent"
	"github.com/metalagman/steward/internal/model"
)

// Strategy executes codex_cli agents.
type Strategy struct {
	// Sandbox is passed as --sandbox when set, e.g. "read-only".
	Sandbox string
}

// Execute runs codex for cfg and parses the final message as an agent output.
func (s Strategy) Execute(ctx context.Context, cfg model.AgentSpawnConfig, rc agent.RunContext) (model.AgentOutput, error) {
	binary, pre := agent.Binary(cfg.Command, DefaultBinary)
	modelName := cfg.Model
	if modelName == "" {
		modelName = cfg.Permissions.Model
	}

	res, err := Exec(ctx, Invocation{
		Binary:  binary,
		Args:    pre,
		Flags:   cfg.Args,
		Prompt:  agent.BuildPrompt(cfg, rc),
		WorkDir: rc.BasePath,
		Model:   modelName,
		Sandbox: s.Sandbox,
		Timeout: cfg.Permissions.Timeout(),
	}, func(ev Event) {
		if t := ev.Type(); t != "" {
			rc.Report("codex: " + t)
		}
	})
	if err != nil {
		return model.AgentOutput{}, err
	}
	if res.TimedOut {
		return model.AgentOutput{}, fmt.Errorf("codex terminated after %dms", cfg.Permissions.Timeout().Milliseconds())
	}

	var streamErrs []string
	for _, ev := range res.Events {
		if msg, ok := ev.ErrorMessage(); ok {
			streamErrs = append(streamErrs, msg)
		}
	}

	out, parseErr := agent.ParseOutput(res.FinalMessage)
	if parseErr != nil {
		if res.ExitCode != 0 {
			return model.AgentOutput{}, fmt.Errorf("codex exited with code %d: %s", res.ExitCode, tail(res.Stderr, streamErrs))
		}
		if errors.Is(parseErr, agent.ErrNoJSON) {
			return model.AgentOutput{}, errors.New("codex returned no agent output json")
		}
		return model.AgentOutput{}, parseErr
	}

	out.Errors = append(out.Errors, streamErrs...)
	if res.ExitCode != 0 {
		out.Errors = append(out.Errors, fmt.Sprintf("codex exited with code %d", res.ExitCode))
	}
	return out, nil
}

func tail(stderr string, streamErrs []string) string {
	if len(streamErrs) > 0 {
		return streamErrs[len(streamErrs)-1]
	}
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > 500 {
		stderr = stderr[len(stderr)-500:]
	}
	if stderr == "" {
		return "no output"
	}
	return stderr
}
