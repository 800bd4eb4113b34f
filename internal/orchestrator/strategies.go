package orchestrator

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/metalagman/steward/internal/agent"
	"github.com/metalagman/steward/internal/agent/claude"
	"github.com/metalagman/steward/internal/agent/codex"
	"github.com/metalagman/steward/internal/agent/execagent"
	"github.com/metalagman/steward/internal/agent/genaiapi"
	"github.com/metalagman/steward/internal/config"
	"github.com/metalagman/steward/internal/model"
)

// DefaultStrategies returns the process-backed strategies. The api strategy
// is always registered; without a Gemini key its runs fail with
// genaiapi.ErrNoAPIKey.
func DefaultStrategies(ctx context.Context, in config.Integrations) map[model.ExecutionType]agent.Strategy {
	api := genaiapi.Strategy{}
	client, err := genaiapi.NewClient(ctx, in.GeminiAPIKey)
	switch {
	case err == nil:
		api.Generator = client
	case !errors.Is(err, genaiapi.ErrNoAPIKey):
		log.Warn().Err(err).Msg("api agents disabled")
	}

	return map[model.ExecutionType]agent.Strategy{
		model.ExecCodexCLI:   codex.Strategy{},
		model.ExecClaudeCode: claude.Strategy{Source: claude.CLISource{}},
		model.ExecCommand:    execagent.Strategy{},
		model.ExecAPI:        api,
	}
}
