package genaiapi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalagman/steward/internal/agent"
	"github.com/metalagman/steward/internal/model"
)

type fakeGenerator struct {
	reply string
	err   error
	got   Request
}

func (f *fakeGenerator) Generate(_ context.Context, req Request) (string, error) {
	f.got = req
	return f.reply, f.err
}

func TestStrategy_Execute(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: `{"findings":[{"type":"suggestion","summary":"reply to Bob","urgency":"medium","suggested_action":"draft email"}]}`}
	cfg := model.AgentSpawnConfig{
		Agent:       "inbox",
		Permissions: model.PermissionEnvelope{Model: "gemini-2.5-pro", MaxTokens: 2048},
	}

	out, err := Strategy{Generator: gen}.Execute(context.Background(), cfg, agent.RunContext{
		Agent:   "inbox",
		CycleID: "c1",
		Prompt:  "Triage the inbox.",
	})
	require.NoError(t, err)

	require.Len(t, out.Findings, 1)
	assert.Equal(t, "draft email", out.Findings[0].SuggestedAction)
	assert.Equal(t, "gemini-2.5-pro", gen.got.Model)
	assert.Equal(t, "Triage the inbox.", gen.got.System)
	assert.Equal(t, 2048, gen.got.MaxTokens)
	assert.Contains(t, gen.got.Input, `"cycle_id": "c1"`)
	assert.NotContains(t, gen.got.Input, "Triage the inbox.")
}

func TestStrategy_Errors(t *testing.T) {
	t.Parallel()

	_, err := Strategy{}.Execute(context.Background(), model.AgentSpawnConfig{}, agent.RunContext{})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = Strategy{Generator: &fakeGenerator{err: errors.New("quota")}}.Execute(context.Background(), model.AgentSpawnConfig{}, agent.RunContext{})
	assert.EqualError(t, err, "quota")

	gen := &fakeGenerator{reply: "I cannot help with that."}
	_, err = Strategy{Generator: gen}.Execute(context.Background(), model.AgentSpawnConfig{}, agent.RunContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), DefaultModel)
}

func TestNewClient_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), " ")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}
