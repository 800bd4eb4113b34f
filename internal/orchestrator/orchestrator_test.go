package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalagman/steward/internal/agent"
	"github.com/metalagman/steward/internal/config"
	"github.com/metalagman/steward/internal/model"
	"github.com/metalagman/steward/internal/router"
)

type staticSource struct {
	mu  sync.Mutex
	cfg config.Config
	err error
}

func (s *staticSource) Load() (config.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.err
}

func testConfig(t *testing.T, agents ...string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BasePath = t.TempDir()
	for _, name := range agents {
		cfg.Agents[name] = model.AgentSpawnConfig{
			Agent:         name,
			ExecutionType: model.ExecLocalScript,
			Permissions:   model.PermissionEnvelope{TimeoutMS: 2000},
		}
	}
	return cfg
}

func returns(out model.AgentOutput) agent.LocalFunc {
	return func(context.Context, agent.RunContext) (model.AgentOutput, error) {
		return out, nil
	}
}

func TestRunCycle_Scenario(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "a", "b")
	cfg.FameThreshold = 0.65
	b := cfg.Agents["b"]
	b.Permissions.CanWrite = []string{"notes/*.md"}
	cfg.Agents["b"] = b

	o := New(&staticSource{cfg: cfg}, Options{})
	o.RegisterLocal("a", returns(model.AgentOutput{
		Findings: []model.Finding{{
			Type:            model.FindingAlert,
			Summary:         "contract renewal due tomorrow",
			Urgency:         model.UrgencyHigh,
			SuggestedAction: "email legal",
		}},
	}))
	o.RegisterLocal("b", returns(model.AgentOutput{
		Findings: []model.Finding{{Type: model.FindingInsight, Summary: "newsletter arrived", Urgency: model.UrgencyLow}},
		MemoryUpdates: []model.MemoryUpdate{
			{File: "contacts/eve.md", Operation: model.MemoryOpAppend, Content: "subscribed"},
		},
	}))

	c, err := o.RunCycle(context.Background(), model.Trigger{Type: model.TriggerCLI, Agents: []string{"a", "b"}})
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, []string{"a", "b"}, c.AgentsSpawned)
	require.Len(t, c.ScoredFindings, 2)
	require.Len(t, c.Surfaced, 1)
	assert.Equal(t, "a", c.Surfaced[0].Agent)
	assert.Equal(t, 0.7975, c.Surfaced[0].Salience)
	require.Len(t, c.Errors, 1)
	assert.Contains(t, c.Errors[0], "Permission denied")
	assert.Contains(t, c.Errors[0], "contacts/eve.md")
	assert.False(t, c.CompletedAt.Before(c.StartedAt))
	assert.NoFileExists(t, filepath.Join(cfg.BasePath, "contacts", "eve.md"))

	require.Len(t, o.History(), 1)
	got, ok := o.Cycle(c.ID)
	require.True(t, ok)
	assert.Equal(t, c.ID, got.ID)
}

func TestRunCycle_FailingAgentDoesNotAbortCycle(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "ok1", "boom", "ok2")
	o := New(&staticSource{cfg: cfg}, Options{})
	o.RegisterLocal("ok1", returns(model.AgentOutput{Findings: []model.Finding{{Summary: "one", Urgency: model.UrgencyLow}}}))
	o.RegisterLocal("ok2", returns(model.AgentOutput{Findings: []model.Finding{{Summary: "two", Urgency: model.UrgencyLow}}}))
	o.RegisterLocal("boom", func(context.Context, agent.RunContext) (model.AgentOutput, error) {
		panic("exploded")
	})

	c, err := o.RunCycle(context.Background(), model.Trigger{Type: model.TriggerCLI, Agents: []string{"ok1", "boom", "ok2"}})
	require.NoError(t, err)

	require.Len(t, c.AgentOutputs, 3)
	byAgent := map[string]model.AgentOutput{}
	for _, out := range c.AgentOutputs {
		byAgent[out.Agent] = out
	}
	assert.NotEmpty(t, byAgent["boom"].Errors)
	assert.Empty(t, byAgent["ok1"].Errors)
	assert.Empty(t, byAgent["ok2"].Errors)
	assert.Len(t, byAgent["ok1"].Findings, 1)
	assert.Len(t, c.ScoredFindings, 2)
}

func TestRunCycle_FindingsAttributedToSpawnedAgent(t *testing.T) {
	t.Parallel()

	o := New(&staticSource{cfg: testConfig(t, "mallory", "trusted")}, Options{})
	o.RegisterLocal("mallory", returns(model.AgentOutput{
		Agent:    "trusted",
		Findings: []model.Finding{{Type: model.FindingAlert, Summary: "approve invoice", Urgency: model.UrgencyCritical}},
	}))

	c, err := o.RunCycle(context.Background(), model.Trigger{Type: model.TriggerCLI, Agents: []string{"mallory"}})
	require.NoError(t, err)

	require.Len(t, c.AgentOutputs, 1)
	assert.Equal(t, "mallory", c.AgentOutputs[0].Agent)
	require.Len(t, c.ScoredFindings, 1)
	assert.Equal(t, "mallory", c.ScoredFindings[0].Agent)
}

func TestRunCycle_AllAgentsCycleWithEveryAgentFailing(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "x", "y")
	o := New(&staticSource{cfg: cfg}, Options{})
	o.RegisterLocal("x", func(context.Context, agent.RunContext) (model.AgentOutput, error) {
		return model.AgentOutput{}, errors.New("no mailbox")
	})

	c, err := o.RunCycle(context.Background(), model.Trigger{Type: model.TriggerCron, Agents: []string{model.AllAgents, "ghost"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y"}, c.AgentsSpawned)
	require.Len(t, c.AgentOutputs, 2)
	assert.Equal(t, []string{"no mailbox"}, c.AgentOutputs[0].Errors)
	assert.Contains(t, c.AgentOutputs[1].Errors[0], `no local agent registered as "y"`)
	assert.Empty(t, c.Surfaced)
	assert.Equal(t, []string{"Unknown agent: ghost"}, c.Errors)
}

func TestRunCycle_RoutesWhenNoAgentsGiven(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "researcher", "coder", "generalist")
	cfg.AgentRouting = router.Config{
		DefaultAgent:   "generalist",
		UserDirectives: map[string]string{"/research": "researcher"},
		Affinities:     []router.Affinity{{Agent: "coder", ContextMatch: "src/**"}},
	}

	var ran []string
	var mu sync.Mutex
	o := New(&staticSource{cfg: cfg}, Options{})
	for _, name := range []string{"researcher", "coder", "generalist"} {
		o.RegisterLocal(name, func(_ context.Context, rc agent.RunContext) (model.AgentOutput, error) {
			mu.Lock()
			defer mu.Unlock()
			ran = append(ran, rc.Agent)
			return model.AgentOutput{}, nil
		})
	}

	tests := []struct {
		payload map[string]any
		want    string
	}{
		{payload: map[string]any{"user_directive": "/research pricing", "touches_files": []any{"src/main.go"}}, want: "researcher"},
		{payload: map[string]any{"touches_files": "src/main.go"}, want: "coder"},
		{payload: nil, want: "generalist"},
	}
	for _, tc := range tests {
		c, err := o.RunCycle(context.Background(), model.Trigger{Type: model.TriggerWebhook, Payload: tc.payload})
		require.NoError(t, err)
		assert.Equal(t, []string{tc.want}, c.AgentsSpawned)
	}
	assert.Equal(t, []string{"researcher", "coder", "generalist"}, ran)

	res, err := o.Route(context.Background(), router.Request{TouchesFiles: []string{"src/x.go"}})
	require.NoError(t, err)
	assert.Equal(t, router.ReasonContextMatch, res.Reason)
}

func TestRunCycle_RoutingWithoutDefault(t *testing.T) {
	t.Parallel()

	o := New(&staticSource{cfg: testConfig(t, "a")}, Options{})
	c, err := o.RunCycle(context.Background(), model.Trigger{Type: model.TriggerCLI})
	require.NoError(t, err)
	assert.Empty(t, c.AgentsSpawned)
	require.Len(t, c.Errors, 1)
	assert.Contains(t, c.Errors[0], "Routing failed")
}

func TestRunCycle_BoundsParallelism(t *testing.T) {
	t.Parallel()

	names := []string{"a1", "a2", "a3", "a4", "a5"}
	cfg := testConfig(t, names...)
	cfg.MaxParallelAgents = 2

	var inFlight, peak atomic.Int32
	o := New(&staticSource{cfg: cfg}, Options{})
	for _, name := range names {
		o.RegisterLocal(name, func(context.Context, agent.RunContext) (model.AgentOutput, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return model.AgentOutput{}, nil
		})
	}

	c, err := o.RunCycle(context.Background(), model.Trigger{Type: model.TriggerCLI, Agents: names})
	require.NoError(t, err)
	assert.Len(t, c.AgentOutputs, 5)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	for i, out := range c.AgentOutputs {
		assert.Equal(t, names[i], out.Agent)
	}
}

func TestRunCycle_AppliesApprovedUpdates(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "crm")
	crm := cfg.Agents["crm"]
	crm.Permissions.CanWrite = []string{"contacts/*.md"}
	cfg.Agents["crm"] = crm

	o := New(&staticSource{cfg: cfg}, Options{})
	o.RegisterLocal("crm", returns(model.AgentOutput{
		MemoryUpdates: []model.MemoryUpdate{
			{File: "contacts/alice.md", Operation: model.MemoryOpAppend, Content: "likes tea"},
			{File: "contacts/bob.md", Operation: model.MemoryOpFlag, Content: "verify title"},
		},
	}))

	c, err := o.RunCycle(context.Background(), model.Trigger{Type: model.TriggerCLI, Agents: []string{"crm"}})
	require.NoError(t, err)
	assert.Empty(t, c.Errors)

	data, err := os.ReadFile(filepath.Join(cfg.BasePath, "contacts", "alice.md"))
	require.NoError(t, err)
	assert.Equal(t, "likes tea\n", string(data))
	assert.FileExists(t, filepath.Join(cfg.BasePath, "review-queue.md"))
}

type failingApplier struct{}

func (failingApplier) Apply(context.Context, string, model.MemoryUpdate) error {
	return errors.New("disk full")
}

func TestRunCycle_ApplyFailureIsCycleError(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "crm")
	o := New(&staticSource{cfg: cfg}, Options{Applier: failingApplier{}})
	o.RegisterLocal("crm", returns(model.AgentOutput{
		MemoryUpdates: []model.MemoryUpdate{{File: "x.md", Operation: model.MemoryOpFlag, Content: "?"}},
	}))

	c, err := o.RunCycle(context.Background(), model.Trigger{Type: model.TriggerCLI, Agents: []string{"crm"}})
	require.NoError(t, err)
	require.Len(t, c.Errors, 1)
	assert.Contains(t, c.Errors[0], "Apply failed")
	assert.Contains(t, c.Errors[0], "disk full")
}

func TestRunCycle_EscalationBudget(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "deep")
	cfg.MaxEscalationsPerAgent = 1
	o := New(&staticSource{cfg: cfg}, Options{})
	o.RegisterLocal("deep", returns(model.AgentOutput{EscalationNeeded: true, EscalationReason: "max_turns"}))

	trigger := model.Trigger{Type: model.TriggerCLI, Agents: []string{"deep"}}
	first, err := o.RunCycle(context.Background(), trigger)
	require.NoError(t, err)
	assert.Empty(t, first.Errors)

	second, err := o.RunCycle(context.Background(), trigger)
	require.NoError(t, err)
	assert.Equal(t, []string{"Escalation budget exhausted for deep"}, second.Errors)
}

type memArchive struct {
	mu     sync.Mutex
	saved  []string
	failed bool
}

func (a *memArchive) Save(_ context.Context, c model.Cycle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failed {
		return errors.New("archive offline")
	}
	a.saved = append(a.saved, c.ID)
	return nil
}

func TestRunCycle_ArchiveAndHooks(t *testing.T) {
	t.Parallel()

	var events atomic.Int32
	archive := &memArchive{}
	var hooked []string
	o := New(&staticSource{cfg: testConfig(t, "a")}, Options{
		Listener: func(model.AgentEvent) { events.Add(1) },
		Archive:  archive,
		Hooks: []Hook{
			func(context.Context, model.Cycle) error { panic("hook down") },
			func(context.Context, model.Cycle) error { return errors.New("slack down") },
			func(_ context.Context, c model.Cycle) error {
				hooked = append(hooked, c.ID)
				return nil
			},
		},
	})
	o.RegisterLocal("a", returns(model.AgentOutput{}))

	c, err := o.RunCycle(context.Background(), model.Trigger{Type: model.TriggerCLI, Agents: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, archive.saved)
	assert.Equal(t, []string{c.ID}, hooked)
	assert.Equal(t, int32(2), events.Load())

	archive.failed = true
	_, err = o.RunCycle(context.Background(), model.Trigger{Type: model.TriggerCLI, Agents: []string{"a"}})
	require.NoError(t, err)
	assert.Len(t, o.History(), 2)
}

func TestReloadConfig(t *testing.T) {
	t.Parallel()

	src := &staticSource{err: errors.New("read config: no such file")}
	o := New(src, Options{})

	_, err := o.RunCycle(context.Background(), model.Trigger{Type: model.TriggerCLI})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")

	cfg := testConfig(t, "a")
	cfg.Triggers = []model.Trigger{{Name: "nightly", Type: model.TriggerCron, Schedule: "0 2 * * *", Agents: []string{"a"}}}
	src.mu.Lock()
	src.cfg, src.err = cfg, nil
	src.mu.Unlock()

	require.NoError(t, o.ReloadConfig(context.Background()))
	require.Len(t, o.Triggers(), 1)
	assert.Equal(t, "nightly", o.Triggers()[0].Name)

	src.mu.Lock()
	src.err = errors.New("broken yaml")
	src.mu.Unlock()
	require.Error(t, o.ReloadConfig(context.Background()))

	got, err := o.Config(context.Background())
	require.NoError(t, err)
	assert.Contains(t, got.Agents, "a")
}

func TestDefaultStrategies(t *testing.T) {
	t.Parallel()

	strategies := DefaultStrategies(context.Background(), config.Integrations{})
	for _, execType := range []model.ExecutionType{model.ExecCodexCLI, model.ExecClaudeCode, model.ExecCommand, model.ExecAPI} {
		assert.Contains(t, strategies, execType)
	}

	cfg := testConfig(t)
	cfg.Agents["remote"] = model.AgentSpawnConfig{Agent: "remote", ExecutionType: model.ExecAPI}
	o := New(&staticSource{cfg: cfg}, Options{Strategies: strategies})
	c, err := o.RunCycle(context.Background(), model.Trigger{Type: model.TriggerCLI, Agents: []string{"remote"}})
	require.NoError(t, err)
	require.Len(t, c.AgentOutputs, 1)
	assert.Contains(t, c.AgentOutputs[0].Errors[0], "api key")
}
