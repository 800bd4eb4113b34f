package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalagman/steward/internal/model"
)

func writeConfig(t *testing.T, body string) Loader {
	t.Helper()
	root := t.TempDir()
	path := DefaultPath(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return Loader{Root: root}
}

const sampleConfig = `
agents:
  crm:
    execution_type: local_script
    prompt_path: prompts/crm.md
    permissions:
      can_read: ["contacts/**"]
      can_write: ["contacts/*.md"]
      timeout_ms: 5000
  researcher:
    execution_type: exec
    command: python3 agents/research.py --json
  coder:
    execution_type: codex_cli
    model: gpt-5-codex
    max_turns: 4
triggers:
  - name: morning
    type: cron
    schedule: "0 8 * * *"
    agents: ["*"]
  - name: crm-only
    type: cli
    agents: [crm]
fame_threshold: 0.65
agent_routing:
  default_agent: crm
  user_directives:
    /research: researcher
  affinities:
    - agent: coder
      task_types: [code]
      context_match: "src/**"
      priority: 2
salience:
  weights:
    urgency: 0.5
`

func TestLoad(t *testing.T) {
	t.Setenv("STEWARD_SLACK_TOKEN", "xoxb-test")
	t.Setenv("STEWARD_SLACK_CHANNEL", "C123")
	t.Setenv("STEWARD_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("STEWARD_KAFKA_TOPIC", "")

	l := writeConfig(t, sampleConfig)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"coder", "crm", "researcher"}, cfg.AgentNames())
	crm := cfg.Agents["crm"]
	assert.Equal(t, "crm", crm.Agent)
	assert.Equal(t, model.ExecLocalScript, crm.ExecutionType)
	assert.Equal(t, []string{"contacts/*.md"}, crm.Permissions.CanWrite)
	assert.Equal(t, 5000, crm.Permissions.TimeoutMS)
	assert.Equal(t, []string{"python3", "agents/research.py", "--json"}, cfg.Agents["researcher"].Command)
	assert.Equal(t, 4, cfg.Agents["coder"].MaxTurns)

	require.Len(t, cfg.Triggers, 2)
	assert.Equal(t, model.TriggerCron, cfg.Triggers[0].Type)
	assert.Equal(t, []string{"*"}, cfg.Triggers[0].Agents)

	assert.Equal(t, 0.65, cfg.FameThreshold)
	assert.Equal(t, DefaultMaxParallelAgents, cfg.MaxParallelAgents)
	assert.Equal(t, DefaultMaxEscalationsPerAgent, cfg.MaxEscalationsPerAgent)
	assert.Equal(t, DefaultHistorySize, cfg.HistorySize)
	assert.Equal(t, "researcher", cfg.AgentRouting.UserDirectives["/research"])
	require.Len(t, cfg.AgentRouting.Affinities, 1)
	assert.Equal(t, 2, cfg.AgentRouting.Affinities[0].Priority)

	// Partial weight override keeps the other defaults.
	assert.Equal(t, 0.5, cfg.Salience.Weights.Urgency)
	assert.Equal(t, 0.25, cfg.Salience.Weights.Relevance)
	assert.Equal(t, []string{"contacts/", "action-queue/"}, cfg.Salience.RelevantPrefixes)

	assert.Equal(t, l.Root, cfg.BasePath)
	assert.Equal(t, filepath.Join(l.Root, Dir), cfg.StateDir)
	assert.Equal(t, 2, cfg.Threads.MaxParallelThreads)
	assert.Equal(t, DefaultWebAddr, cfg.Web.Addr)

	assert.True(t, cfg.Integrations.SlackEnabled())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Integrations.KafkaBrokers)
	assert.Equal(t, DefaultKafkaTopic, cfg.Integrations.KafkaTopic)
}

func TestLoad_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown execution type",
			body: "agents:\n  a:\n    execution_type: telepathy\n",
			want: "execution_type",
		},
		{
			name: "threshold out of range",
			body: "fame_threshold: 1.5\n",
			want: "fame_threshold",
		},
		{
			name: "unknown top-level key",
			body: "agentz:\n  x: 1\n",
			want: "agentz",
		},
		{
			name: "parallelism below one",
			body: "max_parallel_agents: 0\n",
			want: "max_parallel_agents",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := writeConfig(t, tc.body).Load()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_CrossFieldValidation(t *testing.T) {
	t.Parallel()

	body := `
agents:
  a:
    execution_type: exec
triggers:
  - type: cli
    agents: [ghost]
agent_routing:
  default_agent: nobody
`
	_, err := writeConfig(t, body).Load()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "exec agents require command")
	assert.Contains(t, err.Error(), `unknown agent "ghost"`)
	assert.Contains(t, err.Error(), `unknown agent "nobody"`)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Loader{Root: t.TempDir()}.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoader_ConfigPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("/ws", ".steward", "config.yaml"), Loader{Root: "/ws"}.ConfigPath())
	assert.Equal(t, filepath.Join("/ws", "custom.json"), Loader{Root: "/ws", Path: "custom.json"}.ConfigPath())
	assert.Equal(t, "/etc/steward.yaml", Loader{Root: "/ws", Path: "/etc/steward.yaml"}.ConfigPath())
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultFameThreshold, cfg.FameThreshold)
	assert.Empty(t, cfg.AgentNames())
}
