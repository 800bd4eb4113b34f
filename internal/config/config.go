// Package config provides configuration loading for steward.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/metalagman/steward/internal/model"
	"github.com/metalagman/steward/internal/router"
	"github.com/metalagman/steward/internal/salience"
	"github.com/metalagman/steward/internal/thread"
)

// ErrInvalid marks configuration that failed validation.
var ErrInvalid = errors.New("invalid config")

// Defaults.
const (
	DefaultFameThreshold          = 0.6
	DefaultMaxParallelAgents      = 3
	DefaultMaxEscalationsPerAgent = 1
	DefaultHistorySize            = 50
	DefaultWebAddr                = "127.0.0.1:8787"
	DefaultKafkaTopic             = "steward.agent-events"
)

// Config is the orchestrator configuration.
type Config struct {
	Agents                 map[string]model.AgentSpawnConfig `json:"agents"                    mapstructure:"agents"`
	Triggers               []model.Trigger                   `json:"triggers"                  mapstructure:"triggers"`
	FameThreshold          float64                           `json:"fame_threshold"            mapstructure:"fame_threshold"`
	MaxParallelAgents      int                               `json:"max_parallel_agents"       mapstructure:"max_parallel_agents"`
	MaxEscalationsPerAgent int                               `json:"max_escalations_per_agent" mapstructure:"max_escalations_per_agent"`
	AgentRouting           router.Config                     `json:"agent_routing"             mapstructure:"agent_routing"`
	Salience               SalienceConfig                    `json:"salience"                  mapstructure:"salience"`
	Threads                thread.Config                     `json:"threads"                   mapstructure:"threads"`
	HistorySize            int                               `json:"history_size"              mapstructure:"history_size"`
	BasePath               string                            `json:"base_path"                 mapstructure:"base_path"`
	StateDir               string                            `json:"state_dir"                 mapstructure:"state_dir"`
	Web                    WebConfig                         `json:"web"                       mapstructure:"web"`

	// Integrations come from the environment, never from the file.
	Integrations Integrations `json:"-" mapstructure:"-"`
}

// SalienceConfig tunes the salience scorer.
type SalienceConfig struct {
	Weights          salience.Weights `json:"weights"           mapstructure:"weights"`
	RelevantPrefixes []string         `json:"relevant_prefixes" mapstructure:"relevant_prefixes"`
}

// WebConfig configures the HTTP surface of the daemon.
type WebConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// Integrations holds credentials of external delivery channels.
type Integrations struct {
	SlackToken   string   `envconfig:"SLACK_TOKEN"`
	SlackChannel string   `envconfig:"SLACK_CHANNEL"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC"`
	GeminiAPIKey string   `envconfig:"GEMINI_API_KEY"`
}

// SlackEnabled reports whether surfaced findings can be posted to Slack.
func (i Integrations) SlackEnabled() bool {
	return i.SlackToken != "" && i.SlackChannel != ""
}

// KafkaEnabled reports whether agent events can be published to Kafka.
func (i Integrations) KafkaEnabled() bool {
	return len(i.KafkaBrokers) > 0
}

// Default returns a configuration with every default applied and no agents.
func Default() Config {
	return Config{
		Agents:                 map[string]model.AgentSpawnConfig{},
		Triggers:               []model.Trigger{},
		FameThreshold:          DefaultFameThreshold,
		MaxParallelAgents:      DefaultMaxParallelAgents,
		MaxEscalationsPerAgent: DefaultMaxEscalationsPerAgent,
		Salience: SalienceConfig{
			Weights:          salience.DefaultWeights,
			RelevantPrefixes: append([]string(nil), salience.DefaultRelevantPrefixes...),
		},
		Threads:     thread.Config{}.WithDefaults(),
		HistorySize: DefaultHistorySize,
		Web:         WebConfig{Addr: DefaultWebAddr},
	}
}

// AgentNames returns configured agent names in sorted order.
func (c Config) AgentNames() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks cross-field rules the schema cannot express.
func (c Config) Validate() error {
	var problems []string
	for _, name := range c.AgentNames() {
		agent := c.Agents[name]
		if agent.ExecutionType == model.ExecCommand && len(agent.Command) == 0 {
			problems = append(problems, fmt.Sprintf("agents.%s: exec agents require command", name))
		}
	}
	for i, trigger := range c.Triggers {
		for _, name := range trigger.Agents {
			if name == model.AllAgents {
				continue
			}
			if _, ok := c.Agents[name]; !ok {
				problems = append(problems, fmt.Sprintf("triggers[%d]: unknown agent %q", i, name))
			}
		}
	}
	routing := c.AgentRouting
	if routing.DefaultAgent != "" {
		if _, ok := c.Agents[routing.DefaultAgent]; !ok {
			problems = append(problems, fmt.Sprintf("agent_routing.default_agent: unknown agent %q", routing.DefaultAgent))
		}
	}
	for i, aff := range routing.Affinities {
		if _, ok := c.Agents[aff.Agent]; !ok {
			problems = append(problems, fmt.Sprintf("agent_routing.affinities[%d]: unknown agent %q", i, aff.Agent))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
