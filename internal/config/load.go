package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/metalagman/steward/internal/model"
)

// Dir is the steward directory under the workspace root.
const Dir = ".steward"

// EnvPrefix prefixes integration environment variables.
const EnvPrefix = "STEWARD"

// DefaultPath returns the config file location for a workspace root.
func DefaultPath(root string) string {
	return filepath.Join(root, Dir, "config.yaml")
}

// Loader reads the configuration file on demand.
type Loader struct {
	// Root is the workspace root; relative base_path and state_dir resolve
	// against it.
	Root string
	// Path of the config file. Empty means DefaultPath(Root).
	Path string
}

// ConfigPath returns the resolved config file path.
func (l Loader) ConfigPath() string {
	path := l.Path
	if path == "" {
		path = DefaultPath(l.Root)
	}
	if !filepath.IsAbs(path) && l.Root != "" {
		path = filepath.Join(l.Root, path)
	}
	return path
}

// Load reads, validates and decodes the configuration, then overlays
// integration settings from the environment.
func (l Loader) Load() (Config, error) {
	path := l.ConfigPath()
	v := viper.New()
	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
		v.SetConfigType("yaml")
	}
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := ValidateSettings(v.AllSettings()); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg = l.finish(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	integrations, err := LoadIntegrations()
	if err != nil {
		return Config{}, err
	}
	cfg.Integrations = integrations
	return cfg, nil
}

// LoadIntegrations reads STEWARD_* integration variables.
func LoadIntegrations() (Integrations, error) {
	var in Integrations
	if err := envconfig.Process(EnvPrefix, &in); err != nil {
		return Integrations{}, fmt.Errorf("read integration env: %w", err)
	}
	if in.KafkaTopic == "" {
		in.KafkaTopic = DefaultKafkaTopic
	}
	return in, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("fame_threshold", d.FameThreshold)
	v.SetDefault("max_parallel_agents", d.MaxParallelAgents)
	v.SetDefault("max_escalations_per_agent", d.MaxEscalationsPerAgent)
	v.SetDefault("history_size", d.HistorySize)
	v.SetDefault("salience.weights.urgency", d.Salience.Weights.Urgency)
	v.SetDefault("salience.weights.relevance", d.Salience.Weights.Relevance)
	v.SetDefault("salience.weights.novelty", d.Salience.Weights.Novelty)
	v.SetDefault("salience.weights.actionability", d.Salience.Weights.Actionability)
	v.SetDefault("salience.relevant_prefixes", d.Salience.RelevantPrefixes)
	v.SetDefault("threads.max_parallel_threads", d.Threads.MaxParallelThreads)
	v.SetDefault("threads.max_queue_depth_per_thread", d.Threads.MaxQueueDepthPerThread)
	v.SetDefault("web.addr", d.Web.Addr)
}

// finish fills names, empty collections and resolves directories.
func (l Loader) finish(cfg Config) Config {
	if cfg.Agents == nil {
		cfg.Agents = map[string]model.AgentSpawnConfig{}
	}
	for name, agent := range cfg.Agents {
		if agent.Agent == "" {
			agent.Agent = name
		}
		cfg.Agents[name] = agent
	}
	if cfg.Triggers == nil {
		cfg.Triggers = []model.Trigger{}
	}
	cfg.Threads = cfg.Threads.WithDefaults()
	cfg.BasePath = resolve(l.Root, cfg.BasePath, ".")
	cfg.StateDir = resolve(l.Root, cfg.StateDir, Dir)
	return cfg
}

func resolve(root, p, def string) string {
	if p == "" {
		p = def
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

// decodeHook lets list fields such as command be written as a single
// space-separated string.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToFieldsHook,
	)
}

func stringToFieldsHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
		return data, nil
	}
	return strings.Fields(data.(string)), nil
}
