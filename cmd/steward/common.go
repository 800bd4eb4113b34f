package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/viper"

	"github.com/metalagman/steward/internal/agent"
	"github.com/metalagman/steward/internal/config"
	"github.com/metalagman/steward/internal/db"
	"github.com/metalagman/steward/internal/eventbus"
	"github.com/metalagman/steward/internal/history"
	"github.com/metalagman/steward/internal/notify"
	"github.com/metalagman/steward/internal/orchestrator"
)

func newLoader() (config.Loader, error) {
	root, err := os.Getwd()
	if err != nil {
		return config.Loader{}, err
	}
	return config.Loader{Root: root, Path: viper.GetString("config")}, nil
}

func loadConfig() (config.Config, config.Loader, error) {
	l, err := newLoader()
	if err != nil {
		return config.Config{}, config.Loader{}, err
	}
	cfg, err := l.Load()
	if err != nil {
		return config.Config{}, config.Loader{}, err
	}
	return cfg, l, nil
}

func openDB(cfg config.Config) (*sql.DB, func(), error) {
	conn, err := db.Open(db.DefaultPath(cfg.StateDir))
	if err != nil {
		return nil, func() {}, err
	}
	return conn, func() { _ = conn.Close() }, nil
}

// buildOrchestrator wires strategies, built-in agents, the cycle archive and
// the integrations enabled in cfg. The returned func releases integrations.
func buildOrchestrator(ctx context.Context, cfg config.Config, l config.Loader, conn *sql.DB, listeners ...agent.Listener) (*orchestrator.Orchestrator, func() error) {
	closers := []func() error{}
	listeners = append([]agent.Listener{eventbus.LogListener}, listeners...)

	in := cfg.Integrations
	if in.KafkaEnabled() {
		pub := eventbus.NewKafkaPublisher(in.KafkaBrokers, in.KafkaTopic)
		listeners = append(listeners, pub.Listen)
		closers = append(closers, pub.Close)
	}

	var hooks []orchestrator.Hook
	if in.SlackEnabled() {
		hooks = append(hooks, notify.NewSlack(in.SlackToken, in.SlackChannel, "").NotifyCycle)
	}

	opts := orchestrator.Options{
		Listener:   eventbus.Fanout(listeners...),
		Hooks:      hooks,
		Strategies: orchestrator.DefaultStrategies(ctx, in),
	}
	if conn != nil {
		opts.Archive = history.NewArchive(conn)
	}

	o := orchestrator.New(l, opts)
	registerBuiltins(o)

	return o, func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
}

func parsePayload(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return payload, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
