package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/metalagman/steward/internal/config"
)

const researcherPrompt = `You are the research agent of a personal steward.

Read the notes you are allowed to read, look for open questions and report
what deserves attention. Record durable facts as memory updates under notes/.
`

func defaultConfig() map[string]any {
	return map[string]any{
		"agents": map[string]any{
			reviewDigestAgent: map[string]any{
				"execution_type": "local_script",
				"permissions": map[string]any{
					"can_read":   []string{"review-queue.md"},
					"can_write":  []string{},
					"timeout_ms": 5000,
				},
			},
			"researcher": map[string]any{
				"execution_type": "codex_cli",
				"prompt_path":    filepath.ToSlash(filepath.Join(config.Dir, "prompts", "researcher.md")),
				"permissions": map[string]any{
					"can_read":                []string{"notes/**", "contacts/**"},
					"can_write":               []string{"notes/**"},
					"requires_human_approval": []string{"send_email"},
					"timeout_ms":              600000,
				},
			},
		},
		"triggers": []map[string]any{
			{
				"name":     "morning-digest",
				"type":     "cron",
				"schedule": "0 8 * * *",
				"agents":   []string{reviewDigestAgent},
			},
		},
		"fame_threshold":            config.DefaultFameThreshold,
		"max_parallel_agents":       config.DefaultMaxParallelAgents,
		"max_escalations_per_agent": config.DefaultMaxEscalationsPerAgent,
		"agent_routing": map[string]any{
			"default_agent":   reviewDigestAgent,
			"user_directives": map[string]string{"/research": "researcher"},
			"affinities": []map[string]any{
				{"agent": "researcher", "task_types": []string{"research"}, "context_match": "notes/**", "priority": 1},
			},
		},
	}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a steward workspace",
		Long:  "Initialize a steward workspace by creating the .steward directory, a default config and prompts.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := newLoader()
			if err != nil {
				return err
			}
			stewardDir := filepath.Join(l.Root, config.Dir)
			log.Info().Str("dir", stewardDir).Msg("creating steward directory")
			if err := os.MkdirAll(filepath.Join(stewardDir, "prompts"), 0o755); err != nil {
				return fmt.Errorf("create prompts dir: %w", err)
			}

			promptPath := filepath.Join(stewardDir, "prompts", "researcher.md")
			if err := writeIfMissing(promptPath, []byte(researcherPrompt), force); err != nil {
				return err
			}

			data, err := yaml.Marshal(defaultConfig())
			if err != nil {
				return fmt.Errorf("marshal default config: %w", err)
			}
			configPath := l.ConfigPath()
			if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := writeIfMissing(configPath, append([]byte("# steward configuration\n"), data...), force); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "steward initialized in "+stewardDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func writeIfMissing(path string, data []byte, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		log.Info().Str("path", path).Msg("file already exists, skipping")
		return nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
