package main

import (
	"github.com/spf13/cobra"

	"github.com/metalagman/steward/internal/model"
)

func runCmd() *cobra.Command {
	var (
		agents  []string
		payload string
		name    string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one cycle now",
		Long:  "Run one cycle with a cli trigger. Without --agents the payload is routed to a single agent.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := parsePayload(payload)
			if err != nil {
				return err
			}
			cfg, l, err := loadConfig()
			if err != nil {
				return err
			}
			conn, closeDB, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			ctx := cmd.Context()
			o, closeFn := buildOrchestrator(ctx, cfg, l, conn)
			defer func() { _ = closeFn() }()

			c, err := o.RunCycle(ctx, model.Trigger{
				Name:    name,
				Type:    model.TriggerCLI,
				Agents:  agents,
				Payload: p,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), c)
			}
			renderCycle(cmd.OutOrStdout(), c)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&agents, "agents", nil, `agents to spawn ("*" for all)`)
	cmd.Flags().StringVar(&payload, "payload", "", "trigger payload as JSON (prompt, task_type, user_directive, touches_files)")
	cmd.Flags().StringVar(&name, "name", "", "trigger name recorded in history")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the cycle as JSON")
	return cmd
}
