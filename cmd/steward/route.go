package main

import (
	"github.com/spf13/cobra"

	"github.com/metalagman/steward/internal/router"
)

func routeCmd() *cobra.Command {
	var (
		req    router.Request
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Show which agent a request would be routed to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			res := router.New(cfg.AgentRouting).Resolve(req)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			renderResolution(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Prompt, "prompt", "", "request text")
	cmd.Flags().StringVar(&req.TaskType, "task-type", "", "task type")
	cmd.Flags().StringVar(&req.UserDirective, "directive", "", "user directive, e.g. /research")
	cmd.Flags().StringSliceVar(&req.TouchesFiles, "file", nil, "file the request touches (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the resolution as JSON")
	return cmd
}
