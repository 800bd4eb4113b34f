package main

import (
	"github.com/spf13/cobra"

	"github.com/metalagman/steward/internal/history"
)

func cyclesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "Inspect archived cycles",
	}
	cmd.AddCommand(cyclesListCmd())
	cmd.AddCommand(cyclesShowCmd())
	return cmd
}

func cyclesListCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent cycles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			conn, closeDB, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			rows, err := history.NewArchive(conn).List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			renderSummaries(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of cycles (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func cyclesShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <cycle-id>",
		Short: "Show one cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			conn, closeDB, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			c, err := history.NewArchive(conn).Get(cmd.Context(), args[0])
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
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
