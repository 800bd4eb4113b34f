package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metalagman/steward/internal/thread"
)

func threadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Manage serialized thread task queues",
	}
	cmd.AddCommand(threadsEnqueueCmd())
	cmd.AddCommand(threadsNextCmd())
	cmd.AddCommand(threadsCompleteCmd())
	cmd.AddCommand(threadsListCmd())
	return cmd
}

// withScheduler opens the state database and runs fn with a scheduler that
// adopts the persisted tasks.
func withScheduler(fn func(s *thread.Scheduler) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	conn, closeDB, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB()
	return fn(thread.New(cfg.Threads, thread.NewSQLStore(conn)))
}

func threadsEnqueueCmd() *cobra.Command {
	var (
		priority int
		payload  string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <thread-key>",
		Short: "Queue a task on a thread",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePayload(payload)
			if err != nil {
				return err
			}
			key := ""
			if len(args) == 1 {
				key = strings.TrimSpace(args[0])
			}
			return withScheduler(func(s *thread.Scheduler) error {
				t, err := s.Enqueue(cmd.Context(), key, priority, p)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.ID)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "higher runs first")
	cmd.Flags().StringVar(&payload, "payload", "", "task payload as JSON")
	return cmd
}

func threadsNextCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Start the next runnable task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withScheduler(func(s *thread.Scheduler) error {
				var (
					t   thread.Task
					ok  bool
					err error
				)
				if key != "" {
					t, ok, err = s.NextForThread(cmd.Context(), key)
				} else {
					t, ok, err = s.Next(cmd.Context())
				}
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("no runnable task"))
					return nil
				}
				return writeJSON(cmd.OutOrStdout(), t)
			})
		},
	}
	cmd.Flags().StringVar(&key, "thread", "", "only consider this thread")
	return cmd
}

func threadsCompleteCmd() *cobra.Command {
	var failed bool
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a running task finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(func(s *thread.Scheduler) error {
				if err := s.Complete(cmd.Context(), args[0], !failed); err != nil {
					return err
				}
				status := thread.StatusDone
				if failed {
					status = thread.StatusFailed
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "mark the task failed")
	return cmd
}

func threadsListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show running and queued tasks per thread",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withScheduler(func(s *thread.Scheduler) error {
				lanes, err := s.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), lanes)
				}
				renderLanes(cmd.OutOrStdout(), lanes)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
