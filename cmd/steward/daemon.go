package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/metalagman/steward/internal/config"
	"github.com/metalagman/steward/internal/cron"
	"github.com/metalagman/steward/internal/db"
	"github.com/metalagman/steward/internal/history"
	"github.com/metalagman/steward/internal/lock"
	"github.com/metalagman/steward/internal/model"
	"github.com/metalagman/steward/internal/orchestrator"
	"github.com/metalagman/steward/internal/web"
)

const stopTimeout = 30 * time.Second

func daemonCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run cron triggers and serve the web surface",
		Long:  "Run the steward daemon: cron triggers fire cycles, and an HTTP server exposes history and webhook triggers.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, l, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Web.Addr = addr
			}

			lk, err := lock.TryAcquire(cfg.StateDir, "daemon")
			if err != nil {
				if errors.Is(err, lock.ErrHeld) {
					if pid, ok := lock.Holder(cfg.StateDir, "daemon"); ok {
						return fmt.Errorf("daemon already running (pid %d)", pid)
					}
				}
				return err
			}
			defer func() {
				if err := lk.Release(); err != nil {
					log.Warn().Err(err).Msg("release daemon lock")
				}
			}()

			app := fx.New(fx.NopLogger, daemonOptions(cfg, l))
			startCtx, cancel := context.WithTimeout(cmd.Context(), stopTimeout)
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}

			select {
			case sig := <-app.Done():
				log.Info().Str("signal", sig.String()).Msg("shutting down")
			case <-cmd.Context().Done():
				log.Info().Msg("shutting down")
			}

			stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
			defer cancelStop()
			return app.Stop(stopCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides web.addr)")
	return cmd
}

// daemonOptions assembles the daemon graph for cfg.
func daemonOptions(cfg config.Config, l config.Loader) fx.Option {
	return fx.Options(
		fx.Supply(cfg, l),
		fx.Provide(
			newDaemonDB,
			newDaemonOrchestrator,
			newCronScheduler,
			newWebServer,
		),
		fx.Invoke(func(*cron.Scheduler, *http.Server) {}),
	)
}

func newDaemonDB(lc fx.Lifecycle, cfg config.Config) (*sql.DB, error) {
	conn, err := db.Open(db.DefaultPath(cfg.StateDir))
	if err != nil {
		return nil, err
	}
	if v, err := db.Version(conn); err == nil {
		log.Debug().Int64("schema_version", v).Msg("state database ready")
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return conn.Close() },
	})
	return conn, nil
}

func newDaemonOrchestrator(lc fx.Lifecycle, cfg config.Config, l config.Loader, conn *sql.DB) *orchestrator.Orchestrator {
	o, closeFn := buildOrchestrator(context.Background(), cfg, l, conn)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return closeFn() },
	})
	return o
}

func newCronScheduler(lc fx.Lifecycle, o *orchestrator.Orchestrator) *cron.Scheduler {
	s := cron.New(o, nil)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// Jobs outlive the start context.
			_, err := s.Start(context.Background())
			return err
		},
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
	return s
}

func newWebServer(lc fx.Lifecycle, cfg config.Config, o *orchestrator.Orchestrator, conn *sql.DB) (*http.Server, error) {
	srv, err := web.NewServer(webCycles{o}, history.NewArchive(conn))
	if err != nil {
		return nil, err
	}
	hs := &http.Server{
		Addr:              cfg.Web.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", hs.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", hs.Addr, err)
			}
			log.Info().Str("addr", ln.Addr().String()).Msg("web server listening")
			go func() {
				if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("web server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return hs.Shutdown(ctx)
		},
	})
	return hs, nil
}

// webCycles detaches webhook cycles from the request context.
type webCycles struct {
	*orchestrator.Orchestrator
}

func (w webCycles) RunCycle(ctx context.Context, trigger model.Trigger) (model.Cycle, error) {
	return w.Orchestrator.RunCycle(context.WithoutCancel(ctx), trigger)
}
