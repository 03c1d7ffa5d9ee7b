package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/tiermem/internal/api"
	"github.com/nidhogg/tiermem/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd(opts *options) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled consolidation",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			if port == 0 {
				port = a.cfg.Server.Port
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sched := scheduler.New(a.engine, scheduler.Schedules{
				Quick:   a.cfg.Consolidation.Quick,
				Daily:   a.cfg.Consolidation.Daily,
				Monthly: a.cfg.Consolidation.Monthly,
			}, a.cfg.Consolidation.Agents, a.logger)
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           api.NewHandler(a.engine, a.logger).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("tiermem listening", zap.Int("port", port), zap.Bool("cold", a.engine.ColdEnabled()))
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
			}

			a.logger.Info("shutting down tiermem")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}),
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}
