package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go-attendance-agent/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kiosk control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	deps, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	state := server.NewServerState(server.StateOptions{
		Camera:    deps.camera,
		Locator:   deps.locator,
		Prober:    deps.prober,
		Submitter: deps.submitter,
		Attempts:  deps.attempts,
		Publisher: deps.publisher,
		Profiles:  profiles(cfg),
	})

	if err := deps.submitter.HealthCheck(ctx); err != nil {
		slog.Warn("HR API not reachable at startup", "error", err)
	}

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go state.Registry().RunCleanup(cleanupCtx, time.Minute)

	srv, err := server.NewServer(state, cfg.ServerConfig)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			state.Registry().Shutdown()
			return err
		}
	}

	err = srv.Stop()
	state.Registry().Shutdown()
	return err
}
