package webink

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/webink/webink/pkg/browser"
	"github.com/webink/webink/pkg/config"
	"github.com/webink/webink/pkg/registry"
	"github.com/webink/webink/pkg/renderer"
	"github.com/webink/webink/pkg/scheduler"
	"github.com/webink/webink/pkg/server"
	"github.com/webink/webink/pkg/sleep"
	"github.com/webink/webink/pkg/snapshot"
	"github.com/webink/webink/pkg/system"
	"github.com/webink/webink/pkg/tileserver"
)

func newServeCmd() *cobra.Command {
	serveConfig, err := config.LoadServerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load server config")
	}

	envHelpText := generateEnvHelpText(&serveConfig, "")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webInk server.",
		Long:  "Start the webInk server: render the configured pages on schedule and serve their bitmaps to eInk devices.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := serve(cmd, serveConfig)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to run server")
			}
			return nil
		},
	}

	serveCmd.Long += "\n\nEnvironment Variables:\n\n" + envHelpText

	return serveCmd
}

func serve(cmd *cobra.Command, cfg config.ServerConfig) error {
	system.SetupLogging(cfg.LogLevel)

	// Context ensures main goroutine waits until killed with ctrl+c:
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	app, err := config.LoadAppConfig(cfg.ConfigFile)
	if err != nil {
		return err
	}
	// The YAML file may pin either port, overriding the env defaults.
	if app.HTTPPort != 0 {
		cfg.HTTPPort = app.HTTPPort
	}
	if app.SocketPort != 0 {
		cfg.SocketPort = app.SocketPort
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	store, err := snapshot.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}
	reg := registry.Open(filepath.Join(cfg.DataDir, "clients.json"))

	chrome := browser.New(cfg.Browser)
	if err := chrome.Start(ctx); err != nil {
		return err
	}
	defer chrome.Close()

	// Render completions feed the scheduler, whose due pages feed the
	// render queue. The pointer is bound before rend.Start runs, so no
	// completion can observe it nil.
	var sched *scheduler.Scheduler
	rend := renderer.New(app, chrome, store, func(pageID string, took time.Duration, err error) {
		sched.RenderCompleted(pageID, took, err)
	})
	sched = scheduler.New(app, store, rend.Enqueue)

	go func() {
		if err := rend.Start(ctx); err != nil {
			log.Error().Err(err).Msg("render worker stopped")
		}
	}()
	go func() {
		if err := sched.Start(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	socketServer := tileserver.New(cfg, app, store, reg)
	if err := socketServer.Start(); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := socketServer.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("socket server shutdown")
		}
	}()

	planner := sleep.New(app, reg)
	apiServer, err := server.NewServer(cfg, app, store, reg, planner, sched, rend.Enqueue)
	if err != nil {
		return err
	}

	log.Info().Msgf("webInk server listening on %s:%d (http) and %s:%d (socket)",
		cfg.Host, cfg.HTTPPort, cfg.Host, cfg.SocketPort)

	go func() {
		err := apiServer.ListenAndServe(ctx)
		if err != nil {
			panic(err)
		}
	}()

	<-ctx.Done()
	return nil
}
