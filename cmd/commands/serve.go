package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/decoded/internal/config"
	"github.com/dohr-michael/decoded/internal/events"
	"github.com/dohr-michael/decoded/internal/gateway"
	"github.com/dohr-michael/decoded/internal/heartbeat"
	"github.com/dohr-michael/decoded/internal/models"
	"github.com/dohr-michael/decoded/internal/sessions"
	"github.com/dohr-michael/decoded/internal/storage"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the decoded gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
			&cli.StringFlag{
				Name:  "event-log",
				Usage: "Directory for per-session JSONL event logs (empty = disabled)",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = int(cmd.Int("port"))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	if dir := cmd.String("event-log"); dir != "" {
		el := storage.NewEventLogger(dir, bus)
		defer el.Close()
		slog.Info("event log enabled", "dir", dir)
	}

	registry := models.NewRegistry(cfg.Models, cfg.Generation)
	if len(registry.Names()) == 0 {
		slog.Warn("no model providers configured", "config", configPath)
	}

	reloader := config.NewReloader(configPath, config.DotenvPath(), cfg)
	reloader.OnReload(registry.Reload)
	go reloader.WatchSignals(ctx)

	store := sessions.NewMemoryStore(registry, sessions.WithPublisher(bus))
	server := gateway.NewServer(bus, store, registry, cfg.Gateway)

	hb := heartbeat.NewWriter(
		filepath.Join(config.DecodedPath(), "heartbeat.json"),
		heartbeat.WithGateway(cfg.Gateway.Addr(), store.Len),
	)
	if err := os.MkdirAll(config.DecodedPath(), 0o755); err != nil {
		slog.Warn("create data dir", "path", config.DecodedPath(), "error", err)
	}
	hb.Start()
	defer hb.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
