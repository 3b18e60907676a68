package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/decoded/internal/config"
	"github.com/dohr-michael/decoded/internal/events"
	"github.com/dohr-michael/decoded/internal/generation"
	"github.com/dohr-michael/decoded/internal/models"
)

// providerFlags are shared by every command that talks to a provider directly.
func providerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "provider",
			Aliases: []string{"p"},
			Usage:   "Provider name from config (empty = default)",
		},
		&cli.StringFlag{
			Name:    "model",
			Aliases: []string{"m"},
			Usage:   "Override the provider's model",
		},
		&cli.FloatFlag{
			Name:  "temperature",
			Usage: "Sampling temperature [0, 2]",
		},
		&cli.FloatFlag{
			Name:  "top-p",
			Usage: "Nucleus sampling threshold [0, 1]",
		},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// localEngine is a generation engine driven in-process, outside the gateway.
type localEngine struct {
	engine  *generation.Engine
	backend *models.Backend
	bus     *events.Bus
}

func (l *localEngine) Close() { l.bus.Close() }

// newLocalEngine resolves the selected provider and builds an engine with the
// command's sampling overrides applied.
func newLocalEngine(ctx context.Context, cmd *cli.Command) (*localEngine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	registry := models.NewRegistry(cfg.Models, cfg.Generation)
	backend, err := registry.Resolve(ctx, cmd.String("provider"))
	if err != nil {
		return nil, fmt.Errorf("init provider: %w", err)
	}

	params, err := samplingFromFlags(cmd, backend.Sampling(cfg.Generation))
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	opts := backend.EngineOptions(cfg.Generation)
	opts = append(opts,
		generation.WithSampling(params),
		generation.WithEvents(bus),
		generation.WithLogger(slog.Default().With("provider", backend.Name)),
	)

	return &localEngine{
		engine:  generation.NewEngine(backend.Source, opts...),
		backend: backend,
		bus:     bus,
	}, nil
}

func samplingFromFlags(cmd *cli.Command, p generation.SamplingParameters) (generation.SamplingParameters, error) {
	if cmd.IsSet("model") {
		p.Model = cmd.String("model")
	}
	if cmd.IsSet("temperature") {
		p.Temperature = cmd.Float("temperature")
	}
	if cmd.IsSet("top-p") {
		p.TopP = cmd.Float("top-p")
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// seedArg joins the positional arguments into the seed text.
func seedArg(cmd *cli.Command, usage string) (string, error) {
	args := cmd.Args().Slice()
	if len(args) == 0 {
		return "", fmt.Errorf("usage: decoded %s", usage)
	}
	seed := args[0]
	for _, a := range args[1:] {
		seed += " " + a
	}
	return seed, nil
}
