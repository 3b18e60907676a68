package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/decoded/internal/events"
	"github.com/dohr-michael/decoded/internal/generation"
	"github.com/dohr-michael/decoded/internal/models"
)

const flushTimeout = 2 * time.Second

// NewCandidatesCommand returns the candidates subcommand.
func NewCandidatesCommand() *cli.Command {
	return &cli.Command{
		Name:      "candidates",
		Usage:     "Show the most likely next tokens for a prompt",
		ArgsUsage: "<prompt>",
		Flags:     providerFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			prompt, err := seedArg(cmd, "candidates <prompt>")
			if err != nil {
				return err
			}
			le, err := newLocalEngine(ctx, cmd)
			if err != nil {
				return err
			}
			defer le.Close()

			if err := le.engine.StartManual(ctx, prompt); err != nil {
				return models.HandleError(err)
			}
			snap := le.engine.Snapshot()
			if snap.Mode != generation.ModeManual {
				return nil // interrupted
			}
			renderCandidates(os.Stdout, snap.Candidates, terminalWidth())
			return nil
		},
	}
}

// NewStepCommand returns the interactive manual-mode subcommand.
func NewStepCommand() *cli.Command {
	return &cli.Command{
		Name:      "step",
		Usage:     "Build a text token by token, choosing among the candidates",
		ArgsUsage: "<seed>",
		Flags:     providerFlags(),
		Action:    runStep,
	}
}

func runStep(ctx context.Context, cmd *cli.Command) error {
	seed, err := seedArg(cmd, "step <seed>")
	if err != nil {
		return err
	}
	le, err := newLocalEngine(ctx, cmd)
	if err != nil {
		return err
	}
	defer le.Close()

	eng := le.engine
	width := terminalWidth()
	show := func(err error) {
		if err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render(models.HandleError(err).Error()))
		}
		snap := eng.Snapshot()
		fmt.Println()
		renderText(os.Stdout, snap)
		if snap.Mode == generation.ModeManual {
			renderCandidates(os.Stdout, snap.Candidates, width)
		}
		fmt.Println(hintStyle.Render(fmt.Sprintf("[%s, step %d/%d]  number: choose  c: continue  s: simulate  r: reset  q: quit",
			snap.Mode, snap.StepCount, snap.MaxSteps)))
	}

	show(eng.StartManual(ctx, seed))

	lines := readLines(os.Stdin)
	for {
		fmt.Print("> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "q", "quit":
			return nil
		case "r", "reset":
			eng.Reset()
			show(eng.Continue(ctx))
		case "c", "continue":
			show(eng.Continue(ctx))
		case "s", "simulate":
			show(simulateLive(ctx, le))
		default:
			idx, convErr := strconv.Atoi(input)
			if convErr != nil {
				fmt.Println(hintStyle.Render("unknown input: " + input))
				continue
			}
			show(eng.Choose(ctx, idx))
		}
	}
}

// readLines feeds r line by line so the prompt loop can also watch ctx.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

// NewSimulateCommand returns the auto-simulate subcommand.
func NewSimulateCommand() *cli.Command {
	return &cli.Command{
		Name:      "simulate",
		Usage:     "Always accept the top candidate until the step budget is reached",
		ArgsUsage: "<seed>",
		Flags:     providerFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			seed, err := seedArg(cmd, "simulate <seed>")
			if err != nil {
				return err
			}
			le, err := newLocalEngine(ctx, cmd)
			if err != nil {
				return err
			}
			defer le.Close()

			if err := le.engine.SetSeed(seed); err != nil {
				return err
			}
			fmt.Print(seedStyle.Render(seed))
			err = simulateLive(ctx, le)
			fmt.Println()

			snap := le.engine.Snapshot()
			fmt.Println(hintStyle.Render(fmt.Sprintf("[%s, %d tokens]", snap.Mode, snap.StepCount)))
			return models.HandleError(err)
		},
	}
}

// simulateLive runs Simulate, printing tokens as they are accepted.
func simulateLive(ctx context.Context, le *localEngine) error {
	defer printTokens(os.Stdout, le.bus)()
	return le.engine.Simulate(ctx)
}

// printTokens echoes accepted tokens to w until the returned func is called.
// The stop func drains the bus first so the last tokens are not lost.
func printTokens(w io.Writer, bus *events.Bus) func() {
	unsubscribe := bus.Subscribe(func(e events.Event) {
		if p, ok := events.GetTokenPayload(e); ok {
			fmt.Fprint(w, tokenStyle.Render(p.Token))
		}
	}, events.EventGenerationToken)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := bus.Flush(ctx); err != nil {
			slog.Debug("flush token printer", "error", err)
		}
		unsubscribe()
	}
}

// NewStreamCommand returns the streaming subcommand.
func NewStreamCommand() *cli.Command {
	flags := append(providerFlags(), &cli.IntFlag{
		Name:  "max-tokens",
		Usage: "Maximum tokens to stream (0 = config default)",
	})
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream a completion with live next-token candidates",
		ArgsUsage: "<seed>",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			seed, err := seedArg(cmd, "stream <seed>")
			if err != nil {
				return err
			}
			le, err := newLocalEngine(ctx, cmd)
			if err != nil {
				return err
			}
			defer le.Close()

			stop := printTokens(os.Stdout, le.bus)

			fmt.Print(seedStyle.Render(seed))
			err = le.engine.Stream(ctx, seed, int(cmd.Int("max-tokens")))
			stop()
			fmt.Println()
			if errors.Is(err, generation.ErrStreamingUnsupported) {
				return fmt.Errorf("provider %q cannot stream: %w", le.backend.Name, err)
			}
			if err != nil {
				return models.HandleError(err)
			}

			snap := le.engine.Snapshot()
			if len(snap.Candidates) > 0 {
				fmt.Println(hintStyle.Render("last token alternatives:"))
				renderCandidates(os.Stdout, snap.Candidates, terminalWidth())
			}
			return nil
		},
	}
}
