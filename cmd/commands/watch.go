package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/coder/websocket"
	"github.com/urfave/cli/v3"

	wsclient "github.com/dohr-michael/decoded/clients/ws"
	"github.com/dohr-michael/decoded/internal/events"
	wsprotocol "github.com/dohr-michael/decoded/internal/gateway/ws"
)

const defaultGatewayWS = "ws://127.0.0.1:18421/api/ws"

// NewWatchCommand returns the watch subcommand.
func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print live generation events from a running gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway WebSocket URL",
				Value: defaultGatewayWS,
			},
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Only show events for this session",
			},
		},
		Action: runWatch,
	}
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	client, err := wsclient.Dial(ctx, cmd.String("gateway"))
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	if id := cmd.String("session"); id != "" {
		if err := client.Subscribe(id); err != nil {
			return err
		}
	}

	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		switch frame.Type {
		case wsprotocol.FrameTypeEvent:
			fmt.Println(formatEventFrame(frame))
		case wsprotocol.FrameTypeResponse:
			if frame.OK != nil && !*frame.OK {
				fmt.Println(errorStyle.Render("error: " + frame.Error))
			}
		}
	}
}

// formatEventFrame renders one event as a single terminal line.
func formatEventFrame(f wsprotocol.Frame) string {
	prefix := hintStyle.Render(fmt.Sprintf("%-12s %-22s", f.SessionID, f.Event))

	e := events.Event{Type: events.EventType(f.Event), SessionID: f.SessionID}
	if err := json.Unmarshal(f.Payload, &e.Payload); err != nil {
		return prefix + " " + string(f.Payload)
	}

	if p, ok := events.GetTokenPayload(e); ok {
		return prefix + " " + tokenStyle.Render(quoteToken(p.Token))
	}
	if p, ok := events.GetCandidatesPayload(e); ok {
		parts := make([]string, 0, len(p.Candidates))
		for _, c := range p.Candidates {
			parts = append(parts, fmt.Sprintf("%s %.1f%%", quoteToken(c.Token), c.Probability*100))
		}
		return prefix + " " + strings.Join(parts, "  ")
	}
	if p, ok := events.GetModePayload(e); ok {
		if p.Previous == "" {
			return prefix + " " + p.Mode
		}
		return prefix + " " + p.Previous + " -> " + p.Mode
	}
	if p, ok := events.GetDonePayload(e); ok {
		return prefix + " " + fmt.Sprintf("%s after %d steps", p.Reason, p.Steps)
	}
	if p, ok := events.GetGenerationErrorPayload(e); ok {
		msg := p.Error
		if p.Kind != "" {
			msg = "[" + p.Kind + "] " + msg
		}
		return prefix + " " + errorStyle.Render(msg)
	}
	return prefix + " " + string(f.Payload)
}
