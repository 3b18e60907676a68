package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/decoded/internal/config"
	"github.com/dohr-michael/decoded/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show decoded gateway status",
		Action: func(ctx context.Context, _ *cli.Command) error {
			hbPath := filepath.Join(config.DecodedPath(), "heartbeat.json")
			status, hb, err := heartbeat.Check(hbPath, 4*heartbeat.DefaultInterval)
			if err != nil {
				return fmt.Errorf("check heartbeat: %w", err)
			}

			switch status {
			case heartbeat.StatusAlive:
				fmt.Printf("Gateway: ALIVE (PID %d, uptime %s, %s)\n", hb.PID, hb.Uptime, hb.Addr)
			case heartbeat.StatusStale:
				fmt.Printf("Gateway: STALE (PID %d, last heartbeat %s ago)\n",
					hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
				return nil
			case heartbeat.StatusDead:
				fmt.Println("Gateway: NOT RUNNING")
				return nil
			}

			health, err := fetchHealth(ctx, hb.Addr)
			if err != nil {
				fmt.Printf("Health:  unreachable (%v)\n", err)
				return nil
			}
			fmt.Printf("Health:  %s, %d sessions, %d ws clients\n", health.Status, health.Sessions, health.WSClients)
			if health.EventsDropped > 0 {
				fmt.Printf("Events:  %d dropped (bus buffer full)\n", health.EventsDropped)
			}
			return nil
		},
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	WSClients     int    `json:"ws_clients"`
	EventsDropped uint64 `json:"events_dropped"`
}

func fetchHealth(ctx context.Context, addr string) (*healthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/api/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, err
	}
	return &h, nil
}
