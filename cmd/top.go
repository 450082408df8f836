package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
	"golang.org/x/sync/errgroup"
)

var errNotHosted = errors.New("not hosted")

type userRow struct {
	UserID string
	Snap   coalescer.MetricsSnapshot
	Err    error
}

func topCmd() *cli.Command {
	return &cli.Command{
		Name:  "top",
		Usage: "Live per-user engine metrics from a running node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "http://localhost:8080", Usage: "Node HTTP base URL"},
			&cli.StringSliceFlag{Name: "user", Aliases: []string{"u"}, Usage: "User id to watch (repeatable)", Required: true},
			&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "Refresh interval"},
		},
		Action: func(c *cli.Context) error {
			return runTop(c.Context, c.String("addr"), c.StringSlice("user"), c.Duration("interval"))
		},
	}
}

// fetchSnapshots polls every user's metrics concurrently. Per-user failures are
// reported in the row; only a cancelled ctx fails the whole poll.
func fetchSnapshots(ctx context.Context, client *http.Client, base string, users []string) ([]userRow, error) {
	rows := make([]userRow, len(users))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for i, id := range users {
		g.Go(func() error {
			rows[i] = userRow{UserID: id}
			rows[i].Snap, rows[i].Err = fetchSnapshot(ctx, client, base, id)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func fetchSnapshot(ctx context.Context, client *http.Client, base, userID string) (coalescer.MetricsSnapshot, error) {
	var snap coalescer.MetricsSnapshot

	url := strings.TrimRight(base, "/") + "/v1/users/" + userID + "/metrics"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return snap, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return snap, errNotHosted
	default:
		return snap, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&snap)
	return snap, err
}

var topHeader = []string{"user", "events", "dup%", "buffered", "immediate", "late", "coalesced", "stale", "flushes", "pending", "p95 ms", "delay ms"}

func tableRows(rows []userRow) [][]string {
	out := make([][]string, 0, len(rows)+1)
	out = append(out, topHeader)
	for _, r := range rows {
		if r.Err != nil {
			line := make([]string, len(topHeader))
			line[0], line[1] = r.UserID, r.Err.Error()
			out = append(out, line)
			continue
		}
		s := r.Snap
		out = append(out, []string{
			r.UserID,
			fmt.Sprint(s.TotalEvents),
			fmt.Sprintf("%.1f", s.DuplicateRate*100),
			fmt.Sprint(s.Buffered),
			fmt.Sprint(s.Immediate),
			fmt.Sprint(s.LateDeliveries),
			fmt.Sprint(s.Coalesced),
			fmt.Sprint(s.StaleIgnored),
			fmt.Sprint(s.Flushes),
			fmt.Sprint(s.PendingEvents),
			fmt.Sprint(s.DispatchLatency.P95.Milliseconds()),
			fmt.Sprint(s.CurrentDelayMs),
		})
	}
	return out
}

func runTop(ctx context.Context, base string, users []string, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("termui: %w", err)
	}
	defer ui.Close()

	client := &http.Client{Timeout: interval}

	table := widgets.NewTable()
	table.Title = " " + ServiceName + " @ " + base + "  (q to quit) "
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowSeparator = false
	table.FillRow = true
	table.RowStyles[0] = ui.NewStyle(ui.ColorYellow, ui.ColorClear, ui.ModifierBold)

	draw := func() {
		pollCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		rows, err := fetchSnapshots(pollCtx, client, base, users)
		if err != nil {
			table.Rows = [][]string{{"poll failed: " + err.Error()}}
		} else {
			table.Rows = tableRows(rows)
		}
		w, h := ui.TerminalDimensions()
		table.SetRect(0, 0, w, min(h, len(table.Rows)+3))
		ui.Render(table)
	}
	draw()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	events := ui.PollEvents()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch {
			case e.ID == "q" || e.ID == "<C-c>":
				return nil
			case e.Type == ui.ResizeEvent:
				draw()
			}
		case <-ticker.C:
			draw()
		}
	}
}
