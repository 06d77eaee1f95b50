package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pilotdeck/internal/console"
)

func watchCmd() *cobra.Command {
	var interval time.Duration
	var once bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep a live dashboard of modes, pending items and actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := newClient()
			modules, err := client.Modules(ctx)
			if err != nil {
				return err
			}
			c := newConsole(client, console.Options{SyncInterval: interval, Modules: modules})
			h := c.Sync.Start(ctx)
			defer h.Dispose()

			render := func() error {
				v := console.Dashboard(c.Snapshot())
				if viper.GetBool("json") {
					return printJSON(v)
				}
				renderDashboard(os.Stdout, v)
				return nil
			}
			if err := render(); err != nil || once {
				return err
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := render(); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", console.DefaultSyncInterval, "refresh interval")
	cmd.Flags().BoolVar(&once, "once", false, "render a single frame and exit")
	return cmd
}

func renderDashboard(w io.Writer, v console.DashboardView) {
	fmt.Fprintf(w, "\n%s\n", time.Now().Format(time.TimeOnly))
	switch v.State {
	case console.ViewLoading:
		fmt.Fprintln(w, "Loading...")
		return
	case console.ViewEmpty:
		fmt.Fprintln(w, "All caught up. Nothing awaiting review.")
	}

	tiles := table.NewWriter()
	tiles.SetOutputMirror(w)
	tiles.AppendHeader(table.Row{"Module", "Mode", "Pending", "Confirming"})
	for _, t := range v.Tiles {
		tiles.AppendRow(table.Row{t.Name, t.Mode, t.Pending, string(t.Confirming)})
	}
	tiles.AppendFooter(table.Row{"Total", "", v.TotalPending, ""})
	tiles.Render()

	fmt.Fprintf(w, "Actions today: %d  completed: %d  failed: %d  success rate: %d%%\n",
		v.Stats.Today, v.Stats.Completed, v.Stats.Failed, v.Stats.SuccessRate)

	if len(v.Feed) == 0 {
		return
	}
	feed := table.NewWriter()
	feed.SetOutputMirror(w)
	feed.AppendHeader(table.Row{"At", "Kind", "Module", "Status", "Text"})
	for _, e := range v.Feed {
		feed.AppendRow(table.Row{e.At, e.Kind, e.ModuleID, e.Status, e.Text})
	}
	feed.Render()
}
