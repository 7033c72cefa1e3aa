package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	tui "github.com/nn-dashboard/trainwatch/internal/app"
	"github.com/nn-dashboard/trainwatch/internal/monitor"
)

func newWatchCommand(app *AppContext) *cobra.Command {
	var run runOptions
	var logFile string

	cmd := &cobra.Command{
		Use:   "watch [training-id]",
		Short: "Follow a training run in a full-screen dashboard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Config()
			if err != nil {
				return err
			}

			// The alt screen owns the terminal, so diagnostics go to a file.
			setupLogging(false, nil)
			if logFile != "" {
				f, err := tea.LogToFile(logFile, "trainwatch")
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer f.Close()
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			serveMetrics(ctx, app.Opts.MetricsAddr)

			id, err := run.trainingID(ctx, cfg, args)
			if err != nil {
				return err
			}

			bridge := tui.NewBridge()
			opts := monitor.OptionsFromConfig(cfg.Monitor)
			opts.OnComplete = bridge.OnComplete
			opts.OnError = bridge.OnError
			mon := monitor.New(monitor.NewSession(id), newTransport(cfg.Monitor), bridge, opts)

			p := tea.NewProgram(
				tui.New(mon, id, cfg.Monitor.Transport),
				tea.WithAltScreen(),
				tea.WithContext(ctx),
			)
			bridge.Attach(p)

			_, err = p.Run()
			mon.Stop()
			if err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		},
	}

	run.bind(cmd)
	cmd.Flags().StringVar(&logFile, "log-file", "trainwatch.log", "Write diagnostics to this file (empty to discard)")
	return cmd
}
