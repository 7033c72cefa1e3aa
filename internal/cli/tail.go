package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/nn-dashboard/trainwatch/internal/exitcode"
	"github.com/nn-dashboard/trainwatch/internal/lineout"
	"github.com/nn-dashboard/trainwatch/internal/monitor"
)

func newTailCommand(app *AppContext) *cobra.Command {
	var run runOptions
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "tail [training-id]",
		Short: "Print a training run's log and progress as lines",
		Long: "tail follows a training run like watch but writes plain lines, or NDJSON with --json, " +
			"and exits when the run ends. The exit code reflects how the run finished.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Config()
			if err != nil {
				return err
			}
			setupLogging(app.Opts.Verbose, app.IO.ErrOut)

			ctx, stop := signal.NotifyContext(cmd.Context(), interruptSignals()...)
			defer stop()
			serveMetrics(ctx, app.Opts.MetricsAddr)

			id, err := run.trainingID(ctx, cfg, args)
			if err != nil {
				return err
			}

			printer := lineout.New(app.IO.Out, jsonOut)
			opts := monitor.OptionsFromConfig(cfg.Monitor)
			mon := monitor.New(monitor.NewSession(id), newTransport(cfg.Monitor), printer, opts)
			mon.Start()
			defer mon.Stop()

			var state monitor.State
			select {
			case <-ctx.Done():
				return withExitCode(exitcode.Interrupted, errors.New("interrupted"))
			case state = <-printer.Done():
			}

			switch state {
			case monitor.Completed:
				// let trailing summary lines through before tearing down
				select {
				case <-time.After(opts.CompletionGrace):
				case <-ctx.Done():
				}
				return nil
			case monitor.Failed:
				return withExitCode(exitcode.TrainingFailed, fmt.Errorf("training %s failed", id))
			default:
				return withExitCode(exitcode.TrainingStopped, fmt.Errorf("stream for training %s closed before it completed", id))
			}
		},
	}

	run.bind(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit newline-delimited JSON records")
	return cmd
}
