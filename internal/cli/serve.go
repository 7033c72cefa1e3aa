package cli

import (
	"fmt"
	"log"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/nn-dashboard/trainwatch/internal/config"
	"github.com/nn-dashboard/trainwatch/internal/exitcode"
	"github.com/nn-dashboard/trainwatch/internal/mockserver"
)

func newServeCommand(app *AppContext) *cobra.Command {
	var (
		host           string
		port           int
		scenario       string
		epochs         int
		tick           time.Duration
		heartbeatEvery int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mock training server",
		Long: "serve simulates training runs and streams them over the same SSE and WebSocket " +
			"contract the monitor consumes. POST /api/trainings starts a run.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Config()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.Server.Host = host
			}
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("scenario") {
				cfg.Mock.Scenario = scenario
			}
			if flags.Changed("epochs") {
				cfg.Mock.Epochs = epochs
			}
			if flags.Changed("tick") {
				cfg.Mock.Tick = tick
			}
			if flags.Changed("heartbeat-every") {
				cfg.Mock.HeartbeatEvery = heartbeatEvery
			}
			if err := cfg.Validate(); err != nil {
				return withExitCode(exitcode.InvalidConfig, err)
			}

			log.SetOutput(app.IO.ErrOut)
			ctx, stop := signal.NotifyContext(cmd.Context(), interruptSignals()...)
			defer stop()

			gen := mockserver.NewGenerator(cfg.Mock)
			gen.Start(ctx)
			srv := mockserver.NewServer(cfg, gen, cfg.Monitor.Token)

			fmt.Fprintf(app.IO.Out, "Mock training server on http://%s (scenario %s, %d epochs)\n",
				cfg.ListenAddr(), cfg.Mock.Scenario, cfg.Mock.Epochs)
			return srv.ListenAndServe(ctx)
		},
	}

	def := config.Default()
	cmd.Flags().StringVar(&host, "host", def.Server.Host, "Listen host")
	cmd.Flags().IntVar(&port, "port", def.Server.Port, "Listen port")
	cmd.Flags().StringVar(&scenario, "scenario", def.Mock.Scenario, "Default scenario: steady, flaky, error or drop")
	cmd.Flags().IntVar(&epochs, "epochs", def.Mock.Epochs, "Default epochs per run")
	cmd.Flags().DurationVar(&tick, "tick", def.Mock.Tick, "Time between simulated batches")
	cmd.Flags().IntVar(&heartbeatEvery, "heartbeat-every", def.Mock.HeartbeatEvery, "Ticks between heartbeats (0 disables)")
	return cmd
}
