package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nn-dashboard/trainwatch/internal/exitcode"
)

func Execute(build BuildInfo, streams IOStreams) int {
	app := &AppContext{Build: build, IO: streams}
	root := newRootCommand(app)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(streams.ErrOut, "ERROR:", err)
		return mapExitCode(err)
	}
	return exitcode.Success
}

func newRootCommand(app *AppContext) *cobra.Command {
	root := &cobra.Command{
		Use:   "trainwatch",
		Short: "Follow neural network training runs from the terminal",
		Long: "trainwatch subscribes to a training dashboard's event stream and shows epochs, losses " +
			"and progress as they arrive, reconnecting when the stream drops.",
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	root.SetIn(app.IO.In)
	root.SetOut(app.IO.Out)
	root.SetErr(app.IO.ErrOut)

	root.PersistentFlags().StringVarP(&app.Opts.ConfigPath, "config", "c", os.Getenv("TRAINWATCH_CONFIG"), "Path to config file")
	root.PersistentFlags().StringVar(&app.Opts.BaseURL, "url", "", "Base URL of the training dashboard")
	root.PersistentFlags().StringVar(&app.Opts.Transport, "transport", "", "Stream transport: sse or ws")
	root.PersistentFlags().StringVar(&app.Opts.Token, "token", os.Getenv("TRAINWATCH_TOKEN"), "Auth token (if the server requires it)")
	root.PersistentFlags().BoolVarP(&app.Opts.Verbose, "verbose", "v", false, "Print monitor diagnostics to stderr")
	root.PersistentFlags().StringVar(&app.Opts.MetricsAddr, "metrics-addr", "", "Expose monitor metrics on this address, e.g. :9464")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withExitCode(exitcode.InvalidUsage, err)
	})

	root.AddCommand(newWatchCommand(app))
	root.AddCommand(newTailCommand(app))
	root.AddCommand(newServeCommand(app))
	root.AddCommand(newVersionCommand(app))

	return root
}

func printVersion(app *AppContext) {
	version := app.Build.Version
	if version == "" {
		version = "dev"
	}
	commit := app.Build.Commit
	if commit == "" {
		commit = "unknown"
	}
	date := app.Build.Date
	if date == "" {
		date = "unknown"
	}

	fmt.Fprintf(app.IO.Out, "trainwatch version %s\ncommit: %s\nbuild_date: %s\n", version, commit, date)
}
