package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nn-dashboard/trainwatch/internal/client"
	"github.com/nn-dashboard/trainwatch/internal/config"
	"github.com/nn-dashboard/trainwatch/internal/exitcode"
	"github.com/nn-dashboard/trainwatch/internal/stream"
)

// runOptions picks the training to follow: an explicit id, or a new run
// started through the REST API.
type runOptions struct {
	start    bool
	model    string
	epochs   int
	scenario string
}

func (o *runOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.start, "start", false, "Start a new training run and follow it")
	cmd.Flags().StringVar(&o.model, "model", "", "Model name for --start")
	cmd.Flags().IntVar(&o.epochs, "epochs", 0, "Epoch count for --start (server default if 0)")
	cmd.Flags().StringVar(&o.scenario, "scenario", "", "Mock server scenario for --start")
}

func (o *runOptions) trainingID(ctx context.Context, cfg *config.Config, args []string) (string, error) {
	if len(args) == 1 {
		if o.start {
			return "", withExitCode(exitcode.InvalidUsage, errors.New("--start cannot be combined with a training id"))
		}
		return args[0], nil
	}
	if !o.start {
		return "", withExitCode(exitcode.InvalidUsage, errors.New("a training id or --start is required"))
	}

	c := client.NewHTTPClient(cfg.Monitor.BaseURL, cfg.Monitor.Token)
	t, err := c.StartTraining(ctx, client.TrainingRequest{
		ModelName: o.model,
		Epochs:    o.epochs,
		Scenario:  o.scenario,
	})
	if err != nil {
		return "", fmt.Errorf("start training: %w", err)
	}
	log.Printf("started training %s: model=%s epochs=%d", t.ID, t.ModelName, t.TotalEpochs)
	return t.ID, nil
}

func newTransport(m config.MonitorConfig) stream.Transport {
	if m.Transport == "ws" {
		return stream.NewWSTransport(m.Token)
	}
	return stream.NewSSETransport(m.Token)
}

// setupLogging sends diagnostics to w when verbose, and drops them otherwise.
func setupLogging(verbose bool, w io.Writer) {
	if verbose {
		log.SetOutput(w)
		return
	}
	log.SetOutput(io.Discard)
}

// serveMetrics exposes the monitor's Prometheus metrics on addr until ctx ends.
func serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %v", err)
		}
	}()
}
