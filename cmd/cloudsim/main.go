// cloudsim serves the remote solver job protocol in-process for local
// development and end-to-end testing.
// Usage: go run ./cmd/cloudsim
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/seantiz/beamlab/internal/cloudsim"
	"github.com/seantiz/beamlab/internal/config"
	"github.com/seantiz/beamlab/internal/kernel"
	"github.com/seantiz/beamlab/internal/kernel/subprocess"
)

func main() {
	flagSet := pflag.NewFlagSet("cloudsim", pflag.ContinueOnError)
	addr := flagSet.String("listen-addr", envOr("CLOUDSIM_LISTEN_ADDR", ":8081"), "HTTP listen address")
	step := flagSet.Duration("step-delay", cloudsim.DefaultStepDelay, "time a job spends in each stage")
	retention := flagSet.Duration("retention", cloudsim.DefaultRetention, "how long finished jobs stay queryable")
	configPath := flagSet.StringP("config", "c", os.Getenv("BEAMLAB_CONFIG"), "path to a TOML config file (for the solver command)")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cloudsim [flags]\n\nServes the remote solver job protocol in-process.\n\nFlags:\n")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(2)
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	var factory kernel.Factory = kernel.Null()
	if cfg.SolverCommand != "" {
		factory = subprocess.NewFactory(subprocess.ParseCommand(cfg.SolverCommand), logger)
	}

	sim := cloudsim.New(cloudsim.Options{StepDelay: *step, Retention: *retention, Factory: factory}, logger)
	defer sim.Close()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           sim.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("cloudsim: listening", "addr", *addr, "step_delay", step.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("cloudsim: shutdown", "error", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
