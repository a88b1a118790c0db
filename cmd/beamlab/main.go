package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/seantiz/beamlab/internal/api"
	"github.com/seantiz/beamlab/internal/backend"
	"github.com/seantiz/beamlab/internal/backend/local"
	"github.com/seantiz/beamlab/internal/backend/remote"
	"github.com/seantiz/beamlab/internal/config"
	"github.com/seantiz/beamlab/internal/engine"
	"github.com/seantiz/beamlab/internal/kernel"
	"github.com/seantiz/beamlab/internal/kernel/subprocess"
	"github.com/seantiz/beamlab/internal/model"
	"github.com/seantiz/beamlab/internal/store"
)

func main() {
	flagSet := pflag.NewFlagSet("beamlab", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", os.Getenv("BEAMLAB_CONFIG"), "path to a TOML config file")
	listenAddr := flagSet.String("listen-addr", "", "HTTP listen address (overrides config)")
	dbPath := flagSet.String("db-path", "", "SQLite database path (overrides config)")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: beamlab [flags]\n\nRuns the structural analysis API server.\n\nFlags:\n")
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
	if flagSet.Changed("listen-addr") {
		cfg.ListenAddr = *listenAddr
	}
	if flagSet.Changed("db-path") {
		cfg.DBPath = *dbPath
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("beamlab: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"api_base_url", cfg.APIBaseURL,
		"node_threshold", cfg.NodeThreshold,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	var factory kernel.Factory = kernel.Null()
	if cfg.SolverCommand != "" {
		factory = subprocess.NewFactory(subprocess.ParseCommand(cfg.SolverCommand), logger)
	} else {
		logger.Warn("beamlab: no solver command configured, local runs use the null kernel")
	}

	rc := remote.NewClient(remote.Options{
		BaseURL:      cfg.APIBaseURL,
		PollInterval: cfg.PollInterval,
		MaxPollTime:  cfg.MaxPollTime,
	}, logger)

	reg := backend.NewRegistry()
	reg.Register(model.VenueLocal, local.NewExecutor(factory, logger))
	reg.Register(model.VenueRemote, rc)

	orch := engine.NewOrchestrator(db, reg, rc, logger, engine.Options{
		NodeThreshold: cfg.NodeThreshold,
	})
	limiter := rate.NewLimiter(rate.Limit(cfg.SubmitRate), cfg.SubmitBurst)

	srv := api.NewServer(cfg.ListenAddr, db, reg, orch, limiter, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
