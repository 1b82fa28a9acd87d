package main

import (
	"log"
	"os"

	"github.com/stratus-tools/paceline/internal/api"
	"github.com/stratus-tools/paceline/internal/config"
	"github.com/stratus-tools/paceline/internal/engine"
	"github.com/stratus-tools/paceline/internal/profile"
	"github.com/stratus-tools/paceline/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("paceline: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"ci_mode", cfg.CIMode,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	profiler := profile.NewProfiler(db, logger)

	// Without a sampler the engine runs at a fixed concurrency limit.
	var sampler profile.Sampler
	if ps, err := profile.NewProcSampler(); err != nil {
		logger.Warn("resource sampling unavailable, adaptive throttling disabled", "error", err)
	} else {
		sampler = ps
	}

	eng := engine.NewEngine(db, profiler, sampler, logger)
	eng.SetGrace(cfg.Grace)
	eng.SetPollInterval(cfg.PollInterval)

	srv := api.NewServer(cfg.ListenAddr, db, eng, profiler, cfg.CIMode, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
