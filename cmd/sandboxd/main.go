// Package main provides the entry point for the sandbox analysis daemon.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/XanakoneSPT/PBL6-SandBox/internal/analyze"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/config"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/control"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/guest"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/logging"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/sandbox"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/server"
	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (YAML)")
	httpAddr := flag.String("http-addr", "", "HTTP server address (overrides config)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logging.Init(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Sync()

	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}

	logging.Info("Starting sandbox analysis daemon...",
		logging.String("http_addr", cfg.Server.HTTPAddr),
		logging.String("vmx", cfg.VM.VMXPath),
	)

	for _, dir := range []string{cfg.Server.UploadDir, cfg.Analysis.ResultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.Fatal("Failed to create working directory", logging.Err(err))
		}
	}

	invoker := control.NewVMRun(&control.Config{
		VMRunPath:      cfg.VM.VMRunPath,
		HostType:       cfg.VM.HostType,
		GuestUser:      cfg.VM.GuestUser,
		GuestPass:      cfg.VM.GuestPass,
		DefaultTimeout: cfg.VM.GetDefaultTimeout(),
	})
	if !invoker.Available() {
		logging.Fatal("VM control utility not found",
			logging.String("vmrun_path", cfg.VM.VMRunPath))
	}

	manager := sandbox.NewManager(invoker, &guest.Config{
		VMXPath:        cfg.VM.VMXPath,
		CleanSnapshot:  cfg.VM.CleanSnapshot,
		WorkspaceRoot:  types.GuestPath(cfg.VM.WorkspaceRoot),
		DefaultTimeout: cfg.VM.GetDefaultTimeout(),
	})

	store := analyze.NewStore()
	service := analyze.NewService(manager, store, &analyze.Config{
		ResultsDir: cfg.Analysis.ResultsDir,
	})

	srv := server.New(&cfg.Server, service, store, manager)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logging.Fatal("Server failed", logging.Err(err))
	}
	logging.Info("Sandbox analysis daemon stopped")
}
