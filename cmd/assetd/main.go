// Command assetd runs the asset runtime: it loads the configuration
// file, assembles the module registry, and drives the boot, run, and
// shutdown sequence until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/atlascmd/assetos"
	"github.com/atlascmd/assetos/modules/comms"
	"github.com/atlascmd/assetos/modules/datastore"
	"github.com/atlascmd/assetos/modules/operations"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the runtime configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if err := run(*configPath, *debug); err != nil {
		fmt.Fprintln(os.Stderr, "assetd:", err)
		os.Exit(1)
	}
}

func run(configPath string, debug bool) error {
	logger, flush, err := newLogger(debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer flush()

	cfg, err := assetos.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	logger.Info("Configuration loaded", "path", configPath, "asset_id", cfg.Atlas.Asset.ID)

	registry := assetos.NewRegistry()
	for name, ctor := range map[string]assetos.Constructor{
		comms.ModuleName:      comms.New,
		operations.ModuleName: operations.New,
		datastore.ModuleName:  datastore.New,
	} {
		if err := registry.Register(name, ctor); err != nil {
			return fmt.Errorf("register module %s: %w", name, err)
		}
	}

	var opts []assetos.RuntimeOption
	if cfg.EventLog.Enabled && cfg.EventLog.Path != "" {
		recorder, err := assetos.NewFileRecorder(cfg.EventLog.Path, logger)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer recorder.Close()
		opts = append(opts, assetos.WithBusRecorder(recorder))
	}

	rt := assetos.NewRuntime(cfg, registry, logger, opts...)

	if cfg.Checks.Schedule != "" {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(cfg.Checks.Schedule, func() {
			rt.Bus().Publish(assetos.TopicSystemCheckRequest, map[string]any{
				"request_id": "check-" + uuid.NewString(),
			})
		})
		if err != nil {
			return fmt.Errorf("invalid checks.schedule %q: %w", cfg.Checks.Schedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Info("Scheduled system checks", "schedule", cfg.Checks.Schedule)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rt.Run(ctx)
}
