// Package assetos is the runtime for a field-deployed asset (a drone,
// sensor rig, or similar device) that must stay coordinated with a remote
// command service over unreliable links. The runtime is organized as
// independently started and stopped modules wired together by a synchronous
// publish/subscribe bus and loaded in dependency order.
//
// A module encapsulates one concern (communications, operations, storage)
// and implements the Module interface. Modules are registered in a static
// Registry, resolved into a dependency-ordered load sequence, and driven by
// the Loader through start, stop, and aggregated health checks.
//
// Basic usage:
//
//	reg := assetos.NewRegistry()
//	reg.Register(comms.ModuleName, func(bus *assetos.Bus, cfg *assetos.Config, logger assetos.Logger) (assetos.Module, error) {
//		return comms.New(bus, cfg, logger)
//	})
//	rt := assetos.NewRuntime(cfg, reg, logger)
//	if err := rt.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
package assetos

import (
	"context"
	"fmt"
	"time"
)

// Bus topics owned by the runtime itself.
const (
	// TopicBootComplete is published once all modules have started.
	TopicBootComplete = "os.boot_complete"

	// TopicShutdown is published when the runtime begins shutting down,
	// before any module is stopped.
	TopicShutdown = "os.shutdown"

	// TopicSystemCheckRequest triggers an aggregated health check across
	// all running modules.
	TopicSystemCheckRequest = "module_loader.system_check.request"

	// TopicSystemCheckResponse carries the aggregated health check result.
	TopicSystemCheckResponse = "system.check.response"
)

// Runtime ties the bus and the module loader together and drives the boot
// and shutdown sequence.
type Runtime struct {
	bus    *Bus
	cfg    *Config
	loader *Loader
	logger Logger
}

// NewRuntime creates a runtime for the given configuration and module
// registry. The bus is created here so that callers can install a recorder
// through options before any module subscribes.
func NewRuntime(cfg *Config, registry *Registry, logger Logger, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		bus:    NewBus(logger),
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.loader = NewLoader(rt.bus, cfg, registry, logger)
	return rt
}

// RuntimeOption customizes runtime construction.
type RuntimeOption func(*Runtime)

// WithBusRecorder installs a recorder that observes every bus publish.
func WithBusRecorder(rec Recorder) RuntimeOption {
	return func(rt *Runtime) {
		rt.bus.SetRecorder(rec)
	}
}

// Bus returns the runtime's message bus.
func (rt *Runtime) Bus() *Bus {
	return rt.bus
}

// Loader returns the runtime's module loader.
func (rt *Runtime) Loader() *Loader {
	return rt.loader
}

// Boot resolves, loads, and starts all enabled modules, then publishes
// os.boot_complete. Dependency and start failures abort the boot; modules
// already started are left running (no rollback).
func (rt *Runtime) Boot(ctx context.Context) error {
	if _, err := rt.loader.ResolveDependencies(); err != nil {
		return fmt.Errorf("module dependency error: %w", err)
	}
	if err := rt.loader.Load(); err != nil {
		return fmt.Errorf("module load error: %w", err)
	}
	if err := rt.loader.Start(ctx); err != nil {
		return fmt.Errorf("module start error: %w", err)
	}
	rt.bus.Publish(TopicBootComplete, map[string]any{"ts": time.Now().Unix()})
	rt.logger.Info("Boot sequence complete")
	return nil
}

// Shutdown publishes os.shutdown, stops all modules in reverse load order,
// and shuts the bus down. Stop errors are logged by the loader and do not
// interrupt the sequence.
func (rt *Runtime) Shutdown(ctx context.Context) {
	rt.logger.Info("Shutting down")
	rt.bus.Publish(TopicShutdown, map[string]any{"ts": time.Now().Unix()})
	rt.loader.Stop(ctx)
	rt.bus.Shutdown()
}

// Run boots the runtime and blocks until the context is cancelled, then
// performs a graceful shutdown.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.Boot(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rt.Shutdown(shutdownCtx)
	return nil
}
