package assetos

import "context"

// Module represents an independently started and stopped component of the
// runtime. All modules must implement this interface to be managed by the
// Loader.
//
// A module owns its background worker: Start spawns it, Stop signals it to
// exit and joins it with a bounded wait. The bus is the only state shared
// between module workers.
type Module interface {
	// Name returns the unique identifier for this module. It is used for
	// dependency resolution, configuration lookup, and health reporting.
	//
	// Example: "comms", "operations", "data_store"
	Name() string

	// Version returns the module's semantic version string.
	Version() string

	// Dependencies returns names of other modules this module depends on.
	// Dependencies are started before this module and stopped after it.
	// A dependency that is absent, or present but disabled, fails the boot
	// before any module starts.
	Dependencies() []string

	// Start begins the module's runtime operations. It is called in load
	// order, after all of the module's dependencies have started. Start
	// should return quickly; long-running work belongs in a goroutine
	// spawned here that observes ctx for cancellation.
	//
	// A Start error is fatal to boot.
	Start(ctx context.Context) error

	// Stop performs graceful shutdown. It is called in reverse load order.
	// The context carries a shutdown deadline; Stop should signal the
	// module's worker and wait for it within that deadline rather than
	// forcibly preempting it.
	//
	// A Stop error is logged and does not prevent remaining modules from
	// stopping.
	Stop(ctx context.Context) error

	// HealthCheck reports the module's health. Implementations should
	// respect ctx cancellation; a check that outlives the aggregate
	// deadline is reported as unhealthy with status "timeout" by the
	// Loader rather than blocking the aggregate result.
	HealthCheck(ctx context.Context) HealthReport
}

// Constructor builds a module instance. Constructors receive the bus, the
// full runtime configuration, and the runtime logger, and are invoked by
// the Loader in dependency order.
type Constructor func(bus *Bus, cfg *Config, logger Logger) (Module, error)
