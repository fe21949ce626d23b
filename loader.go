package assetos

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Loader resolves, instantiates, starts, and stops modules, and runs
// aggregated health checks with a deadline.
//
// The flow per boot is: ResolveDependencies, Load, Start. Stop reverses
// the load order. Each step is fatal on failure except Stop, which logs
// per-module errors and continues.
type Loader struct {
	bus      *Bus
	cfg      *Config
	registry *Registry
	logger   Logger

	instances map[string]Module
	loadOrder []string

	checkSub *Subscription
}

// NewLoader creates a loader over the given registry.
func NewLoader(bus *Bus, cfg *Config, registry *Registry, logger Logger) *Loader {
	return &Loader{
		bus:       bus,
		cfg:       cfg,
		registry:  registry,
		logger:    logger,
		instances: make(map[string]Module),
	}
}

// enabledModules returns the registered modules enabled by configuration.
func (l *Loader) enabledModules() map[string]Constructor {
	enabled := make(map[string]Constructor)
	for _, name := range l.registry.Names() {
		if !l.cfg.ModuleEnabled(name) {
			l.logger.Info("Module disabled in config", "module", name)
			continue
		}
		ctor, _ := l.registry.Constructor(name)
		enabled[name] = ctor
	}
	return enabled
}

// ResolveDependencies computes the load order over enabled modules using
// Kahn's algorithm, with ties broken alphabetically for determinism.
//
// It fails if an enabled module depends on a name that is absent entirely
// or present but disabled, and reports the exact set of modules left
// unordered when a cycle exists.
func (l *Loader) ResolveDependencies() ([]string, error) {
	enabled := l.enabledModules()

	// Dependencies come from throwaway instances: the contract exposes
	// them as a method, so we need an instance to read them. Instances
	// built here are discarded; Load builds the real ones in order.
	deps := make(map[string][]string, len(enabled))
	for name, ctor := range enabled {
		inst, err := ctor(l.bus, l.cfg, l.logger)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrModuleLoadFailed, name, err)
		}
		deps[name] = inst.Dependencies()
	}

	for name, moduleDeps := range deps {
		for _, dep := range moduleDeps {
			if _, ok := enabled[dep]; ok {
				continue
			}
			if _, registered := l.registry.Constructor(dep); registered {
				return nil, fmt.Errorf("%w: module %q depends on %q which is disabled",
					ErrModuleDependencyDisabled, name, dep)
			}
			return nil, fmt.Errorf("%w: module %q depends on %q which is not found",
				ErrModuleDependencyMissing, name, dep)
		}
	}

	inDegree := make(map[string]int, len(enabled))
	for name := range enabled {
		inDegree[name] = 0
	}
	for name, moduleDeps := range deps {
		for _, dep := range moduleDeps {
			if _, ok := inDegree[dep]; ok {
				inDegree[name]++
			}
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}

	var order []string
	for len(queue) > 0 {
		sort.Strings(queue)
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for name, moduleDeps := range deps {
			for _, dep := range moduleDeps {
				if dep != current {
					continue
				}
				inDegree[name]--
				if inDegree[name] == 0 {
					queue = append(queue, name)
				}
			}
		}
	}

	if len(order) != len(enabled) {
		var remaining []string
		ordered := make(map[string]bool, len(order))
		for _, name := range order {
			ordered[name] = true
		}
		for name := range enabled {
			if !ordered[name] {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, fmt.Errorf("%w among: %s", ErrCircularDependency, strings.Join(remaining, ", "))
	}

	l.loadOrder = order
	l.logger.Info("Module load order", "order", strings.Join(order, " -> "))
	return order, nil
}

// LoadOrder returns the resolved load order.
func (l *Loader) LoadOrder() []string {
	return l.loadOrder
}

// Module returns a loaded module instance by name.
func (l *Loader) Module(name string) (Module, bool) {
	m, ok := l.instances[name]
	return m, ok
}

// Load instantiates each enabled module in load order. Instantiation
// failure aborts loading.
func (l *Loader) Load() error {
	if l.loadOrder == nil {
		return ErrModulesNotResolved
	}
	for _, name := range l.loadOrder {
		ctor, ok := l.registry.Constructor(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrModuleNotLoaded, name)
		}
		inst, err := ctor(l.bus, l.cfg, l.logger)
		if err != nil {
			return fmt.Errorf("%w %s: %w", ErrModuleLoadFailed, name, err)
		}
		l.instances[name] = inst
		l.logger.Info("Loaded module", "module", name, "version", inst.Version())
	}
	return nil
}

// Start invokes Start on each loaded module in load order. A failure is
// fatal to boot; modules already started are left running.
func (l *Loader) Start(ctx context.Context) error {
	for _, name := range l.loadOrder {
		inst := l.instances[name]
		if inst == nil {
			return fmt.Errorf("%w: %s", ErrModuleNotLoaded, name)
		}
		l.logger.Info("Starting module", "module", name)
		if err := inst.Start(ctx); err != nil {
			return fmt.Errorf("%w %s: %w", ErrModuleStartFailed, name, err)
		}
	}

	l.checkSub = l.bus.Subscribe(TopicSystemCheckRequest, func(data any) {
		requestID := ""
		if m, ok := data.(map[string]any); ok {
			requestID, _ = m["request_id"].(string)
		}
		report := l.SystemCheck(context.Background(), l.checkTimeout())
		report.RequestID = requestID
		l.bus.Publish(TopicSystemCheckResponse, report)
	})
	return nil
}

// Stop invokes Stop on each module in reverse load order. A failure in
// one module's Stop is logged and does not prevent stopping the rest.
func (l *Loader) Stop(ctx context.Context) {
	if l.checkSub != nil {
		l.bus.Unsubscribe(l.checkSub)
		l.checkSub = nil
	}
	for i := len(l.loadOrder) - 1; i >= 0; i-- {
		name := l.loadOrder[i]
		inst := l.instances[name]
		if inst == nil {
			continue
		}
		l.logger.Info("Stopping module", "module", name)
		if err := inst.Stop(ctx); err != nil {
			l.logger.Error("Error stopping module", "module", name, "error", err)
		}
	}
}

func (l *Loader) checkTimeout() time.Duration {
	if l.cfg.Checks.TimeoutSeconds > 0 {
		return time.Duration(l.cfg.Checks.TimeoutSeconds * float64(time.Second))
	}
	return 5 * time.Second
}

// SystemCheck runs every loaded module's health check concurrently under a
// single deadline. A module whose check does not return in time is
// reported unhealthy with status "timeout" rather than blocking the
// aggregate result.
func (l *Loader) SystemCheck(ctx context.Context, timeout time.Duration) SystemReport {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type checkResult struct {
		name   string
		report HealthReport
	}
	results := make(chan checkResult, len(l.loadOrder))

	for _, name := range l.loadOrder {
		inst := l.instances[name]
		if inst == nil {
			continue
		}
		go func(name string, inst Module) {
			results <- checkResult{name: name, report: inst.HealthCheck(ctx)}
		}(name, inst)
	}

	report := SystemReport{
		OverallHealthy: true,
		Modules:        make(map[string]HealthReport, len(l.loadOrder)),
	}
	pending := 0
	for _, name := range l.loadOrder {
		if l.instances[name] != nil {
			pending++
		}
	}

	for pending > 0 {
		select {
		case res := <-results:
			report.Modules[res.name] = res.report
			pending--
		case <-ctx.Done():
			// Anything still outstanding missed the deadline.
			for _, name := range l.loadOrder {
				if _, ok := report.Modules[name]; !ok && l.instances[name] != nil {
					report.Modules[name] = HealthReport{Healthy: false, Status: StatusTimeout}
				}
			}
			pending = 0
		}
	}

	for _, r := range report.Modules {
		if !r.Healthy {
			report.OverallHealthy = false
		}
	}
	report.Elapsed = time.Since(start)
	return report
}
