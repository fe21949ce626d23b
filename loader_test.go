package assetos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModule is a configurable module for loader tests.
type fakeModule struct {
	name    string
	deps    []string
	started *[]string
	stopped *[]string

	startErr error
	checkFn  func(ctx context.Context) HealthReport
}

func (m *fakeModule) Name() string           { return m.name }
func (m *fakeModule) Version() string        { return "0.0.0" }
func (m *fakeModule) Dependencies() []string { return m.deps }

func (m *fakeModule) Start(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	if m.started != nil {
		*m.started = append(*m.started, m.name)
	}
	return nil
}

func (m *fakeModule) Stop(ctx context.Context) error {
	if m.stopped != nil {
		*m.stopped = append(*m.stopped, m.name)
	}
	return nil
}

func (m *fakeModule) HealthCheck(ctx context.Context) HealthReport {
	if m.checkFn != nil {
		return m.checkFn(ctx)
	}
	return HealthReport{Healthy: true, Status: StatusRunning}
}

func fakeConstructor(m *fakeModule) Constructor {
	return func(*Bus, *Config, Logger) (Module, error) { return m, nil }
}

func newTestLoader(t *testing.T, cfg *Config, modules ...*fakeModule) *Loader {
	t.Helper()
	registry := NewRegistry()
	for _, m := range modules {
		require.NoError(t, registry.Register(m.name, fakeConstructor(m)))
	}
	if cfg == nil {
		cfg = &Config{Modules: map[string]map[string]any{}}
	}
	return NewLoader(NewBus(NopLogger{}), cfg, registry, NopLogger{})
}

func TestLoaderResolvesDependencyOrder(t *testing.T) {
	loader := newTestLoader(t, nil,
		&fakeModule{name: "operations", deps: []string{"comms"}},
		&fakeModule{name: "comms"},
		&fakeModule{name: "data_store"},
	)

	order, err := loader.ResolveDependencies()
	require.NoError(t, err)

	// Independent modules come first, alphabetically; dependents follow.
	assert.Equal(t, []string{"comms", "data_store", "operations"}, order)
}

func TestLoaderBreaksTiesAlphabetically(t *testing.T) {
	loader := newTestLoader(t, nil,
		&fakeModule{name: "zeta"},
		&fakeModule{name: "alpha"},
		&fakeModule{name: "mid"},
	)

	order, err := loader.ResolveDependencies()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, order)
}

func TestLoaderMissingDependencyNamesBothModules(t *testing.T) {
	loader := newTestLoader(t, nil,
		&fakeModule{name: "operations", deps: []string{"comms"}},
	)

	_, err := loader.ResolveDependencies()
	require.ErrorIs(t, err, ErrModuleDependencyMissing)
	assert.Contains(t, err.Error(), "operations")
	assert.Contains(t, err.Error(), "comms")
}

func TestLoaderDisabledDependencyIsDistinctError(t *testing.T) {
	cfg := &Config{Modules: map[string]map[string]any{
		"comms": {"enabled": false},
	}}
	loader := newTestLoader(t, cfg,
		&fakeModule{name: "operations", deps: []string{"comms"}},
		&fakeModule{name: "comms"},
	)

	_, err := loader.ResolveDependencies()
	require.ErrorIs(t, err, ErrModuleDependencyDisabled)
	assert.Contains(t, err.Error(), "operations")
	assert.Contains(t, err.Error(), "comms")
}

func TestLoaderDetectsCycle(t *testing.T) {
	loader := newTestLoader(t, nil,
		&fakeModule{name: "a", deps: []string{"b"}},
		&fakeModule{name: "b", deps: []string{"a"}},
		&fakeModule{name: "standalone"},
	)

	_, err := loader.ResolveDependencies()
	require.ErrorIs(t, err, ErrCircularDependency)
	assert.Contains(t, err.Error(), "a, b")
	assert.NotContains(t, err.Error(), "standalone")
}

func TestLoaderDisabledModuleIsSkipped(t *testing.T) {
	cfg := &Config{Modules: map[string]map[string]any{
		"data_store": {"enabled": false},
	}}
	loader := newTestLoader(t, cfg,
		&fakeModule{name: "comms"},
		&fakeModule{name: "data_store"},
	)

	order, err := loader.ResolveDependencies()
	require.NoError(t, err)
	assert.Equal(t, []string{"comms"}, order)
}

func TestLoaderStartsInOrderAndStopsInReverse(t *testing.T) {
	var started, stopped []string
	loader := newTestLoader(t, nil,
		&fakeModule{name: "operations", deps: []string{"comms"}, started: &started, stopped: &stopped},
		&fakeModule{name: "comms", started: &started, stopped: &stopped},
	)

	_, err := loader.ResolveDependencies()
	require.NoError(t, err)
	require.NoError(t, loader.Load())
	require.NoError(t, loader.Start(context.Background()))
	loader.Stop(context.Background())

	assert.Equal(t, []string{"comms", "operations"}, started)
	assert.Equal(t, []string{"operations", "comms"}, stopped)
}

func TestLoaderStartFailureIsFatal(t *testing.T) {
	var started []string
	loader := newTestLoader(t, nil,
		&fakeModule{name: "broken", startErr: errors.New("no radio")},
		&fakeModule{name: "comms", started: &started},
	)

	_, err := loader.ResolveDependencies()
	require.NoError(t, err)
	require.NoError(t, loader.Load())

	err = loader.Start(context.Background())
	require.ErrorIs(t, err, ErrModuleStartFailed)
	assert.Contains(t, err.Error(), "broken")
}

func TestLoaderLoadRequiresResolve(t *testing.T) {
	loader := newTestLoader(t, nil, &fakeModule{name: "comms"})
	require.ErrorIs(t, loader.Load(), ErrModulesNotResolved)
}

func TestSystemCheckAggregatesHealth(t *testing.T) {
	loader := newTestLoader(t, nil,
		&fakeModule{name: "comms"},
		&fakeModule{name: "operations", deps: []string{"comms"}, checkFn: func(context.Context) HealthReport {
			return HealthReport{Healthy: false, Status: StatusStopped}
		}},
	)
	_, err := loader.ResolveDependencies()
	require.NoError(t, err)
	require.NoError(t, loader.Load())

	report := loader.SystemCheck(context.Background(), time.Second)

	assert.False(t, report.OverallHealthy)
	assert.True(t, report.Modules["comms"].Healthy)
	assert.False(t, report.Modules["operations"].Healthy)
}

func TestSystemCheckDeadlineMarksSlowModuleAsTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	loader := newTestLoader(t, nil,
		&fakeModule{name: "comms"},
		&fakeModule{name: "slow", checkFn: func(ctx context.Context) HealthReport {
			<-block
			return HealthReport{Healthy: true, Status: StatusRunning}
		}},
	)
	_, err := loader.ResolveDependencies()
	require.NoError(t, err)
	require.NoError(t, loader.Load())

	report := loader.SystemCheck(context.Background(), 50*time.Millisecond)

	assert.False(t, report.OverallHealthy)
	assert.Equal(t, StatusTimeout, report.Modules["slow"].Status)
	assert.True(t, report.Modules["comms"].Healthy)
}

func TestSystemCheckRespondsOverBus(t *testing.T) {
	registry := NewRegistry()
	m := &fakeModule{name: "comms"}
	require.NoError(t, registry.Register(m.name, fakeConstructor(m)))
	cfg := &Config{Modules: map[string]map[string]any{}}
	bus := NewBus(NopLogger{})
	loader := NewLoader(bus, cfg, registry, NopLogger{})

	_, err := loader.ResolveDependencies()
	require.NoError(t, err)
	require.NoError(t, loader.Load())
	require.NoError(t, loader.Start(context.Background()))
	defer loader.Stop(context.Background())

	var got SystemReport
	bus.Subscribe(TopicSystemCheckResponse, func(data any) {
		got = data.(SystemReport)
	})
	bus.Publish(TopicSystemCheckRequest, map[string]any{"request_id": "req-1"})

	assert.Equal(t, "req-1", got.RequestID)
	assert.True(t, got.OverallHealthy)
}
