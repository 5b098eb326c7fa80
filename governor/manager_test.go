package governor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/beaconscope/scene"
)

// fakeClock drives the manager's time source so tests can simulate expensive
// frames without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// stubModule burns simulated render time by advancing the fake clock.
type stubModule struct {
	id        string
	priority  int
	essential bool
	clock     *fakeClock
	cost      time.Duration
	output    []scene.DrawInstruction
	cfg       ModuleConfig
	panicNext bool
	renders   int
}

func (s *stubModule) ID() string      { return s.id }
func (s *stubModule) Priority() int   { return s.priority }
func (s *stubModule) Essential() bool { return s.essential }

func (s *stubModule) Update(ctx *FrameContext) {}

func (s *stubModule) Render(ctx *FrameContext) ([]scene.DrawInstruction, error) {
	s.renders++
	if s.panicNext {
		s.panicNext = false
		panic("stub render failure")
	}
	s.clock.advance(s.cost)
	return s.output, nil
}

func (s *stubModule) ApplyConfig(cfg ModuleConfig) { s.cfg = cfg }

func collectEvents(bus *Bus) *[]Event {
	events := &[]Event{}
	var mu sync.Mutex
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		*events = append(*events, e)
		mu.Unlock()
	})
	return events
}

func countEvents(events []Event, t EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func moduleStatus(t *testing.T, m *Manager, id string) ModuleStatus {
	t.Helper()
	for _, s := range m.Modules() {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("module %s not found", id)
	return ModuleStatus{}
}

func newTestManager(cfg Config) (*Manager, *fakeClock) {
	clock := newFakeClock()
	m := NewManager(cfg, nil)
	m.now = clock.now
	return m, clock
}

func TestOverBudgetModuleTightensProgressively(t *testing.T) {
	m, clock := newTestManager(DefaultConfig())
	events := collectEvents(m.Bus())

	mod := &stubModule{id: "expensive", priority: 10, clock: clock, cost: 30 * time.Millisecond}
	require.NoError(t, m.Register(mod, ModuleConfig{MaxVisible: 500, ClusterMinSize: 3, BudgetMs: 16.67}))

	for i := 0; i < 3; i++ {
		m.RunFrame()
	}
	status := moduleStatus(t, m, "expensive")
	assert.True(t, status.Config.PerformanceMode, "sustained violation should enter performance mode")
	assert.Equal(t, 400, status.Config.MaxVisible, "first tightening shrinks the cap by the degrade factor")
	assert.Equal(t, 1, countEvents(*events, EventPerformanceWarning))

	for i := 0; i < 3; i++ {
		m.RunFrame()
	}
	status = moduleStatus(t, m, "expensive")
	assert.Equal(t, 320, status.Config.MaxVisible, "second tightening compounds")
	assert.Equal(t, 2, countEvents(*events, EventPerformanceWarning))
}

func TestTighteningFloorsAndDisable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DegradeAfterFrames = 1
	m, clock := newTestManager(cfg)
	events := collectEvents(m.Bus())

	mod := &stubModule{id: "expensive", priority: 10, clock: clock, cost: 30 * time.Millisecond}
	require.NoError(t, m.Register(mod, ModuleConfig{MaxVisible: 500, ClusterMinSize: 3, BudgetMs: 16.67}))

	// Three tightenings, then the fourth violation disables.
	for i := 0; i < 4; i++ {
		m.RunFrame()
	}
	status := moduleStatus(t, m, "expensive")
	assert.False(t, status.Config.Enabled, "repeated tightening failure should disable the module")
	assert.False(t, status.Metrics.DisabledSince.IsZero())
	assert.Equal(t, 1, countEvents(*events, EventModuleDisabled))
	assert.Equal(t, 3, countEvents(*events, EventPerformanceWarning))

	// A disabled module no longer renders.
	rendersBefore := mod.renders
	m.RunFrame()
	assert.Equal(t, rendersBefore, mod.renders)
}

func TestCapNeverDropsBelowFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DegradeAfterFrames = 1
	cfg.DisableAfterTightenings = 100
	m, clock := newTestManager(cfg)

	mod := &stubModule{id: "expensive", priority: 10, clock: clock, cost: 30 * time.Millisecond}
	require.NoError(t, m.Register(mod, ModuleConfig{MaxVisible: 500, ClusterMinSize: 3, BudgetMs: 16.67}))

	for i := 0; i < 50; i++ {
		m.RunFrame()
	}
	status := moduleStatus(t, m, "expensive")
	assert.Equal(t, cfg.MinVisibleFloor, status.Config.MaxVisible)
	assert.Equal(t, 2, status.Config.ClusterMinSize)
}

func TestRecoveryIsSlowerThanDegradation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DegradeAfterFrames = 2
	cfg.RecoverWindowFrames = 5
	cfg.FPSWindow = 2
	m, clock := newTestManager(cfg)
	events := collectEvents(m.Bus())

	mod := &stubModule{id: "beacons", priority: 10, essential: true, clock: clock, cost: 30 * time.Millisecond}
	require.NoError(t, m.Register(mod, ModuleConfig{MaxVisible: 500, ClusterMinSize: 3, BudgetMs: 16.67}))

	for i := 0; i < 2; i++ {
		m.RunFrame()
	}
	status := moduleStatus(t, m, "beacons")
	require.True(t, status.Config.PerformanceMode)
	require.Equal(t, 400, status.Config.MaxVisible)

	// Load disappears; recovery takes a sustained good window per step and
	// never overshoots the baseline.
	mod.cost = time.Millisecond
	for i := 0; i < 30; i++ {
		m.RunFrame()
	}
	status = moduleStatus(t, m, "beacons")
	assert.Equal(t, 500, status.Config.MaxVisible, "recovery caps at the baseline")
	assert.Equal(t, 3, status.Config.ClusterMinSize)
	assert.False(t, status.Config.PerformanceMode, "full recovery leaves performance mode")
	assert.GreaterOrEqual(t, countEvents(*events, EventModuleRecovered), 1)
}

func TestOscillatingFPSDoesNotFlapEnabledState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DegradeAfterFrames = 1
	cfg.DisableAfterTightenings = 2
	cfg.RecoverWindowFrames = 5
	cfg.FPSWindow = 1
	m, clock := newTestManager(cfg)
	events := collectEvents(m.Bus())

	beacons := &stubModule{id: "beacons", priority: 10, essential: true, clock: clock, cost: 5 * time.Millisecond}
	extras := &stubModule{id: "extras", priority: 20, clock: clock, cost: 30 * time.Millisecond}
	require.NoError(t, m.Register(beacons, ModuleConfig{MaxVisible: 500, BudgetMs: 50}))
	require.NoError(t, m.Register(extras, ModuleConfig{MaxVisible: 500, ClusterMinSize: 3, BudgetMs: 16.67}))

	// The expensive module gets disabled quickly. The remaining load then
	// oscillates across the recovery threshold every frame, so a sustained
	// good window never accumulates and the module stays down.
	transitions := 0
	lastEnabled := true
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			beacons.cost = 20 * time.Millisecond
		} else {
			beacons.cost = 5 * time.Millisecond
		}
		m.RunFrame()
		enabled := moduleStatus(t, m, "extras").Config.Enabled
		if enabled != lastEnabled {
			transitions++
			lastEnabled = enabled
		}
	}

	assert.Equal(t, 1, transitions, "one disable transition, then stable")
	assert.False(t, moduleStatus(t, m, "extras").Config.Enabled)
	assert.Zero(t, countEvents(*events, EventModuleRecovered), "oscillation never sustains a good window")
}

func TestEmergencyDisablesNonEssentialOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupFrames = 5
	cfg.EmergencyAfterFrames = 10
	cfg.FPSWindow = 3
	m, clock := newTestManager(cfg)
	events := collectEvents(m.Bus())

	beacons := &stubModule{id: "beacons", priority: 10, essential: true, clock: clock, cost: 150 * time.Millisecond}
	extras := &stubModule{id: "extras", priority: 20, clock: clock, cost: time.Millisecond}
	require.NoError(t, m.Register(beacons, ModuleConfig{MaxVisible: 500, ClusterMinSize: 3, BudgetMs: 200}))
	require.NoError(t, m.Register(extras, ModuleConfig{MaxVisible: 500, BudgetMs: 200}))

	for i := 0; i < 30; i++ {
		m.RunFrame()
	}

	assert.True(t, m.Emergency())
	assert.True(t, moduleStatus(t, m, "beacons").Config.Enabled, "essential modules survive emergency")
	assert.False(t, moduleStatus(t, m, "extras").Config.Enabled, "non-essential modules are force-disabled")
	assert.Equal(t, 1, countEvents(*events, EventEmergencyTriggered), "emergency fires once, not per frame")

	// Still in emergency after more bad frames, still only one event.
	for i := 0; i < 20; i++ {
		m.RunFrame()
	}
	assert.Equal(t, 1, countEvents(*events, EventEmergencyTriggered))
}

func TestResetLeavesEmergency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupFrames = 5
	cfg.EmergencyAfterFrames = 10
	cfg.FPSWindow = 3
	m, clock := newTestManager(cfg)
	events := collectEvents(m.Bus())

	beacons := &stubModule{id: "beacons", priority: 10, essential: true, clock: clock, cost: 150 * time.Millisecond}
	extras := &stubModule{id: "extras", priority: 20, clock: clock, cost: time.Millisecond}
	require.NoError(t, m.Register(beacons, ModuleConfig{MaxVisible: 500, ClusterMinSize: 3, BudgetMs: 200}))
	require.NoError(t, m.Register(extras, ModuleConfig{MaxVisible: 500, BudgetMs: 200}))

	for i := 0; i < 30; i++ {
		m.RunFrame()
	}
	require.True(t, m.Emergency())

	m.Reset()

	assert.False(t, m.Emergency())
	assert.True(t, moduleStatus(t, m, "extras").Config.Enabled)
	assert.Equal(t, 500, moduleStatus(t, m, "beacons").Config.MaxVisible)
	assert.Equal(t, 1, countEvents(*events, EventEmergencyReset))
}

func TestRenderPanicDoesNotDisableModule(t *testing.T) {
	m, clock := newTestManager(DefaultConfig())

	mod := &stubModule{
		id: "fragile", priority: 10, clock: clock, cost: time.Millisecond,
		output:    []scene.DrawInstruction{{Kind: scene.DrawBeacon, EntityID: 1}},
		panicNext: true,
	}
	require.NoError(t, m.Register(mod, ModuleConfig{MaxVisible: 500, BudgetMs: 16.67}))

	result := m.RunFrame()
	assert.Empty(t, result.Instructions, "panicking module contributes nothing this frame")

	status := moduleStatus(t, m, "fragile")
	assert.True(t, status.Config.Enabled, "a single failure is not grounds for disabling")
	assert.Equal(t, uint64(1), status.Metrics.Panics)

	result = m.RunFrame()
	assert.Len(t, result.Instructions, 1, "module renders normally on the next frame")
}

func TestInstructionsMergeInPriorityOrder(t *testing.T) {
	m, clock := newTestManager(DefaultConfig())

	second := &stubModule{
		id: "second", priority: 20, clock: clock,
		output: []scene.DrawInstruction{{Kind: scene.DrawConnection, EntityID: 2}},
	}
	first := &stubModule{
		id: "first", priority: 10, clock: clock,
		output: []scene.DrawInstruction{{Kind: scene.DrawBeacon, EntityID: 1}},
	}
	// Registration order is reversed on purpose.
	require.NoError(t, m.Register(second, ModuleConfig{}))
	require.NoError(t, m.Register(first, ModuleConfig{}))

	result := m.RunFrame()
	require.Len(t, result.Instructions, 2)
	assert.Equal(t, uint32(1), result.Instructions[0].EntityID)
	assert.Equal(t, uint32(2), result.Instructions[1].EntityID)
}

func TestRegisterDuplicateID(t *testing.T) {
	m, clock := newTestManager(DefaultConfig())

	mod := &stubModule{id: "dup", priority: 10, clock: clock}
	require.NoError(t, m.Register(mod, ModuleConfig{}))
	assert.Error(t, m.Register(&stubModule{id: "dup", priority: 20, clock: clock}, ModuleConfig{}))
}

func TestSetEntitiesReportsDropped(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	events := collectEvents(m.Bus())

	m.SetEntities([]scene.Entity{
		{ID: 1, X: 0, Y: 0},
		{ID: 0, X: 1, Y: 1},
		{ID: 1, X: 2, Y: 2},
	})

	require.Equal(t, 1, countEvents(*events, EventEntitiesDropped))
	for _, e := range *events {
		if e.Type == EventEntitiesDropped {
			assert.Equal(t, 2, e.Dropped)
		}
	}
}

func TestManualDisableSurvivesRecovery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecoverWindowFrames = 5
	cfg.FPSWindow = 2
	m, clock := newTestManager(cfg)
	events := collectEvents(m.Bus())

	beacons := &stubModule{id: "beacons", priority: 10, essential: true, clock: clock, cost: time.Millisecond}
	extras := &stubModule{id: "extras", priority: 20, clock: clock, cost: time.Millisecond}
	require.NoError(t, m.Register(beacons, ModuleConfig{MaxVisible: 500}))
	require.NoError(t, m.Register(extras, ModuleConfig{MaxVisible: 500}))

	require.NoError(t, m.SetModuleEnabled("extras", false))
	rendersWhenOff := extras.renders

	// Cheap frames keep the good window saturated; the operator's choice
	// still outlasts every recovery step.
	for i := 0; i < 50; i++ {
		m.RunFrame()
	}
	assert.False(t, moduleStatus(t, m, "extras").Config.Enabled, "recovery must not undo a manual disable")
	assert.Equal(t, rendersWhenOff, extras.renders)
	assert.Zero(t, countEvents(*events, EventModuleRecovered))

	require.NoError(t, m.SetModuleEnabled("extras", true))
	m.RunFrame()
	assert.Greater(t, extras.renders, rendersWhenOff)
}

func TestSetModuleEnabled(t *testing.T) {
	m, clock := newTestManager(DefaultConfig())

	mod := &stubModule{id: "toggle", priority: 10, clock: clock}
	require.NoError(t, m.Register(mod, ModuleConfig{MaxVisible: 500}))

	require.NoError(t, m.SetModuleEnabled("toggle", false))
	assert.False(t, moduleStatus(t, m, "toggle").Config.Enabled)

	require.NoError(t, m.SetModuleEnabled("toggle", true))
	assert.True(t, moduleStatus(t, m, "toggle").Config.Enabled)

	assert.Error(t, m.SetModuleEnabled("missing", true))
}
