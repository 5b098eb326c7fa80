package governor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"web/beaconscope/scene"
)

// Config is the governor policy configuration. Zero fields are filled with
// defaults by NewManager; the shape of the policy (asymmetric, recovery
// slower than degradation) is fixed, the constants are tuning knobs.
type Config struct {
	TargetFPS               float64 `yaml:"targetFPS"`
	DegradeFactor           float64 `yaml:"degradeFactor"`
	RecoverFactor           float64 `yaml:"recoverFactor"`
	DegradeAfterFrames      int     `yaml:"degradeAfterFrames"`
	DisableAfterTightenings int     `yaml:"disableAfterTightenings"`
	RecoverWindowFrames     int     `yaml:"recoverWindowFrames"`
	EmergencyFPSFloor       float64 `yaml:"emergencyFPSFloor"`
	EmergencyAfterFrames    int     `yaml:"emergencyAfterFrames"`
	WarmupFrames            int     `yaml:"warmupFrames"`
	FPSWindow               int     `yaml:"fpsWindow"`
	MinVisibleFloor         int     `yaml:"minVisibleFloor"`
	Log                     bool    `yaml:"log"`
}

func DefaultConfig() Config {
	return Config{
		TargetFPS:               60,
		DegradeFactor:           0.8,
		RecoverFactor:           1.2,
		DegradeAfterFrames:      3,
		DisableAfterTightenings: 3,
		RecoverWindowFrames:     90,
		EmergencyFPSFloor:       10,
		EmergencyAfterFrames:    60,
		WarmupFrames:            60,
		FPSWindow:               30,
		MinVisibleFloor:         50,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TargetFPS <= 0 {
		c.TargetFPS = def.TargetFPS
	}
	if c.DegradeFactor <= 0 || c.DegradeFactor >= 1 {
		c.DegradeFactor = def.DegradeFactor
	}
	if c.RecoverFactor <= 1 {
		c.RecoverFactor = def.RecoverFactor
	}
	if c.DegradeAfterFrames <= 0 {
		c.DegradeAfterFrames = def.DegradeAfterFrames
	}
	if c.DisableAfterTightenings <= 0 {
		c.DisableAfterTightenings = def.DisableAfterTightenings
	}
	if c.RecoverWindowFrames <= 0 {
		c.RecoverWindowFrames = def.RecoverWindowFrames
	}
	if c.EmergencyFPSFloor <= 0 {
		c.EmergencyFPSFloor = def.EmergencyFPSFloor
	}
	if c.EmergencyAfterFrames <= 0 {
		c.EmergencyAfterFrames = def.EmergencyAfterFrames
	}
	if c.WarmupFrames <= 0 {
		c.WarmupFrames = def.WarmupFrames
	}
	if c.FPSWindow <= 0 {
		c.FPSWindow = def.FPSWindow
	}
	if c.MinVisibleFloor <= 0 {
		c.MinVisibleFloor = def.MinVisibleFloor
	}
	return c
}

// FrameBudgetMs is the target time for one whole frame.
func (c Config) FrameBudgetMs() float64 {
	return 1000 / c.TargetFPS
}

type moduleState struct {
	module          Module
	config          ModuleConfig
	baseline        ModuleConfig // configured maximums, recovery never exceeds these
	metrics         ModuleMetrics
	lastPolicyFrame uint64 // frame of the last degrade action on this module
	manualOff       bool   // disabled via SetModuleEnabled, off-limits to recovery
}

// FrameResult is what one RunFrame hands to the draw-instruction consumer.
type FrameResult struct {
	Frame         uint64                  `json:"frame"`
	Instructions  []scene.DrawInstruction `json:"instructions"`
	ModuleCostsMs map[string]float64      `json:"moduleCostsMs"`
	TotalMs       float64                 `json:"totalMs"`
	FPS           float64                 `json:"fps"`
	Summary       scene.FrameSummary      `json:"summary"`
	Emergency     bool                    `json:"emergency"`
}

// Manager registers render modules, runs them each frame in priority order
// under a shared frame-time budget, and applies the degrade/recover policy.
// All module execution is single-threaded: one frame at a time, one module
// at a time, so instruction merging stays deterministic.
type Manager struct {
	mu  sync.Mutex
	cfg Config
	bus *Bus

	modules []*moduleState
	byID    map[string]*moduleState

	viewport   scene.Viewport
	entities   []scene.Entity
	generation uint64

	frame          uint64
	lastFrameStart time.Time
	frameSamples   []float64 // inter-frame durations in ms, newest last
	goodFrames     int
	lowFPSFrames   int
	emergency      bool

	now func() time.Time
}

func NewManager(cfg Config, bus *Bus) *Manager {
	if bus == nil {
		bus = NewBus()
	}
	return &Manager{
		cfg:  cfg.withDefaults(),
		bus:  bus,
		byID: make(map[string]*moduleState),
		now:  time.Now,
	}
}

func (m *Manager) Bus() *Bus {
	return m.bus
}

func (m *Manager) Config() Config {
	return m.cfg
}

// Register adds a module with its starting config. Duplicate ids are an
// error; registration order does not matter, modules run in priority order.
func (m *Manager) Register(mod Module, cfg ModuleConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[mod.ID()]; exists {
		return fmt.Errorf("module %s already registered", mod.ID())
	}
	if cfg.MaxVisible <= 0 {
		cfg.MaxVisible = 500
	}
	if cfg.ClusterMinSize <= 0 {
		cfg.ClusterMinSize = 3
	}
	if cfg.BudgetMs <= 0 {
		cfg.BudgetMs = m.cfg.FrameBudgetMs()
	}
	cfg.Enabled = true
	cfg.PerformanceMode = false

	ms := &moduleState{module: mod, config: cfg, baseline: cfg}
	mod.ApplyConfig(cfg)
	m.modules = append(m.modules, ms)
	m.byID[mod.ID()] = ms
	sort.SliceStable(m.modules, func(i, j int) bool {
		return m.modules[i].module.Priority() < m.modules[j].module.Priority()
	})
	return nil
}

// SetEntities replaces the entity snapshot picked up at the next frame
// boundary. Malformed entities are filtered here, before they can reach any
// spatial index, and the filtered count is reported via telemetry.
func (m *Manager) SetEntities(entities []scene.Entity) {
	clean, dropped := scene.SanitizeEntities(entities)

	m.mu.Lock()
	m.entities = clean
	m.generation++
	frame := m.frame
	m.mu.Unlock()

	if dropped > 0 {
		m.bus.Publish(Event{Type: EventEntitiesDropped, Frame: frame, Dropped: dropped})
	}
}

func (m *Manager) SetViewport(vp scene.Viewport) {
	m.mu.Lock()
	m.viewport = vp
	m.mu.Unlock()
}

// SetTransform moves the current viewport and recomputes its bounds.
func (m *Manager) SetTransform(x, y, zoom float32) {
	m.mu.Lock()
	m.viewport.SetTransform(x, y, zoom)
	m.mu.Unlock()
}

// RunFrame executes one frame: build the shared context, run every enabled
// module in priority order measuring render cost, then evaluate the
// degrade/recover policy for the next frame.
func (m *Manager) RunFrame() *FrameResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.now()
	var elapsed time.Duration
	if !m.lastFrameStart.IsZero() {
		elapsed = start.Sub(m.lastFrameStart)
	}
	m.frame++

	snapshot := make([]scene.Entity, len(m.entities))
	copy(snapshot, m.entities)
	ctx := &FrameContext{
		Frame:      m.frame,
		Elapsed:    elapsed,
		Viewport:   m.viewport,
		Entities:   snapshot,
		Generation: m.generation,
	}

	result := &FrameResult{
		Frame:         m.frame,
		ModuleCostsMs: make(map[string]float64, len(m.modules)),
	}

	for _, ms := range m.modules {
		if !ms.config.Enabled {
			continue
		}
		ms.module.Update(ctx)

		renderStart := m.now()
		instructions, err := safeRender(ms.module, ctx)
		costMs := float64(m.now().Sub(renderStart)) / float64(time.Millisecond)

		if err != nil {
			// A single failure is a zero-output frame, not grounds for
			// disabling; only sustained budget violation disables.
			if m.cfg.Log {
				fmt.Printf("module %s render failed on frame %d: %v\n", ms.module.ID(), m.frame, err)
			}
			ms.metrics.Panics++
			instructions = nil
		}

		ms.metrics.LastCostMs = costMs
		if ms.metrics.RenderedFrames == 0 {
			ms.metrics.AvgCostMs = costMs
		} else {
			ms.metrics.AvgCostMs = ms.metrics.AvgCostMs*0.8 + costMs*0.2
		}
		ms.metrics.RenderedFrames++

		result.Instructions = append(result.Instructions, instructions...)
		result.ModuleCostsMs[ms.module.ID()] = costMs
		result.TotalMs += costMs
	}

	if elapsed > 0 {
		m.pushSample(float64(elapsed) / float64(time.Millisecond))
	}
	fps := m.avgFPS()

	m.evaluatePolicy(fps, start)

	m.lastFrameStart = start
	result.FPS = fps
	result.Summary = scene.SummarizeFrame(result.Instructions)
	result.Emergency = m.emergency
	return result
}

func safeRender(mod Module, ctx *FrameContext) (instructions []scene.DrawInstruction, err error) {
	defer func() {
		if r := recover(); r != nil {
			instructions = nil
			err = fmt.Errorf("render panic: %v", r)
		}
	}()
	return mod.Render(ctx)
}

func (m *Manager) pushSample(ms float64) {
	m.frameSamples = append(m.frameSamples, ms)
	if len(m.frameSamples) > m.cfg.FPSWindow {
		m.frameSamples = m.frameSamples[len(m.frameSamples)-m.cfg.FPSWindow:]
	}
}

// avgFPS is the rolling average frame rate, 0 until the first sample.
func (m *Manager) avgFPS() float64 {
	if len(m.frameSamples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range m.frameSamples {
		sum += s
	}
	mean := sum / float64(len(m.frameSamples))
	if mean <= 0 {
		return 0
	}
	return 1000 / mean
}

// evaluatePolicy is the end-of-frame degrade/recover step. It is the only
// writer of module configs, and it never runs concurrently with module
// execution.
func (m *Manager) evaluatePolicy(fps float64, now time.Time) {
	warm := m.frame > uint64(m.cfg.WarmupFrames)

	if warm && fps > 0 && fps < m.cfg.EmergencyFPSFloor {
		m.lowFPSFrames++
	} else {
		m.lowFPSFrames = 0
	}
	if m.lowFPSFrames > m.cfg.EmergencyAfterFrames {
		m.triggerEmergency(now)
	}
	if m.emergency {
		// Emergency requires an explicit reset; no incremental recovery
		// climbing out of a pathological state.
		m.goodFrames = 0
		return
	}

	var costliest *moduleState
	for _, ms := range m.modules {
		if !ms.config.Enabled {
			continue
		}
		if ms.metrics.LastCostMs > ms.config.BudgetMs {
			ms.metrics.ConsecutiveOverBudget++
		} else {
			ms.metrics.ConsecutiveOverBudget = 0
		}
		if costliest == nil || ms.metrics.LastCostMs > costliest.metrics.LastCostMs {
			costliest = ms
		}
		if ms.metrics.ConsecutiveOverBudget >= m.cfg.DegradeAfterFrames {
			m.degrade(ms, now)
			ms.metrics.ConsecutiveOverBudget = 0
		}
	}

	// Global pressure tightens the costliest module even when no single
	// module is over its own budget.
	if fps > 0 && fps < m.cfg.TargetFPS*0.75 && costliest != nil {
		if m.frame-costliest.lastPolicyFrame >= uint64(m.cfg.DegradeAfterFrames) {
			m.degrade(costliest, now)
		}
	}

	// Recovery: sustained good window, then a single conservative step.
	if fps >= m.cfg.TargetFPS*0.92 {
		m.goodFrames++
	} else {
		m.goodFrames = 0
	}
	if m.goodFrames >= m.cfg.RecoverWindowFrames {
		m.recoverOne()
		m.goodFrames = 0
	}
}

func (m *Manager) degrade(ms *moduleState, now time.Time) {
	if ms.lastPolicyFrame == m.frame {
		return
	}
	ms.lastPolicyFrame = m.frame

	// Essential modules never disable; they ride out pressure at the floor.
	if ms.metrics.Tightenings >= m.cfg.DisableAfterTightenings && !ms.module.Essential() {
		ms.config.Enabled = false
		ms.metrics.DisabledSince = now
		ms.module.ApplyConfig(ms.config)
		m.bus.Publish(Event{
			Type:     EventModuleDisabled,
			Frame:    m.frame,
			ModuleID: ms.module.ID(),
			Reason:   "sustained budget violation after tightening",
		})
		return
	}

	ms.config.PerformanceMode = true
	ms.config.MaxVisible = int(float64(ms.config.MaxVisible) * m.cfg.DegradeFactor)
	if ms.config.MaxVisible < m.cfg.MinVisibleFloor {
		ms.config.MaxVisible = m.cfg.MinVisibleFloor
	}
	ms.config.ClusterMinSize = int(float64(ms.config.ClusterMinSize) * m.cfg.DegradeFactor)
	if ms.config.ClusterMinSize < 2 {
		ms.config.ClusterMinSize = 2
	}
	ms.metrics.Tightenings++
	ms.module.ApplyConfig(ms.config)
	m.bus.Publish(Event{
		Type:      EventPerformanceWarning,
		Frame:     m.frame,
		ModuleID:  ms.module.ID(),
		AvgCostMs: ms.metrics.AvgCostMs,
		BudgetMs:  ms.config.BudgetMs,
	})
}

// recoverOne takes a single recovery step: re-enable one policy-disabled
// module, or relax one performance-mode module toward its baseline. Modules
// switched off by hand stay off. One step per good window keeps recovery
// slower than degradation.
func (m *Manager) recoverOne() {
	for _, ms := range m.modules {
		if ms.config.Enabled || ms.manualOff || ms.lastPolicyFrame == m.frame {
			continue
		}
		ms.config.Enabled = true
		ms.metrics.DisabledSince = time.Time{}
		ms.metrics.Tightenings = 0
		ms.module.ApplyConfig(ms.config)
		m.bus.Publish(Event{
			Type:     EventModuleRecovered,
			Frame:    m.frame,
			ModuleID: ms.module.ID(),
		})
		return
	}
	for _, ms := range m.modules {
		if !ms.config.PerformanceMode || ms.lastPolicyFrame == m.frame {
			continue
		}
		ms.config.MaxVisible = grow(ms.config.MaxVisible, m.cfg.RecoverFactor, ms.baseline.MaxVisible)
		ms.config.ClusterMinSize = grow(ms.config.ClusterMinSize, m.cfg.RecoverFactor, ms.baseline.ClusterMinSize)
		if ms.config.MaxVisible == ms.baseline.MaxVisible &&
			ms.config.ClusterMinSize == ms.baseline.ClusterMinSize {
			ms.config.PerformanceMode = false
			ms.metrics.Tightenings = 0
			m.bus.Publish(Event{
				Type:     EventModuleRecovered,
				Frame:    m.frame,
				ModuleID: ms.module.ID(),
			})
		}
		ms.module.ApplyConfig(ms.config)
		return
	}
}

// grow scales n up by factor, always making progress on small values, capped
// at the baseline.
func grow(n int, factor float64, baseline int) int {
	next := int(float64(n) * factor)
	if next <= n {
		next = n + 1
	}
	if next > baseline {
		next = baseline
	}
	return next
}

// triggerEmergency force-disables every non-essential module in one step.
// Idempotent: re-triggering while already in emergency changes nothing.
func (m *Manager) triggerEmergency(now time.Time) {
	if m.emergency {
		return
	}
	m.emergency = true
	for _, ms := range m.modules {
		if ms.module.Essential() || !ms.config.Enabled {
			continue
		}
		ms.config.Enabled = false
		ms.metrics.DisabledSince = now
		ms.module.ApplyConfig(ms.config)
	}
	m.bus.Publish(Event{
		Type:   EventEmergencyTriggered,
		Frame:  m.frame,
		Reason: fmt.Sprintf("average fps below %.0f for %d frames", m.cfg.EmergencyFPSFloor, m.lowFPSFrames),
	})
}

// Reset restores every module to its clean starting configuration and leaves
// emergency mode. Recovery from emergency always goes through here rather
// than the incremental path.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ms := range m.modules {
		ms.config = ms.baseline
		ms.config.Enabled = true
		ms.config.PerformanceMode = false
		ms.metrics = ModuleMetrics{}
		ms.lastPolicyFrame = 0
		ms.manualOff = false
		ms.module.ApplyConfig(ms.config)
	}
	m.emergency = false
	m.lowFPSFrames = 0
	m.goodFrames = 0
	m.frameSamples = nil
	m.bus.Publish(Event{Type: EventEmergencyReset, Frame: m.frame})
}

// SetModuleEnabled is the manual override surface: forcing a module on also
// clears its performance mode.
func (m *Manager) SetModuleEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, exists := m.byID[id]
	if !exists {
		return fmt.Errorf("module %s not found", id)
	}
	ms.config.Enabled = enabled
	ms.manualOff = !enabled
	if enabled {
		ms.config.PerformanceMode = false
		ms.config.MaxVisible = ms.baseline.MaxVisible
		ms.config.ClusterMinSize = ms.baseline.ClusterMinSize
		ms.metrics.DisabledSince = time.Time{}
		ms.metrics.Tightenings = 0
	} else {
		ms.metrics.DisabledSince = m.now()
	}
	ms.module.ApplyConfig(ms.config)
	return nil
}

// Emergency reports whether the manager is in emergency mode.
func (m *Manager) Emergency() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergency
}

// Modules returns a read-only status snapshot in priority order.
func (m *Manager) Modules() []ModuleStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ModuleStatus, len(m.modules))
	for i, ms := range m.modules {
		out[i] = ModuleStatus{
			ID:        ms.module.ID(),
			Priority:  ms.module.Priority(),
			Essential: ms.module.Essential(),
			Config:    ms.config,
			Metrics:   ms.metrics,
		}
	}
	return out
}
