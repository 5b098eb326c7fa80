package governor

import (
	"time"

	"web/beaconscope/scene"
)

// FrameContext is the shared immutable context for one frame. Every module
// sees the same viewport and the same entity snapshot; nothing here is
// written once the frame starts.
type FrameContext struct {
	Frame      uint64
	Elapsed    time.Duration
	Viewport   scene.Viewport
	Entities   []scene.Entity // sanitized defensive copy
	Generation uint64         // bumps when the entity set is replaced
}

// ModuleConfig is the per-module state owned by the governor. Modules read it
// to adapt their internal thresholds; only the governor writes it.
type ModuleConfig struct {
	Enabled         bool    `json:"enabled" yaml:"enabled"`
	PerformanceMode bool    `json:"performanceMode" yaml:"performanceMode"`
	MaxVisible      int     `json:"maxVisible" yaml:"maxVisible"`
	ClusterMinSize  int     `json:"clusterMinSize" yaml:"clusterMinSize"`
	BudgetMs        float64 `json:"budgetMs" yaml:"budgetMs"`
}

// ModuleMetrics is the rolling performance record the governor keeps per
// module.
type ModuleMetrics struct {
	AvgCostMs             float64   `json:"avgCostMs"`
	LastCostMs            float64   `json:"lastCostMs"`
	ConsecutiveOverBudget int       `json:"consecutiveOverBudget"`
	Tightenings           int       `json:"tightenings"`
	DisabledSince         time.Time `json:"disabledSince,omitempty"`
	RenderedFrames        uint64    `json:"renderedFrames"`
	Panics                uint64    `json:"panics"`
}

// Module is a self-contained rendering subsystem run by the Manager. Update
// refreshes internal spatial state when stale; Render emits the frame's draw
// instructions. Both are synchronous and must run to completion within the
// frame.
type Module interface {
	ID() string
	Priority() int // lower runs first
	Essential() bool

	Update(ctx *FrameContext)
	Render(ctx *FrameContext) ([]scene.DrawInstruction, error)

	// ApplyConfig pushes governor-owned config into the module.
	ApplyConfig(cfg ModuleConfig)
}

// ModuleStatus is the read-only view exposed over the API.
type ModuleStatus struct {
	ID        string        `json:"id"`
	Priority  int           `json:"priority"`
	Essential bool          `json:"essential"`
	Config    ModuleConfig  `json:"config"`
	Metrics   ModuleMetrics `json:"metrics"`
}
