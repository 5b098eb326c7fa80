package scene

import (
	"math"
)

// RenderMode selects the fidelity a beacon is drawn at.
type RenderMode uint8

const (
	RenderFull RenderMode = iota
	RenderStandard
	RenderSimplified
	RenderClustered
)

func (m RenderMode) String() string {
	switch m {
	case RenderFull:
		return "full"
	case RenderStandard:
		return "standard"
	case RenderSimplified:
		return "simplified"
	case RenderClustered:
		return "clustered"
	default:
		return "unknown"
	}
}

// LODInfo is the resolved fidelity for one entity at one zoom. Freshly
// computed per entity per frame; no identity, no state.
type LODInfo struct {
	Level          int        `json:"level"`
	Mode           RenderMode `json:"mode"`
	Size           float32    `json:"size"`
	ShowAnimations bool       `json:"showAnimations"`
	ShowEffects    bool       `json:"showEffects"`
}

// LODConfig holds the zoom thresholds and per-level visual parameters.
// Thresholds are the minimum zoom of each level, descending; the last entry
// is the sentinel bottom so classification is total.
type LODConfig struct {
	Thresholds        [4]float32 `yaml:"thresholds"`
	Sizes             [4]float32 `yaml:"sizes"`
	IndicatorMinZoom  float32    `yaml:"indicatorMinZoom"`
	IndicatorMinLevel int32      `yaml:"indicatorMinLevel"`
	HitBase           float32    `yaml:"hitBase"`
	HitMin            float32    `yaml:"hitMin"`
	HitMax            float32    `yaml:"hitMax"`
}

func DefaultLODConfig() LODConfig {
	return LODConfig{
		Thresholds:        [4]float32{2.0, 1.0, 0.4, 0},
		Sizes:             [4]float32{16, 12, 8, 6},
		IndicatorMinZoom:  1.0,
		IndicatorMinLevel: 5,
		HitBase:           24,
		HitMin:            12,
		HitMax:            64,
	}
}

func (c LODConfig) withDefaults() LODConfig {
	def := DefaultLODConfig()
	if c.Thresholds[0] <= 0 {
		c.Thresholds = def.Thresholds
	}
	if c.Sizes[0] <= 0 {
		c.Sizes = def.Sizes
	}
	if c.IndicatorMinZoom <= 0 {
		c.IndicatorMinZoom = def.IndicatorMinZoom
	}
	if c.IndicatorMinLevel <= 0 {
		c.IndicatorMinLevel = def.IndicatorMinLevel
	}
	if c.HitBase <= 0 {
		c.HitBase = def.HitBase
	}
	if c.HitMin <= 0 {
		c.HitMin = def.HitMin
	}
	if c.HitMax <= 0 {
		c.HitMax = def.HitMax
	}
	return c
}

var lodModes = [4]RenderMode{RenderFull, RenderStandard, RenderSimplified, RenderClustered}

// LODClassifier maps zoom to a discrete fidelity level. Every method is a
// pure function of its arguments and the fixed config.
type LODClassifier struct {
	cfg LODConfig
}

func NewLODClassifier(cfg LODConfig) *LODClassifier {
	return &LODClassifier{cfg: cfg.withDefaults()}
}

// Classify picks the fidelity level for a zoom. bias rescales the effective
// zoom by 2^bias before thresholding, so a caller can cheapen or enrich
// rendering without moving the camera. Total: anything below every threshold
// falls back to the lowest-fidelity level rather than failing.
func (l *LODClassifier) Classify(zoom float32, bias float32) LODInfo {
	effective := zoom * float32(math.Exp2(float64(bias)))
	for i, floor := range l.cfg.Thresholds {
		if effective >= floor {
			return l.levelInfo(i)
		}
	}
	return l.levelInfo(len(l.cfg.Thresholds) - 1)
}

func (l *LODClassifier) levelInfo(level int) LODInfo {
	return LODInfo{
		Level:          level,
		Mode:           lodModes[level],
		Size:           l.cfg.Sizes[level],
		ShowAnimations: level == 0,
		ShowEffects:    level <= 1,
	}
}

// LevelScale is the size multiplier for an entity's level: +10% per level,
// monotonic.
func (l *LODClassifier) LevelScale(entityLevel int32) float32 {
	if entityLevel < 0 {
		entityLevel = 0
	}
	return 1 + 0.1*float32(entityLevel)
}

// ShouldShowLevelIndicators gates secondary decoration by both zoom and
// entity importance.
func (l *LODClassifier) ShouldShowLevelIndicators(zoom float32, entityLevel int32) bool {
	return zoom >= l.cfg.IndicatorMinZoom && entityLevel >= l.cfg.IndicatorMinLevel
}

// HitRadius is the tap tolerance in world units: bigger when zoomed out,
// clamped to the configured range.
func (l *LODClassifier) HitRadius(zoom float32) float32 {
	if zoom <= 0 {
		return l.cfg.HitMax
	}
	r := l.cfg.HitBase / zoom
	if r < l.cfg.HitMin {
		r = l.cfg.HitMin
	}
	if r > l.cfg.HitMax {
		r = l.cfg.HitMax
	}
	return r
}
