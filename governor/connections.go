package governor

import (
	"web/beaconscope/scene"
)

// ConnectionModule draws proximity links between nearby beacons. It is the
// canonical non-essential module: first to go when the governor sheds load,
// and skipped entirely at low fidelity where individual links are invisible
// anyway.
type ConnectionModule struct {
	index      *scene.SpatialIndex
	classifier *scene.LODClassifier

	cfg             ModuleConfig
	linkRadius      float32
	lastGeneration  uint64
	indexedOnce     bool
	framesSinceSync int
}

// NewConnectionModule links beacons within linkRadius world units of each
// other.
func NewConnectionModule(lodCfg scene.LODConfig, linkRadius float32) *ConnectionModule {
	if linkRadius <= 0 {
		linkRadius = 120
	}
	return &ConnectionModule{
		index:      scene.NewSpatialIndex(),
		classifier: scene.NewLODClassifier(lodCfg),
		linkRadius: linkRadius,
	}
}

func (c *ConnectionModule) ID() string      { return "beacon-connections" }
func (c *ConnectionModule) Priority() int   { return 20 }
func (c *ConnectionModule) Essential() bool { return false }

func (c *ConnectionModule) ApplyConfig(cfg ModuleConfig) {
	c.cfg = cfg
}

func (c *ConnectionModule) Update(ctx *FrameContext) {
	if !c.indexedOnce || ctx.Generation != c.lastGeneration {
		c.index.Build(ctx.Entities)
		c.lastGeneration = ctx.Generation
		c.indexedOnce = true
		c.framesSinceSync = 0
		return
	}
	c.framesSinceSync++
	if c.index.NeedsRebuild() || c.framesSinceSync >= indexRefreshFrames {
		c.index.Rebuild()
		c.framesSinceSync = 0
	}
}

func (c *ConnectionModule) Render(ctx *FrameContext) ([]scene.DrawInstruction, error) {
	vp := ctx.Viewport

	var bias float32
	if c.cfg.PerformanceMode {
		bias = -1
	}
	lod := c.classifier.Classify(vp.Scale, bias)
	if lod.Mode == scene.RenderSimplified || lod.Mode == scene.RenderClustered {
		return nil, nil
	}

	visible := c.index.QueryRect(vp.Bounds.Pad(c.linkRadius))
	if len(visible) < 2 {
		return nil, nil
	}

	maxLinks := c.cfg.MaxVisible
	if maxLinks <= 0 {
		maxLinks = 500
	}

	// Each pair is emitted once, from the lower id, so the same link never
	// renders twice.
	out := make([]scene.DrawInstruction, 0, len(visible))
	for _, e := range visible {
		neighbors := c.index.QueryRadius(e.X, e.Y, c.linkRadius)
		for _, n := range neighbors {
			if n.ID <= e.ID {
				continue
			}
			out = append(out, scene.DrawInstruction{
				Kind:     scene.DrawConnection,
				EntityID: e.ID,
				X:        e.X,
				Y:        e.Y,
				X2:       n.X,
				Y2:       n.Y,
				LOD:      lod,
			})
			if len(out) >= maxLinks {
				return out, nil
			}
		}
	}
	return out, nil
}
