package governor

import (
	"sort"

	"web/beaconscope/scene"
)

// cullMarginWorld pads the viewport query so markers whose radius straddles
// the edge are not culled mid-shape.
const cullMarginWorld = 64

// indexRefreshFrames forces a compacting rebuild on a slow cadence even when
// the imbalance heuristics have not fired, absorbing positional drift from
// incremental edits in one bulk reload.
const indexRefreshFrames = 600

// BeaconModule is the primary render module: it owns the spatial index, the
// cluster engine and the fidelity classifier, and turns the current entity
// snapshot plus viewport into draw instructions each frame.
type BeaconModule struct {
	index      *scene.SpatialIndex
	clusters   *scene.ClusterEngine
	classifier *scene.LODClassifier

	cfg             ModuleConfig
	lastGeneration  uint64
	indexedOnce     bool
	framesSinceSync int
}

func NewBeaconModule(clusterCfg scene.ClusterConfig, lodCfg scene.LODConfig) *BeaconModule {
	return &BeaconModule{
		index:      scene.NewSpatialIndex(),
		clusters:   scene.NewClusterEngine(clusterCfg),
		classifier: scene.NewLODClassifier(lodCfg),
	}
}

func (b *BeaconModule) ID() string      { return "beacon-rendering" }
func (b *BeaconModule) Priority() int   { return 10 }
func (b *BeaconModule) Essential() bool { return true }

func (b *BeaconModule) ApplyConfig(cfg ModuleConfig) {
	b.cfg = cfg
	if cfg.ClusterMinSize > 0 {
		b.clusters.SetMinClusterSize(cfg.ClusterMinSize)
	}
}

// Update keeps the spatial index in sync with the entity snapshot: full
// rebuild when the snapshot generation changes, compacting rebuild when
// incremental mutation has degraded the tree.
func (b *BeaconModule) Update(ctx *FrameContext) {
	if !b.indexedOnce || ctx.Generation != b.lastGeneration {
		b.index.Build(ctx.Entities)
		b.lastGeneration = ctx.Generation
		b.indexedOnce = true
		b.framesSinceSync = 0
		return
	}
	b.framesSinceSync++
	if b.index.NeedsRebuild() || b.framesSinceSync >= indexRefreshFrames {
		b.index.Rebuild()
		b.framesSinceSync = 0
	}
}

func (b *BeaconModule) Render(ctx *FrameContext) ([]scene.DrawInstruction, error) {
	vp := ctx.Viewport
	visible := b.index.QueryRect(vp.Bounds.Pad(cullMarginWorld))
	if len(visible) == 0 {
		return nil, nil
	}

	var bias float32
	if b.cfg.PerformanceMode {
		bias = -1
	}
	lod := b.classifier.Classify(vp.Scale, bias)

	if lod.Mode == scene.RenderClustered {
		return b.renderClustered(visible, vp.Scale, lod), nil
	}

	if b.cfg.MaxVisible > 0 && len(visible) > b.cfg.MaxVisible {
		visible = capByLevel(visible, b.cfg.MaxVisible)
	}

	out := make([]scene.DrawInstruction, 0, len(visible))
	for _, e := range visible {
		out = append(out, scene.DrawInstruction{
			Kind:     scene.DrawBeacon,
			EntityID: e.ID,
			X:        e.X,
			Y:        e.Y,
			Radius:   lod.Size * b.classifier.LevelScale(e.Level),
			LOD:      lod,
		})
	}
	return out, nil
}

func (b *BeaconModule) renderClustered(visible []scene.Entity, zoom float32, lod scene.LODInfo) []scene.DrawInstruction {
	result := b.clusters.Cluster(visible, zoom)

	out := make([]scene.DrawInstruction, 0, len(result.Clusters)+len(result.Remaining))
	for _, c := range result.Clusters {
		out = append(out, scene.DrawInstruction{
			Kind:      scene.DrawCluster,
			ClusterID: c.ID,
			X:         c.X,
			Y:         c.Y,
			Radius:    c.Radius,
			Count:     uint32(len(c.MemberIDs)),
			LOD:       lod,
		})
	}
	remaining := result.Remaining
	if b.cfg.MaxVisible > 0 && len(remaining) > b.cfg.MaxVisible {
		remaining = capByLevel(remaining, b.cfg.MaxVisible)
	}
	for _, e := range remaining {
		out = append(out, scene.DrawInstruction{
			Kind:     scene.DrawBeacon,
			EntityID: e.ID,
			X:        e.X,
			Y:        e.Y,
			Radius:   lod.Size * b.classifier.LevelScale(e.Level),
			LOD:      lod,
		})
	}
	return out
}

// capByLevel keeps the n highest-level entities, ties broken by id so the
// kept set is stable from frame to frame.
func capByLevel(entities []scene.Entity, n int) []scene.Entity {
	sorted := make([]scene.Entity, len(entities))
	copy(sorted, entities)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Level != sorted[j].Level {
			return sorted[i].Level > sorted[j].Level
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[:n]
}

// HitTest resolves a screen-space tap to the nearest beacon within the
// zoom-scaled tolerance.
func (b *BeaconModule) HitTest(vp scene.Viewport, sx, sy float32) (scene.Entity, bool) {
	wx, wy := vp.ScreenToWorld(sx, sy)
	return b.index.Nearest(wx, wy, b.classifier.HitRadius(vp.Scale))
}

// Index exposes the module's spatial index for persistence and tooling.
func (b *BeaconModule) Index() *scene.SpatialIndex {
	return b.index
}
