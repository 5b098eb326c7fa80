package scene

import (
	"hash/fnv"
	"math"
	"sort"
)

// ClusterConfig holds the product-tuning knobs for grid clustering. Cell
// sizes are in scene units, coarsest first; ZoomBreaks are the ascending zoom
// values separating the four tiers.
type ClusterConfig struct {
	CellSizes      [4]float32 `yaml:"cellSizes"`
	ZoomBreaks     [3]float32 `yaml:"zoomBreaks"`
	MinClusterSize int        `yaml:"minClusterSize"`
	RadiusPadding  float32    `yaml:"radiusPadding"`
	MinRadius      float32    `yaml:"minRadius"`
	MaxRadius      float32    `yaml:"maxRadius"`
}

// DefaultClusterConfig fills in the defaults used when the config omits a
// value.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		CellSizes:      [4]float32{400, 200, 100, 50},
		ZoomBreaks:     [3]float32{0.1, 0.3, 0.8},
		MinClusterSize: 3,
		RadiusPadding:  8,
		MinRadius:      12,
		MaxRadius:      96,
	}
}

func (c ClusterConfig) withDefaults() ClusterConfig {
	def := DefaultClusterConfig()
	if c.CellSizes[0] <= 0 {
		c.CellSizes = def.CellSizes
	}
	if c.ZoomBreaks[0] <= 0 {
		c.ZoomBreaks = def.ZoomBreaks
	}
	if c.MinClusterSize <= 0 {
		c.MinClusterSize = def.MinClusterSize
	}
	if c.RadiusPadding <= 0 {
		c.RadiusPadding = def.RadiusPadding
	}
	if c.MinRadius <= 0 {
		c.MinRadius = def.MinRadius
	}
	if c.MaxRadius <= 0 {
		c.MaxRadius = def.MaxRadius
	}
	return c
}

// Cluster is one aggregate marker replacing a dense cell of entities.
type Cluster struct {
	ID        uint32   `json:"id"`
	X         float32  `json:"x"` // member centroid
	Y         float32  `json:"y"`
	Radius    float32  `json:"radius"`
	Level     int32    `json:"level"` // rounded mean member level
	MemberIDs []uint32 `json:"memberIds"`
}

// ClusterResult partitions the input: every entity appears in exactly one
// cluster's MemberIDs or in Remaining, never both, never neither.
type ClusterResult struct {
	Clusters  []Cluster `json:"clusters"`
	Remaining []Entity  `json:"remaining"`
}

// ClusterEngine groups a point set into grid cells whose size shrinks as zoom
// rises, replacing dense cells with a single aggregate. Transient output,
// recomputed per frame; nothing here is persisted.
type ClusterEngine struct {
	cfg ClusterConfig
}

func NewClusterEngine(cfg ClusterConfig) *ClusterEngine {
	return &ClusterEngine{cfg: cfg.withDefaults()}
}

// SetMinClusterSize adjusts the clustering threshold; the governor tightens
// this in performance mode.
func (e *ClusterEngine) SetMinClusterSize(n int) {
	if n < 2 {
		n = 2
	}
	e.cfg.MinClusterSize = n
}

func (e *ClusterEngine) MinClusterSize() int {
	return e.cfg.MinClusterSize
}

// CellSize returns the grid cell size for a zoom level: a step function,
// coarser at low zoom.
func (e *ClusterEngine) CellSize(zoom float32) float32 {
	switch {
	case zoom < e.cfg.ZoomBreaks[0]:
		return e.cfg.CellSizes[0]
	case zoom < e.cfg.ZoomBreaks[1]:
		return e.cfg.CellSizes[1]
	case zoom < e.cfg.ZoomBreaks[2]:
		return e.cfg.CellSizes[2]
	default:
		return e.cfg.CellSizes[3]
	}
}

type cellKey struct {
	cx, cy int32
}

// Cluster partitions entities at the given zoom. Deterministic for a fixed
// input: entities are accumulated in slice order and cells are emitted in
// sorted key order, so repeated calls produce identical output.
func (e *ClusterEngine) Cluster(entities []Entity, zoom float32) ClusterResult {
	result := ClusterResult{}
	if len(entities) == 0 {
		return result
	}

	cellSize := e.CellSize(zoom)
	cells := make(map[cellKey][]int)
	for i, ent := range entities {
		key := cellKey{
			cx: int32(math.Floor(float64(ent.X / cellSize))),
			cy: int32(math.Floor(float64(ent.Y / cellSize))),
		}
		cells[key] = append(cells[key], i)
	}

	keys := make([]cellKey, 0, len(cells))
	for key, members := range cells {
		if len(members) >= e.cfg.MinClusterSize {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].cx != keys[j].cx {
			return keys[i].cx < keys[j].cx
		}
		return keys[i].cy < keys[j].cy
	})

	for _, key := range keys {
		result.Clusters = append(result.Clusters, e.buildCluster(entities, cells[key], key))
	}

	// Sparse cells keep their entities precise, in input order.
	for i, ent := range entities {
		key := cellKey{
			cx: int32(math.Floor(float64(ent.X / cellSize))),
			cy: int32(math.Floor(float64(ent.Y / cellSize))),
		}
		if len(cells[key]) < e.cfg.MinClusterSize {
			result.Remaining = append(result.Remaining, entities[i])
		}
	}
	return result
}

func (e *ClusterEngine) buildCluster(entities []Entity, members []int, key cellKey) Cluster {
	var sumX, sumY, sumLevel float64
	memberIDs := make([]uint32, len(members))
	for i, idx := range members {
		ent := entities[idx]
		sumX += float64(ent.X)
		sumY += float64(ent.Y)
		sumLevel += float64(ent.Level)
		memberIDs[i] = ent.ID
	}
	inv := 1.0 / float64(len(members))
	cx := float32(sumX * inv)
	cy := float32(sumY * inv)

	var maxDist float32
	for _, idx := range members {
		if d := float32(math.Sqrt(float64(distSq(entities[idx].X, entities[idx].Y, cx, cy)))); d > maxDist {
			maxDist = d
		}
	}
	radius := maxDist + e.cfg.RadiusPadding
	if radius < e.cfg.MinRadius {
		radius = e.cfg.MinRadius
	}
	if radius > e.cfg.MaxRadius {
		radius = e.cfg.MaxRadius
	}

	return Cluster{
		ID:        clusterID(key),
		X:         cx,
		Y:         cy,
		Radius:    radius,
		Level:     int32(math.Round(sumLevel * inv)),
		MemberIDs: memberIDs,
	}
}

// clusterID derives a stable id from the cell key so output is identical
// across calls for a fixed input.
func clusterID(key cellKey) uint32 {
	h := fnv.New32a()
	var buf [8]byte
	buf[0] = byte(key.cx)
	buf[1] = byte(key.cx >> 8)
	buf[2] = byte(key.cx >> 16)
	buf[3] = byte(key.cx >> 24)
	buf[4] = byte(key.cy)
	buf[5] = byte(key.cy >> 8)
	buf[6] = byte(key.cy >> 16)
	buf[7] = byte(key.cy >> 24)
	h.Write(buf[:])
	return h.Sum32()
}
