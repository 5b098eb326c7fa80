package scene

import (
	"math"
	"sort"
)

// treeNode is one KD node. Nodes live in a single slice and reference each
// other by index, so the whole tree is two flat allocations.
type treeNode struct {
	PointIdx int32 // index into the points array
	Left     int32 // index into the nodes array, -1 if none
	Right    int32
	Axis     uint8 // 0 = X, 1 = Y
	Bounds   Rect  // covers the whole subtree
}

// SpatialIndex is a balanced KD-tree over entity positions supporting
// rectangular and circular range queries. Build is a bulk load; Insert and
// Remove handle incremental edits between rebuilds. Removals are tombstoned
// and compacted on the next Rebuild.
type SpatialIndex struct {
	nodes   []treeNode
	points  []Entity
	removed []bool
	byID    map[uint32]int32
	tombs   int
	height  int
}

// IndexStats reports tree diagnostics used by rebalance decisions.
type IndexStats struct {
	Count   int `json:"count"`
	Height  int `json:"height"`
	Removed int `json:"removed"`
}

func NewSpatialIndex() *SpatialIndex {
	return &SpatialIndex{byID: make(map[uint32]int32)}
}

// Build replaces all content with a bulk load of the given entities.
// O(n log n) via recursive median split, never n sequential inserts.
func (t *SpatialIndex) Build(entities []Entity) {
	t.points = make([]Entity, len(entities))
	copy(t.points, entities)
	t.nodes = make([]treeNode, 0, len(entities))
	t.removed = make([]bool, len(entities))
	t.byID = make(map[uint32]int32, len(entities))
	t.tombs = 0
	t.height = 0

	if len(t.points) > 0 {
		t.buildNodes(0, len(t.points)-1, 0)
	}
	for i, p := range t.points {
		t.byID[p.ID] = int32(i)
	}
}

func (t *SpatialIndex) buildNodes(start, end, depth int) int32 {
	if start > end {
		return -1
	}
	if depth+1 > t.height {
		t.height = depth + 1
	}

	nodeIdx := int32(len(t.nodes))
	t.nodes = append(t.nodes, treeNode{})

	axis := depth % 2
	sortEntitiesRange(t.points[start:end+1], axis)
	median := (start + end) / 2

	left := t.buildNodes(start, median-1, depth+1)
	right := t.buildNodes(median+1, end, depth+1)

	bounds := EmptyRect()
	for _, p := range t.points[start : end+1] {
		bounds.Extend(p.X, p.Y)
	}

	t.nodes[nodeIdx] = treeNode{
		PointIdx: int32(median),
		Left:     left,
		Right:    right,
		Axis:     uint8(axis),
		Bounds:   bounds,
	}
	return nodeIdx
}

func sortEntitiesRange(entities []Entity, axis int) {
	if axis == 0 {
		sort.Slice(entities, func(i, j int) bool {
			return entities[i].X < entities[j].X
		})
	} else {
		sort.Slice(entities, func(i, j int) bool {
			return entities[i].Y < entities[j].Y
		})
	}
}

// Insert adds one entity to an existing tree. An entity with an id already
// present replaces the old one. O(log n) amortized while the tree stays
// balanced; NeedsRebuild reports when it no longer is.
func (t *SpatialIndex) Insert(e Entity) {
	if old, exists := t.byID[e.ID]; exists {
		t.tombstone(old)
	}

	pointIdx := int32(len(t.points))
	t.points = append(t.points, e)
	t.removed = append(t.removed, false)
	t.byID[e.ID] = pointIdx

	if len(t.nodes) == 0 {
		bounds := EmptyRect()
		bounds.Extend(e.X, e.Y)
		t.nodes = append(t.nodes, treeNode{
			PointIdx: pointIdx,
			Left:     -1,
			Right:    -1,
			Axis:     0,
			Bounds:   bounds,
		})
		t.height = 1
		return
	}
	t.insertNode(0, pointIdx, 0)
}

// insertNode walks down from nodeIdx and hangs a leaf for pointIdx. All node
// access goes through t.nodes by index: appending the leaf can move the
// backing array, so no node pointer may be held across that append.
func (t *SpatialIndex) insertNode(nodeIdx, pointIdx int32, depth int) {
	p := t.points[pointIdx]
	for {
		t.nodes[nodeIdx].Bounds.Extend(p.X, p.Y)

		node := t.nodes[nodeIdx]
		axis := int(node.Axis)
		var compareVal, nodeVal float32
		if axis == 0 {
			compareVal = p.X
			nodeVal = t.points[node.PointIdx].X
		} else {
			compareVal = p.Y
			nodeVal = t.points[node.PointIdx].Y
		}

		childIdx := node.Right
		goLeft := compareVal < nodeVal
		if goLeft {
			childIdx = node.Left
		}
		if childIdx == -1 {
			bounds := EmptyRect()
			bounds.Extend(p.X, p.Y)
			newNodeIdx := int32(len(t.nodes))
			t.nodes = append(t.nodes, treeNode{
				PointIdx: pointIdx,
				Left:     -1,
				Right:    -1,
				Axis:     uint8((axis + 1) % 2),
				Bounds:   bounds,
			})
			if goLeft {
				t.nodes[nodeIdx].Left = newNodeIdx
			} else {
				t.nodes[nodeIdx].Right = newNodeIdx
			}
			if depth+2 > t.height {
				t.height = depth + 2
			}
			return
		}
		nodeIdx = childIdx
		depth++
	}
}

// Remove tombstones the entity with the given id. Removing an id that is not
// present is a no-op, not an error.
func (t *SpatialIndex) Remove(id uint32) {
	idx, exists := t.byID[id]
	if !exists {
		return
	}
	t.tombstone(idx)
	delete(t.byID, id)
}

func (t *SpatialIndex) tombstone(pointIdx int32) {
	if !t.removed[pointIdx] {
		t.removed[pointIdx] = true
		t.tombs++
	}
}

// QueryRect returns every live entity whose position lies within rect,
// borders inclusive. No ordering guarantee, no duplicates.
func (t *SpatialIndex) QueryRect(rect Rect) []Entity {
	var out []Entity
	if len(t.nodes) == 0 {
		return out
	}
	stack := make([]int32, 0, t.height+1)
	stack = append(stack, 0)
	for len(stack) > 0 {
		nodeIdx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := &t.nodes[nodeIdx]
		if !node.Bounds.Intersects(rect) {
			continue
		}
		p := t.points[node.PointIdx]
		if !t.removed[node.PointIdx] && rect.Contains(p.X, p.Y) {
			out = append(out, p)
		}
		if node.Left != -1 {
			stack = append(stack, node.Left)
		}
		if node.Right != -1 {
			stack = append(stack, node.Right)
		}
	}
	return out
}

// QueryRadius returns every live entity within Euclidean distance r of the
// center. Prunes via the bounding rect of the circle, then exact-filters.
func (t *SpatialIndex) QueryRadius(cx, cy, r float32) []Entity {
	box := Rect{MinX: cx - r, MinY: cy - r, MaxX: cx + r, MaxY: cy + r}
	candidates := t.QueryRect(box)
	out := candidates[:0]
	rr := r * r
	for _, p := range candidates {
		dx := p.X - cx
		dy := p.Y - cy
		if dx*dx+dy*dy <= rr {
			out = append(out, p)
		}
	}
	return out
}

// Nearest finds the closest entity within maxDistance of the point using an
// expanding-ring search, so a close hit never pays for a whole-tree scan.
// The second return is false when nothing lies within maxDistance.
func (t *SpatialIndex) Nearest(x, y, maxDistance float32) (Entity, bool) {
	if maxDistance <= 0 || t.Count() == 0 {
		return Entity{}, false
	}
	r := maxDistance / 16
	if r <= 0 {
		r = maxDistance
	}
	for {
		if r > maxDistance {
			r = maxDistance
		}
		candidates := t.QueryRadius(x, y, r)
		if len(candidates) > 0 {
			best := candidates[0]
			bestD := distSq(best.X, best.Y, x, y)
			for _, p := range candidates[1:] {
				if d := distSq(p.X, p.Y, x, y); d < bestD {
					best = p
					bestD = d
				}
			}
			return best, true
		}
		if r >= maxDistance {
			return Entity{}, false
		}
		r *= 2
	}
}

func distSq(x1, y1, x2, y2 float32) float32 {
	dx := x1 - x2
	dy := y1 - y2
	return dx*dx + dy*dy
}

// Count returns the number of live entities.
func (t *SpatialIndex) Count() int {
	return len(t.points) - t.tombs
}

// Stats returns diagnostics for rebalance decisions.
func (t *SpatialIndex) Stats() IndexStats {
	return IndexStats{
		Count:   t.Count(),
		Height:  t.height,
		Removed: t.tombs,
	}
}

// NeedsRebuild reports whether incremental edits have left the tree too deep:
// height above ~2*log2(n), or a quarter of the points tombstoned.
func (t *SpatialIndex) NeedsRebuild() bool {
	n := t.Count()
	if n == 0 {
		return t.tombs > 0
	}
	if t.tombs*4 > len(t.points) {
		return true
	}
	limit := 2 * int(math.Ceil(math.Log2(float64(n)+1)))
	if limit < 2 {
		limit = 2
	}
	return t.height > limit
}

// Rebuild compacts tombstones and bulk-reloads the live entities.
func (t *SpatialIndex) Rebuild() {
	live := make([]Entity, 0, t.Count())
	for i, p := range t.points {
		if !t.removed[i] {
			live = append(live, p)
		}
	}
	t.Build(live)
}
