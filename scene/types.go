package scene

import (
	"math"
)

// EntityKind categorizes point entities in the field.
type EntityKind uint8

const (
	KindBeacon EntityKind = iota
	KindProbe
	KindRelay
)

func (k EntityKind) String() string {
	switch k {
	case KindBeacon:
		return "beacon"
	case KindProbe:
		return "probe"
	case KindRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// Entity is a positioned point object in the scene. Positions are owned by the
// game-state provider; the scene core only ever reads snapshots of them.
type Entity struct {
	ID    uint32     `json:"id"`
	X     float32    `json:"x"`
	Y     float32    `json:"y"`
	Level int32      `json:"level"`
	Kind  EntityKind `json:"kind"`
}

// Rect is an axis-aligned rectangle in scene coordinates.
type Rect struct {
	MinX, MinY, MaxX, MaxY float32
}

// EmptyRect returns a rect ready to be extended point by point.
func EmptyRect() Rect {
	return Rect{
		MinX: float32(math.Inf(1)),
		MinY: float32(math.Inf(1)),
		MaxX: float32(math.Inf(-1)),
		MaxY: float32(math.Inf(-1)),
	}
}

// Extend expands the rect to include another point
func (r *Rect) Extend(x, y float32) {
	r.MinX = float32(math.Min(float64(r.MinX), float64(x)))
	r.MinY = float32(math.Min(float64(r.MinY), float64(y)))
	r.MaxX = float32(math.Max(float64(r.MaxX), float64(x)))
	r.MaxY = float32(math.Max(float64(r.MaxY), float64(y)))
}

// Contains reports whether the point lies inside the rect. Edges are
// inclusive so a point on the border counts as inside.
func (r Rect) Contains(x, y float32) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

// Intersects reports whether two rects overlap, borders included.
func (r Rect) Intersects(o Rect) bool {
	return r.MinX <= o.MaxX && r.MaxX >= o.MinX &&
		r.MinY <= o.MaxY && r.MaxY >= o.MinY
}

// Pad returns the rect grown by m on every side.
func (r Rect) Pad(m float32) Rect {
	return Rect{
		MinX: r.MinX - m,
		MinY: r.MinY - m,
		MaxX: r.MaxX + m,
		MaxY: r.MaxY + m,
	}
}

// Viewport is the visible window into the scene: a world-space center, a zoom
// scale and the screen size in pixels. Bounds is the derived world-space
// rectangle and is recomputed on every transform change; it is never allowed
// to go stale.
type Viewport struct {
	X        float32 `json:"x"` // world-space center
	Y        float32 `json:"y"`
	Scale    float32 `json:"scale"`
	Width    float32 `json:"width"` // screen pixels
	Height   float32 `json:"height"`
	MinScale float32 `json:"-"`
	MaxScale float32 `json:"-"`
	Bounds   Rect    `json:"-"`
}

// NewViewport creates a viewport for the given screen size, centered on the
// origin at scale 1.
func NewViewport(width, height float32) Viewport {
	vp := Viewport{
		Width:    width,
		Height:   height,
		Scale:    1,
		MinScale: 0.01,
		MaxScale: 8,
	}
	vp.recomputeBounds()
	return vp
}

// SetTransform moves the viewport center and zoom, clamping scale to the
// configured range, and recomputes the derived bounds.
func (vp *Viewport) SetTransform(x, y, scale float32) {
	if scale < vp.MinScale {
		scale = vp.MinScale
	}
	if scale > vp.MaxScale {
		scale = vp.MaxScale
	}
	vp.X = x
	vp.Y = y
	vp.Scale = scale
	vp.recomputeBounds()
}

func (vp *Viewport) recomputeBounds() {
	halfW := vp.Width / (2 * vp.Scale)
	halfH := vp.Height / (2 * vp.Scale)
	vp.Bounds = Rect{
		MinX: vp.X - halfW,
		MinY: vp.Y - halfH,
		MaxX: vp.X + halfW,
		MaxY: vp.Y + halfH,
	}
}

// WorldToScreen converts world coordinates to screen coordinates.
func (vp Viewport) WorldToScreen(wx, wy float32) (float32, float32) {
	sx := (wx-vp.X)*vp.Scale + vp.Width/2
	sy := (wy-vp.Y)*vp.Scale + vp.Height/2
	return sx, sy
}

// ScreenToWorld converts screen coordinates to world coordinates.
func (vp Viewport) ScreenToWorld(sx, sy float32) (float32, float32) {
	wx := (sx-vp.Width/2)/vp.Scale + vp.X
	wy := (sy-vp.Height/2)/vp.Scale + vp.Y
	return wx, wy
}

// DrawKind identifies the primitive a draw instruction asks for.
type DrawKind uint8

const (
	DrawBeacon DrawKind = iota
	DrawCluster
	DrawConnection
)

func (d DrawKind) String() string {
	switch d {
	case DrawBeacon:
		return "beacon"
	case DrawCluster:
		return "cluster"
	case DrawConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// DrawInstruction is one opaque instruction handed to the draw-instruction
// consumer. The consumer turns these into pixels; the scene core stops here.
type DrawInstruction struct {
	Kind      DrawKind `json:"kind"`
	EntityID  uint32   `json:"entityId,omitempty"`
	ClusterID uint32   `json:"clusterId,omitempty"`
	X         float32  `json:"x"`
	Y         float32  `json:"y"`
	X2        float32  `json:"x2,omitempty"` // connection endpoint
	Y2        float32  `json:"y2,omitempty"`
	Radius    float32  `json:"radius,omitempty"`
	Count     uint32   `json:"count,omitempty"` // cluster member count
	LOD       LODInfo  `json:"lod"`
}

// SanitizeEntities filters malformed entities out of a snapshot before they
// can reach the spatial index: zero ids, non-finite positions and duplicate
// ids are dropped. Returns the clean slice (a copy) and the dropped count.
func SanitizeEntities(entities []Entity) ([]Entity, int) {
	clean := make([]Entity, 0, len(entities))
	seen := make(map[uint32]struct{}, len(entities))
	dropped := 0
	for _, e := range entities {
		if e.ID == 0 || !finite(e.X) || !finite(e.Y) {
			dropped++
			continue
		}
		if _, dup := seen[e.ID]; dup {
			dropped++
			continue
		}
		seen[e.ID] = struct{}{}
		clean = append(clean, e)
	}
	return clean, dropped
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
