package scene

import (
	"math"
	"testing"
)

func TestSanitizeEntities(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	input := []Entity{
		{ID: 1, X: 0, Y: 0},
		{ID: 0, X: 5, Y: 5},    // zero id
		{ID: 2, X: nan, Y: 0},  // NaN position
		{ID: 3, X: 0, Y: inf},  // infinite position
		{ID: 1, X: 10, Y: 10},  // duplicate id
		{ID: 4, X: -50, Y: 50},
	}

	clean, dropped := SanitizeEntities(input)
	if dropped != 4 {
		t.Errorf("expected 4 dropped, got %d", dropped)
	}
	if len(clean) != 2 {
		t.Fatalf("expected 2 clean entities, got %d", len(clean))
	}
	if clean[0].ID != 1 || clean[1].ID != 4 {
		t.Errorf("unexpected survivors: %+v", clean)
	}
	// First occurrence of a duplicate id wins
	if clean[0].X != 0 {
		t.Errorf("duplicate handling kept the wrong entity: %+v", clean[0])
	}
}

func TestViewportScaleClamped(t *testing.T) {
	vp := NewViewport(1280, 720)

	vp.SetTransform(0, 0, 0.001)
	if vp.Scale != vp.MinScale {
		t.Errorf("scale %.4f, want clamped to %.4f", vp.Scale, vp.MinScale)
	}
	vp.SetTransform(0, 0, 100)
	if vp.Scale != vp.MaxScale {
		t.Errorf("scale %.1f, want clamped to %.1f", vp.Scale, vp.MaxScale)
	}
}

func TestViewportBoundsFollowTransform(t *testing.T) {
	vp := NewViewport(1000, 500)
	vp.SetTransform(100, 200, 2)

	want := Rect{MinX: -150, MinY: 75, MaxX: 350, MaxY: 325}
	if vp.Bounds != want {
		t.Errorf("bounds %+v, want %+v", vp.Bounds, want)
	}

	// Every transform change moves the bounds with it
	vp.SetTransform(0, 0, 1)
	want = Rect{MinX: -500, MinY: -250, MaxX: 500, MaxY: 250}
	if vp.Bounds != want {
		t.Errorf("bounds %+v after second transform, want %+v", vp.Bounds, want)
	}
}

func TestViewportCoordinateRoundtrip(t *testing.T) {
	vp := NewViewport(1280, 720)
	vp.SetTransform(42, -17, 1.5)

	wx, wy := float32(100), float32(-30)
	sx, sy := vp.WorldToScreen(wx, wy)
	gx, gy := vp.ScreenToWorld(sx, sy)

	const eps = 0.001
	if math.Abs(float64(gx-wx)) > eps || math.Abs(float64(gy-wy)) > eps {
		t.Errorf("roundtrip (%.3f, %.3f) -> (%.3f, %.3f)", wx, wy, gx, gy)
	}
}

func TestRectContainsInclusive(t *testing.T) {
	r := Rect{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}

	if !r.Contains(0, 0) || !r.Contains(10, 10) || !r.Contains(5, 5) {
		t.Error("borders and interior should be contained")
	}
	if r.Contains(10.001, 5) || r.Contains(5, -0.001) {
		t.Error("points outside should not be contained")
	}
}

func TestRectIntersects(t *testing.T) {
	a := Rect{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}

	if !a.Intersects(Rect{MinX: 5, MinY: 5, MaxX: 15, MaxY: 15}) {
		t.Error("overlapping rects should intersect")
	}
	if !a.Intersects(Rect{MinX: 10, MinY: 10, MaxX: 20, MaxY: 20}) {
		t.Error("edge-touching rects should intersect")
	}
	if a.Intersects(Rect{MinX: 11, MinY: 0, MaxX: 20, MaxY: 10}) {
		t.Error("disjoint rects should not intersect")
	}
}

func TestRectExtend(t *testing.T) {
	r := EmptyRect()
	r.Extend(5, -3)
	r.Extend(-2, 7)

	want := Rect{MinX: -2, MinY: -3, MaxX: 5, MaxY: 7}
	if r != want {
		t.Errorf("extended rect %+v, want %+v", r, want)
	}
}
