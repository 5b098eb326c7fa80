package scene

import (
	"math/rand"
)

// FrameSummary aggregates one frame's draw instructions for the API metadata
// endpoint and the profiler.
type FrameSummary struct {
	TotalInstructions int `json:"totalInstructions"`
	Beacons           int `json:"beacons"`
	Clusters          int `json:"clusters"`
	Connections       int `json:"connections"`
	PointsCovered     int `json:"pointsCovered"` // singles plus cluster members
}

// SummarizeFrame tallies a merged instruction list.
func SummarizeFrame(instructions []DrawInstruction) FrameSummary {
	summary := FrameSummary{TotalInstructions: len(instructions)}
	for _, ins := range instructions {
		switch ins.Kind {
		case DrawBeacon:
			summary.Beacons++
			summary.PointsCovered++
		case DrawCluster:
			summary.Clusters++
			summary.PointsCovered += int(ins.Count)
		case DrawConnection:
			summary.Connections++
		}
	}
	return summary
}

// GenerateTestEntities creates n random beacons within bounds, with a few
// dense hotspots so clustering has something to bite on. Deterministic for a
// fixed seed.
func GenerateTestEntities(n int, bounds Rect, seed int64) []Entity {
	r := rand.New(rand.NewSource(seed))
	entities := make([]Entity, n)

	// A handful of hotspots holding roughly half the population.
	numHotspots := 1 + n/500
	hotspots := make([][2]float32, numHotspots)
	for i := range hotspots {
		hotspots[i] = [2]float32{
			bounds.MinX + r.Float32()*(bounds.MaxX-bounds.MinX),
			bounds.MinY + r.Float32()*(bounds.MaxY-bounds.MinY),
		}
	}
	spread := (bounds.MaxX - bounds.MinX) / 40

	for i := 0; i < n; i++ {
		var x, y float32
		if i%2 == 0 {
			h := hotspots[r.Intn(numHotspots)]
			x = h[0] + (r.Float32()-0.5)*spread
			y = h[1] + (r.Float32()-0.5)*spread
		} else {
			x = bounds.MinX + r.Float32()*(bounds.MaxX-bounds.MinX)
			y = bounds.MinY + r.Float32()*(bounds.MaxY-bounds.MinY)
		}
		kind := KindBeacon
		if i%17 == 0 {
			kind = KindRelay
		} else if i%7 == 0 {
			kind = KindProbe
		}
		entities[i] = Entity{
			ID:    uint32(i + 1),
			X:     x,
			Y:     y,
			Level: int32(r.Intn(10)),
			Kind:  kind,
		}
	}
	return entities
}
