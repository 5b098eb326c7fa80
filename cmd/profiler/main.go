package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"web/beaconscope/governor"
	"web/beaconscope/scene"
)

var (
	cpuprofile  = flag.String("cpuprofile", "", "write cpu profile to file")
	memprofile  = flag.String("memprofile", "", "write memory profile to file")
	heapprofile = flag.String("heapprofile", "", "write heap profile to file")
	numEntities = flag.Int("entities", 100000, "number of entities to generate")
	zoom        = flag.Float64("zoom", 1.0, "zoom level to profile")
	frames      = flag.Int("frames", 120, "frames to run per configuration")
	testall     = flag.Bool("testall", false, "test all configurations")
)

func newManager(entities []scene.Entity) *governor.Manager {
	manager := governor.NewManager(governor.DefaultConfig(), nil)
	beacons := governor.NewBeaconModule(scene.DefaultClusterConfig(), scene.DefaultLODConfig())
	if err := manager.Register(beacons, governor.ModuleConfig{MaxVisible: 500, ClusterMinSize: 3}); err != nil {
		panic(err)
	}
	connections := governor.NewConnectionModule(scene.DefaultLODConfig(), 120)
	if err := manager.Register(connections, governor.ModuleConfig{MaxVisible: 500}); err != nil {
		panic(err)
	}
	manager.SetEntities(entities)
	return manager
}

func runSingleProfile(numEntities, frames int, zoom float32) {
	fmt.Printf("Profiling %d frames with %d entities at zoom %.2f\n", frames, numEntities, zoom)

	bounds := scene.Rect{MinX: -10000, MinY: -10000, MaxX: 10000, MaxY: 10000}
	entities := scene.GenerateTestEntities(numEntities, bounds, 42)

	manager := newManager(entities)
	vp := scene.NewViewport(1280, 720)
	vp.SetTransform(0, 0, zoom)
	manager.SetViewport(vp)

	var memStatsBefore, memStatsAfter runtime.MemStats
	runtime.ReadMemStats(&memStatsBefore)

	start := time.Now()
	var instructions int
	for i := 0; i < frames; i++ {
		result := manager.RunFrame()
		instructions += len(result.Instructions)
	}
	duration := time.Since(start)

	runtime.ReadMemStats(&memStatsAfter)
	allocMB := float64(memStatsAfter.TotalAlloc-memStatsBefore.TotalAlloc) / 1024 / 1024

	fmt.Printf("Completed in %v (%.2f ms/frame, %d instructions total)\n",
		duration, float64(duration.Milliseconds())/float64(frames), instructions)
	fmt.Printf("Memory allocated: %.2f MB\n", allocMB)
	fmt.Printf("Memory usage: %.2f MB\n", float64(memStatsAfter.Alloc)/1024/1024)
}

func runProfileBattery(frames int) {
	entityCounts := []int{1000, 10000, 50000, 100000}
	zoomLevels := []float32{0.05, 0.2, 0.5, 1.0, 2.5}

	fmt.Println("Running comprehensive profile battery...")
	fmt.Println("=======================================")

	fmt.Printf("%-10s | %-8s | %-12s | %-15s | %-12s | %-10s\n",
		"Entities", "Zoom", "Mode", "Duration", "Memory (MB)", "GC Runs")
	fmt.Printf("%s\n", "------------------------------------------------------------------------")

	bounds := scene.Rect{MinX: -10000, MinY: -10000, MaxX: 10000, MaxY: 10000}
	classifier := scene.NewLODClassifier(scene.DefaultLODConfig())

	for _, count := range entityCounts {
		entities := scene.GenerateTestEntities(count, bounds, 42)

		for _, z := range zoomLevels {
			manager := newManager(entities)
			vp := scene.NewViewport(1280, 720)
			vp.SetTransform(0, 0, z)
			manager.SetViewport(vp)

			mode := classifier.Classify(z, 0).Mode

			var memStatsBefore, memStatsAfter runtime.MemStats
			runtime.ReadMemStats(&memStatsBefore)

			start := time.Now()
			for i := 0; i < frames; i++ {
				manager.RunFrame()
			}
			duration := time.Since(start)

			runtime.ReadMemStats(&memStatsAfter)
			memMB := float64(memStatsAfter.TotalAlloc-memStatsBefore.TotalAlloc) / 1024 / 1024
			gcRuns := memStatsAfter.NumGC - memStatsBefore.NumGC

			fmt.Printf("%-10d | %-8.2f | %-12s | %-15s | %-12.2f | %-10d\n",
				count, z, mode, duration, memMB, gcRuns)
		}

		fmt.Printf("%s\n", "------------------------------------------------------------------------")
	}
}

func main() {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			return
		}
		defer f.Close()

		fmt.Println("Starting CPU profiling...")
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			return
		}
		defer pprof.StopCPUProfile()
	}

	if *testall {
		runProfileBattery(*frames)
	} else {
		runSingleProfile(*numEntities, *frames, float32(*zoom))
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
			return
		}
		defer f.Close()
		runtime.GC() // Get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
		}
	}

	if *heapprofile != "" {
		f, err := os.Create(*heapprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create heap profile: %v\n", err)
			return
		}
		defer f.Close()

		memProfile := pprof.Lookup("heap")
		if memProfile == nil {
			fmt.Fprintf(os.Stderr, "Could not find heap profile\n")
			return
		}

		if err := memProfile.WriteTo(f, 0); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write heap profile: %v\n", err)
		}
	}
}
