package host

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"web/beaconscope/governor"
	"web/beaconscope/scene"
)

// Scene is one loaded scene: its governor manager plus bookkeeping. Frame
// execution is serialized per scene by the manager itself.
type Scene struct {
	ID          string
	NumEntities int
	Manager     *governor.Manager
	Beacons     *governor.BeaconModule
}

// SceneInfo describes a saved scene file.
type SceneInfo struct {
	ID          string    `json:"id"`
	NumEntities int       `json:"numEntities"`
	Timestamp   time.Time `json:"timestamp"`
	FileSize    int64     `json:"fileSize"`
}

// SceneHost keeps a bounded set of scenes resident, evicting the least
// recently used one when a new scene would exceed the limit. Evicted scenes
// stay on disk and reload on demand.
type SceneHost struct {
	scenes       map[string]*Scene
	sceneLock    sync.Mutex
	lastAccessed map[string]time.Time
	maxScenes    int
	cfg          governor.FileConfig
	done         chan struct{}
}

func NewSceneHost(cfg governor.FileConfig, maxScenes int) (*SceneHost, error) {
	if maxScenes <= 0 {
		maxScenes = 4
	}
	if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scenes directory: %v", err)
	}

	h := &SceneHost{
		scenes:       make(map[string]*Scene),
		lastAccessed: make(map[string]time.Time),
		maxScenes:    maxScenes,
		cfg:          cfg,
		done:         make(chan struct{}),
	}
	go h.cleanupInactiveScenes()
	return h, nil
}

func (h *SceneHost) Close() {
	close(h.done)
}

// newScene wires a fresh manager with the standard module set.
func (h *SceneHost) newScene(id string, entities []scene.Entity) (*Scene, error) {
	manager := governor.NewManager(h.cfg.Governor, nil)
	beacons := governor.NewBeaconModule(h.cfg.Cluster, h.cfg.LOD)
	if err := manager.Register(beacons, h.cfg.Beacons); err != nil {
		return nil, err
	}
	connections := governor.NewConnectionModule(h.cfg.LOD, h.cfg.ConnectionRadius)
	if err := manager.Register(connections, h.cfg.Connections); err != nil {
		return nil, err
	}
	manager.SetEntities(entities)
	manager.SetViewport(scene.NewViewport(1280, 720))

	return &Scene{
		ID:          id,
		NumEntities: len(entities),
		Manager:     manager,
		Beacons:     beacons,
	}, nil
}

// CreateScene generates a scene of numEntities test beacons, persists it and
// makes it resident.
func (h *SceneHost) CreateScene(numEntities int) (SceneInfo, error) {
	fmt.Printf("Creating new scene with %d entities\n", numEntities)

	bounds := scene.Rect{MinX: -10000, MinY: -10000, MaxX: 10000, MaxY: 10000}
	entities := scene.GenerateTestEntities(numEntities, bounds, time.Now().UnixNano())

	savePath := generateSceneFilename(h.cfg.Server.DataDir, numEntities)
	fmt.Printf("Saving new scene to %s...\n", savePath)
	if err := scene.SaveCompressed(savePath, entities); err != nil {
		return SceneInfo{}, fmt.Errorf("failed to save scene: %v", err)
	}

	info, err := parseSceneFilename(savePath)
	if err != nil {
		return SceneInfo{}, err
	}

	s, err := h.newScene(info.ID, entities)
	if err != nil {
		return SceneInfo{}, err
	}

	h.sceneLock.Lock()
	h.evictIfFullLocked()
	h.scenes[info.ID] = s
	h.lastAccessed[info.ID] = time.Now()
	h.sceneLock.Unlock()

	return info, nil
}

// GetScene returns a resident scene, loading it from disk if needed.
func (h *SceneHost) GetScene(id string) (*Scene, error) {
	if err := h.loadSceneIfNeeded(id); err != nil {
		return nil, err
	}
	h.sceneLock.Lock()
	defer h.sceneLock.Unlock()
	s, exists := h.scenes[id]
	if !exists {
		return nil, fmt.Errorf("scene %s not loaded", id)
	}
	h.lastAccessed[id] = time.Now()
	return s, nil
}

// LoadScene makes a saved scene resident and returns its file info.
func (h *SceneHost) LoadScene(id string) (SceneInfo, error) {
	if err := h.loadSceneIfNeeded(id); err != nil {
		return SceneInfo{}, err
	}
	path, err := h.findSceneFile(id)
	if err != nil {
		return SceneInfo{}, err
	}
	return parseSceneFilename(path)
}

func (h *SceneHost) loadSceneIfNeeded(id string) error {
	h.sceneLock.Lock()
	defer h.sceneLock.Unlock()

	if _, exists := h.scenes[id]; exists {
		h.lastAccessed[id] = time.Now()
		return nil
	}

	h.evictIfFullLocked()

	sceneFile, err := h.findSceneFile(id)
	if err != nil {
		return err
	}

	loadStart := time.Now()
	entities, err := scene.LoadCompressedSnapshot(sceneFile)
	if err != nil {
		return fmt.Errorf("failed to load scene %s: %v", id, err)
	}
	fmt.Printf("Scene %s loaded from file in %v\n", id, time.Since(loadStart))

	s, err := h.newScene(id, entities)
	if err != nil {
		return err
	}
	h.scenes[id] = s
	h.lastAccessed[id] = time.Now()
	return nil
}

// evictIfFullLocked drops the least recently used scene when at capacity.
// Caller holds sceneLock.
func (h *SceneHost) evictIfFullLocked() {
	if len(h.scenes) < h.maxScenes {
		return
	}
	var oldestID string
	var oldestTime time.Time
	first := true
	for id, accessTime := range h.lastAccessed {
		if first || accessTime.Before(oldestTime) {
			oldestID = id
			oldestTime = accessTime
			first = false
		}
	}
	if oldestID != "" {
		delete(h.scenes, oldestID)
		delete(h.lastAccessed, oldestID)
		fmt.Printf("Evicted scene %s\n", oldestID)
	}
}

func (h *SceneHost) cleanupInactiveScenes() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
		}

		h.sceneLock.Lock()
		now := time.Now()
		var toRemove []string
		for id, lastAccess := range h.lastAccessed {
			if now.Sub(lastAccess) > 30*time.Minute {
				toRemove = append(toRemove, id)
			}
		}
		for _, id := range toRemove {
			delete(h.scenes, id)
			delete(h.lastAccessed, id)
			fmt.Printf("Removed inactive scene %s\n", id)
		}
		h.sceneLock.Unlock()
	}
}

func (h *SceneHost) findSceneFile(id string) (string, error) {
	files, err := os.ReadDir(h.cfg.Server.DataDir)
	if err != nil {
		return "", fmt.Errorf("failed to read scenes directory: %v", err)
	}
	for _, file := range files {
		if strings.Contains(file.Name(), id) && strings.HasSuffix(file.Name(), ".zst") {
			return filepath.Join(h.cfg.Server.DataDir, file.Name()), nil
		}
	}
	return "", fmt.Errorf("no scene file found with id %s", id)
}

// ListSavedScenes scans the data directory, newest first.
func (h *SceneHost) ListSavedScenes() ([]SceneInfo, error) {
	files, err := os.ReadDir(h.cfg.Server.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenes directory: %v", err)
	}

	scenes := make([]SceneInfo, 0)
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".zst" {
			continue
		}
		info, err := parseSceneFilename(filepath.Join(h.cfg.Server.DataDir, file.Name()))
		if err != nil {
			fmt.Printf("Skipping %s: %v\n", file.Name(), err)
			continue
		}
		scenes = append(scenes, info)
	}

	sort.Slice(scenes, func(i, j int) bool {
		return scenes[i].Timestamp.After(scenes[j].Timestamp)
	})
	return scenes, nil
}

func generateSceneFilename(dir string, numEntities int) string {
	timestamp := time.Now().Format("20060102-150405")
	id := uuid.New().String()[:8]
	return filepath.Join(dir, fmt.Sprintf("scene-%db-%s-%s.zst", numEntities, timestamp, id))
}

// parseSceneFilename decodes scene-{numEntities}b-{timestamp}-{id}.zst.
func parseSceneFilename(path string) (SceneInfo, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".zst")
	parts := strings.Split(name, "-")
	if len(parts) != 5 || parts[0] != "scene" {
		return SceneInfo{}, fmt.Errorf("invalid scene filename %s", name)
	}

	numEntities, err := strconv.Atoi(strings.TrimSuffix(parts[1], "b"))
	if err != nil {
		return SceneInfo{}, fmt.Errorf("invalid entity count in %s: %v", name, err)
	}
	timestamp, err := time.Parse("20060102-150405", parts[2]+"-"+parts[3])
	if err != nil {
		return SceneInfo{}, fmt.Errorf("invalid timestamp in %s: %v", name, err)
	}

	info := SceneInfo{
		ID:          parts[4],
		NumEntities: numEntities,
		Timestamp:   timestamp,
	}
	if fi, err := os.Stat(path); err == nil {
		info.FileSize = fi.Size()
	}
	return info, nil
}
