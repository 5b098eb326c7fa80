package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/beaconscope/governor"
)

func testHost(t *testing.T, maxScenes int) *SceneHost {
	t.Helper()
	cfg := governor.DefaultFileConfig()
	cfg.Server.DataDir = t.TempDir()

	h, err := NewSceneHost(cfg, maxScenes)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

func TestCreateAndListScenes(t *testing.T) {
	h := testHost(t, 4)

	info, err := h.CreateScene(500)
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, 500, info.NumEntities)
	assert.Greater(t, info.FileSize, int64(0))

	scenes, err := h.ListSavedScenes()
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, info.ID, scenes[0].ID)
	assert.Equal(t, 500, scenes[0].NumEntities)
}

func TestGetSceneRunsFrames(t *testing.T) {
	h := testHost(t, 4)

	info, err := h.CreateScene(1000)
	require.NoError(t, err)

	s, err := h.GetScene(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000, s.NumEntities)

	// Zoom out far enough that the whole field is in view.
	s.Manager.SetTransform(0, 0, 0.05)
	result := s.Manager.RunFrame()
	assert.NotEmpty(t, result.Instructions, "a fresh scene should produce draw output")
}

func TestLoadSceneFromDisk(t *testing.T) {
	cfg := governor.DefaultFileConfig()
	cfg.Server.DataDir = t.TempDir()

	first, err := NewSceneHost(cfg, 4)
	require.NoError(t, err)
	info, err := first.CreateScene(300)
	require.NoError(t, err)
	first.Close()

	// A fresh host sees only the files on disk.
	second, err := NewSceneHost(cfg, 4)
	require.NoError(t, err)
	defer second.Close()

	loaded, err := second.LoadScene(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, loaded.ID)
	assert.Equal(t, 300, loaded.NumEntities)

	s, err := second.GetScene(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 300, s.NumEntities)
}

func TestGetSceneUnknownID(t *testing.T) {
	h := testHost(t, 4)

	_, err := h.GetScene("deadbeef")
	assert.Error(t, err)
}

func TestEvictionKeepsScenesLoadable(t *testing.T) {
	h := testHost(t, 2)

	var ids []string
	for i := 0; i < 3; i++ {
		info, err := h.CreateScene(100)
		require.NoError(t, err)
		ids = append(ids, info.ID)
	}

	// The first scene was evicted to stay under the limit, but it reloads
	// transparently from disk.
	for _, id := range ids {
		s, err := h.GetScene(id)
		require.NoError(t, err)
		assert.Equal(t, 100, s.NumEntities)
	}

	scenes, err := h.ListSavedScenes()
	require.NoError(t, err)
	assert.Len(t, scenes, 3)
}
