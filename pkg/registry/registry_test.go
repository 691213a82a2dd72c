package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "clients.json")
}

func TestTouchRegistersAndCounts(t *testing.T) {
	r := Open(registryPath(t))

	r.Touch("living-room", Update{Page: "dashboard", Mode: "800x480x1xB", Connection: "http"})
	dev, ok := r.Get("living-room")
	require.True(t, ok)
	assert.Equal(t, 1, dev.APICalls)
	assert.Equal(t, "dashboard", dev.Page)
	assert.Equal(t, "800x480x1xB", dev.Mode)
	assert.Equal(t, "http", dev.Connection)
	assert.WithinDuration(t, time.Now(), dev.FirstSeen, 2*time.Second)
	assert.Equal(t, dev.FirstSeen, dev.LastSeen)

	// A later call with no metadata keeps what we knew.
	r.Touch("living-room", Update{})
	dev, _ = r.Get("living-room")
	assert.Equal(t, 2, dev.APICalls)
	assert.Equal(t, "800x480x1xB", dev.Mode)
	assert.False(t, dev.LastSeen.Before(dev.FirstSeen))
}

func TestTouchMergesMetadata(t *testing.T) {
	r := Open(registryPath(t))

	r.Touch("desk", Update{Mode: "800x480x1xB"})
	r.Touch("desk", Update{LastLog: "booted", Metrics: map[string]any{"battery": 87.5}})

	dev, _ := r.Get("desk")
	assert.Equal(t, "800x480x1xB", dev.Mode)
	assert.Equal(t, "booted", dev.LastLog)
	assert.Equal(t, 87.5, dev.Metrics["battery"])
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := registryPath(t)

	first := Open(path)
	first.Touch("kitchen", Update{Mode: "800x480x2xG", Connection: "socket"})
	first.SetNextRefresh("kitchen", time.Now().Add(10*time.Minute))

	second := Open(path)
	dev, ok := second.Get("kitchen")
	require.True(t, ok)
	assert.Equal(t, 1, dev.APICalls)
	assert.Equal(t, "800x480x2xG", dev.Mode)
	assert.Equal(t, "socket", dev.Connection)
	require.NotNil(t, dev.NextRefresh)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *dev.NextRefresh, 2*time.Second)
}

func TestOpenToleratesCorruptFile(t *testing.T) {
	path := registryPath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	r := Open(path)
	assert.Empty(t, r.List())

	// And the next write repairs the file.
	r.Touch("fresh", Update{})
	again := Open(path)
	_, ok := again.Get("fresh")
	assert.True(t, ok)
}

func TestSetSleepDisabled(t *testing.T) {
	r := Open(registryPath(t))

	assert.False(t, r.SetSleepDisabled("ghost", true), "unknown devices are a no-op")

	r.Touch("porch", Update{})
	assert.True(t, r.SetSleepDisabled("porch", true))
	dev, _ := r.Get("porch")
	assert.True(t, dev.SleepDisabled)

	assert.True(t, r.SetSleepDisabled("porch", false))
	dev, _ = r.Get("porch")
	assert.False(t, dev.SleepDisabled)
}

func TestListCopies(t *testing.T) {
	r := Open(registryPath(t))
	r.Touch("a", Update{})
	r.Touch("b", Update{})

	list := r.List()
	assert.Len(t, list, 2)

	entry := list["a"]
	entry.APICalls = 99
	dev, _ := r.Get("a")
	assert.Equal(t, 1, dev.APICalls, "mutating the listing does not touch the registry")
}
