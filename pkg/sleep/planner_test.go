package sleep

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webink/webink/pkg/config"
	"github.com/webink/webink/pkg/registry"
)

func newPlanner(t *testing.T, cfgBody string) (*Planner, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfgBody), 0o644))
	cfg, err := config.LoadAppConfig(path)
	require.NoError(t, err)
	reg := registry.Open(filepath.Join(dir, "clients.json"))
	return New(cfg, reg), reg
}

func at(hour, min, sec int) time.Time {
	return time.Date(2025, 6, 2, hour, min, sec, 0, time.Local)
}

func TestSleepDisabledReturnsZero(t *testing.T) {
	p, reg := newPlanner(t, `
api_key: secret
supported_modes: [800x480x1xB]
pages:
  dash: {url: https://example.com, refresh_interval: 600}
devices:
  default: {page: dash}
`)
	reg.Touch("kiosk", registry.Update{})
	reg.SetSleepDisabled("kiosk", true)

	assert.Equal(t, 0, p.Seconds("kiosk", at(12, 0, 0)))

	reg.SetSleepDisabled("kiosk", false)
	assert.Equal(t, 600, p.Seconds("kiosk", at(12, 0, 0)))
}

func TestNoPageFallsBackToDefaultInterval(t *testing.T) {
	p, _ := newPlanner(t, `
api_key: secret
supported_modes: [800x480x1xB]
pages:
  dash: {url: https://example.com}
`)
	// No devices configured at all, so nothing resolves.
	assert.Equal(t, 600, p.Seconds("stranger", at(12, 0, 0)))
}

func TestPlainIntervalSleep(t *testing.T) {
	p, _ := newPlanner(t, `
api_key: secret
supported_modes: [800x480x1xB]
pages:
  dash: {url: https://example.com, refresh_interval: 900}
devices:
  default: {page: dash}
`)
	assert.Equal(t, 900, p.Seconds("anyone", at(12, 0, 0)))
}

func TestMandatoryRefreshShortensSleep(t *testing.T) {
	p, _ := newPlanner(t, `
api_key: secret
supported_modes: [800x480x1xB]
pages:
  news:
    url: https://example.com
    refresh_interval: 3600
    mandatory_refresh: ["08:00"]
devices:
  default: {page: news}
`)

	// Five minutes before the mandatory wake.
	assert.Equal(t, 300, p.Seconds("d", at(7, 55, 0)))

	// After it has passed, tomorrow's instant is beyond the interval.
	assert.Equal(t, 3600, p.Seconds("d", at(9, 0, 0)))
}

func TestMandatoryRefreshAtNowWrapsToTomorrow(t *testing.T) {
	p, _ := newPlanner(t, `
api_key: secret
supported_modes: [800x480x1xB]
pages:
  news:
    url: https://example.com
    refresh_interval: 90000
    mandatory_refresh: ["08:00"]
devices:
  default: {page: news}
`)
	assert.Equal(t, 86400, p.Seconds("d", at(8, 0, 0)))
}

func TestEarliestMandatoryWins(t *testing.T) {
	p, _ := newPlanner(t, `
api_key: secret
supported_modes: [800x480x1xB]
pages:
  news:
    url: https://example.com
    refresh_interval: 36000
    mandatory_refresh: ["12:00", "09:00"]
devices:
  default: {page: news}
`)
	assert.Equal(t, 3600, p.Seconds("d", at(8, 0, 0)))
}

func TestSleepInsideSuppressionWindow(t *testing.T) {
	p, _ := newPlanner(t, `
api_key: secret
supported_modes: [800x480x1xB]
pages:
  night:
    url: https://example.com
    refresh_interval: 600
    suppress_refresh: {start: "01:00", end: "06:00"}
devices:
  default: {page: night}
`)

	// At 02:30 the device sleeps through to 06:00.
	assert.Equal(t, 12600, p.Seconds("d", at(2, 30, 0)))
}

func TestSleepUntilSuppressionStarts(t *testing.T) {
	p, _ := newPlanner(t, `
api_key: secret
supported_modes: [800x480x1xB]
pages:
  night:
    url: https://example.com
    refresh_interval: 3600
    suppress_refresh: {start: "01:00", end: "06:00"}
devices:
  default: {page: night}
`)

	// The window opens within the interval, so wake exactly at its start.
	assert.Equal(t, 1800, p.Seconds("d", at(0, 30, 0)))
}

func TestSuppressionBeyondIntervalIgnored(t *testing.T) {
	p, _ := newPlanner(t, `
api_key: secret
supported_modes: [800x480x1xB]
pages:
  night:
    url: https://example.com
    refresh_interval: 600
    suppress_refresh: {start: "01:00", end: "06:00"}
devices:
  default: {page: night}
`)
	assert.Equal(t, 600, p.Seconds("d", at(23, 0, 0)))
}

func TestEmptySuppressionWindowIgnored(t *testing.T) {
	p, _ := newPlanner(t, `
api_key: secret
supported_modes: [800x480x1xB]
pages:
  odd:
    url: https://example.com
    refresh_interval: 600
    suppress_refresh: {start: "05:00", end: "05:00"}
devices:
  default: {page: odd}
`)
	assert.Equal(t, 600, p.Seconds("d", at(5, 0, 0)))
}

func TestSleepNeverZeroWhenEnabled(t *testing.T) {
	p, _ := newPlanner(t, `
api_key: secret
supported_modes: [800x480x1xB]
pages:
  night:
    url: https://example.com
    refresh_interval: 600
    suppress_refresh: {start: "01:00", end: "06:00"}
devices:
  default: {page: night}
`)

	// Still inside the window's final minute, past its end instant.
	assert.Equal(t, 1, p.Seconds("d", at(6, 0, 30)))
}
