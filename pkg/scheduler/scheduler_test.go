package scheduler

import (
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webink/webink/pkg/config"
	"github.com/webink/webink/pkg/snapshot"
)

func whiteImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

type enqueueRecorder struct {
	mu    sync.Mutex
	pages []string
}

func (e *enqueueRecorder) enqueue(pageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pages = append(e.pages, pageID)
	return true
}

func (e *enqueueRecorder) sorted() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := append([]string(nil), e.pages...)
	sort.Strings(out)
	return out
}

func testConfig(t *testing.T, body string) *config.AppConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.LoadAppConfig(path)
	require.NoError(t, err)
	return cfg
}

const twoPageConfig = `
api_key: secret
supported_modes:
  - 10x10x1xB
pages:
  fast:
    url: https://example.com/fast
    refresh_interval: 300
  slow:
    url: https://example.com/slow
    refresh_interval: 600
`

func newScheduler(t *testing.T, cfgBody string) (*Scheduler, *snapshot.Store, *enqueueRecorder) {
	t.Helper()
	cfg := testConfig(t, cfgBody)
	store, err := snapshot.NewStore(t.TempDir())
	require.NoError(t, err)
	rec := &enqueueRecorder{}
	return New(cfg, store, rec.enqueue), store, rec
}

func TestInitialDeadlinesUseEstimatedLead(t *testing.T) {
	s, _, _ := newScheduler(t, twoPageConfig)
	now := time.Now()

	// Two unmeasured pages: lead = 2 * 30s estimate + 5s slack.
	lead := 2*RenderEstimate + RenderSlack
	assert.Equal(t, lead, s.LeadTime())

	status := s.Status(now)
	require.Contains(t, status, "fast")
	require.Contains(t, status, "slow")
	assert.WithinDuration(t, now.Add(300*time.Second-lead), *status["fast"].NextRefresh, 2*time.Second)
	assert.WithinDuration(t, now.Add(600*time.Second-lead), *status["slow"].NextRefresh, 2*time.Second)
	assert.Nil(t, status["fast"].LastRenderDuration)
}

func TestDuePages(t *testing.T) {
	s, _, _ := newScheduler(t, twoPageConfig)
	now := time.Now()

	s.mu.Lock()
	s.state["fast"].nextRenderAt = now.Add(-time.Second)
	s.state["slow"].nextRenderAt = now.Add(time.Hour)
	s.mu.Unlock()

	assert.Equal(t, []string{"fast"}, s.duePages(now))
}

func TestSuppressionWindowSkipsDuePage(t *testing.T) {
	s, _, _ := newScheduler(t, `
api_key: secret
supported_modes:
  - 10x10x1xB
pages:
  quiet:
    url: https://example.com/q
    suppress_refresh:
      start: "01:00"
      end: "08:00"
`)

	inside := time.Date(2025, 6, 1, 2, 0, 0, 0, time.Local)
	outside := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)

	s.mu.Lock()
	s.state["quiet"].nextRenderAt = inside.Add(-time.Minute)
	s.mu.Unlock()

	assert.Empty(t, s.duePages(inside), "no renders inside the suppression window")
	assert.Equal(t, []string{"quiet"}, s.duePages(outside))
}

func TestRenderCompletedAdvancesDeadline(t *testing.T) {
	s, _, _ := newScheduler(t, twoPageConfig)

	s.RenderCompleted("fast", 10*time.Second, nil)
	now := time.Now()

	// fast is measured at 10s, slow still estimated at 30s.
	wantLead := 10*time.Second + RenderEstimate + RenderSlack
	assert.Equal(t, wantLead, s.LeadTime())
	assert.Equal(t, wantLead-RenderSlack, s.TotalRenderTime())

	status := s.Status(now)
	assert.WithinDuration(t, now.Add(300*time.Second-wantLead), *status["fast"].NextRefresh, 2*time.Second)
	require.NotNil(t, status["fast"].LastRenderDuration)
	assert.InDelta(t, 10.0, *status["fast"].LastRenderDuration, 0.01)
}

func TestFailedRenderKeepsDeadline(t *testing.T) {
	s, _, _ := newScheduler(t, twoPageConfig)
	now := time.Now()

	s.mu.Lock()
	s.state["fast"].nextRenderAt = now.Add(-time.Minute)
	s.mu.Unlock()

	s.RenderCompleted("fast", 42*time.Second, assert.AnError)

	assert.Equal(t, []string{"fast"}, s.duePages(now), "a failed render is retried on the next tick")
	assert.Equal(t, 2*RenderEstimate+RenderSlack, s.LeadTime(), "failed renders do not update measurements")
}

func TestRenderCompletedUnknownPage(t *testing.T) {
	s, _, _ := newScheduler(t, twoPageConfig)
	s.RenderCompleted("gone", time.Second, nil)
	assert.NotContains(t, s.Status(time.Now()), "gone")
}

func TestRenderMissingEnqueuesPagesWithoutBitmaps(t *testing.T) {
	s, store, rec := newScheduler(t, twoPageConfig)

	s.renderMissing()
	assert.Equal(t, []string{"fast", "slow"}, rec.sorted())

	// A page with any bitmap on disk is left alone.
	mode := s.cfg.Modes()[0]
	require.NoError(t, store.Put("fast", mode, mode.Dither(whiteImage(10, 10))))

	rec.pages = nil
	s.renderMissing()
	assert.Equal(t, []string{"slow"}, rec.sorted())
}
