// Package scheduler decides when pages re-render. Every page's deadline
// is pulled forward by the total measured render time plus a slack, so a
// device waking exactly on its refresh interval finds a fresh bitmap.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webink/webink/pkg/config"
	"github.com/webink/webink/pkg/snapshot"
)

const (
	// RenderEstimate stands in for the render time of a page that has
	// never been measured.
	RenderEstimate = 30 * time.Second
	// RenderSlack pads the lead time so renders land before devices wake.
	RenderSlack = 5 * time.Second
	// tickInterval is how often due pages are looked for.
	tickInterval = time.Second
)

type pageState struct {
	nextRenderAt time.Time
	lastDuration time.Duration
	measured     bool
}

// EnqueueFunc hands a page to the render queue. It reports false when the
// page was already queued or rendering.
type EnqueueFunc func(pageID string) bool

// Scheduler owns per-page refresh deadlines.
type Scheduler struct {
	cfg     *config.AppConfig
	store   *snapshot.Store
	enqueue EnqueueFunc

	mu    sync.Mutex
	state map[string]*pageState
}

// New seeds every page's first deadline from the estimated lead time.
func New(cfg *config.AppConfig, store *snapshot.Store, enqueue EnqueueFunc) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		store:   store,
		enqueue: enqueue,
		state:   map[string]*pageState{},
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	lead := s.leadLocked()
	for id, page := range cfg.Pages {
		s.state[id] = &pageState{nextRenderAt: now.Add(page.RefreshEvery() - lead)}
	}
	return s
}

// Start renders pages that have no bitmap at all yet, then ticks once a
// second enqueueing due pages until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.renderMissing()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(tickInterval):
			s.tick(time.Now())
		}
	}
}

func (s *Scheduler) renderMissing() {
	var missing []string
	for id := range s.cfg.Pages {
		if !s.hasAnyBitmap(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		log.Info().Msg("all pages have existing bitmaps")
		return
	}
	log.Info().Strs("pages", missing).Msg("rendering initial bitmaps")
	for _, id := range missing {
		s.enqueue(id)
	}
}

func (s *Scheduler) hasAnyBitmap(pageID string) bool {
	for _, mode := range s.cfg.Modes() {
		if s.store.Exists(pageID, mode) {
			return true
		}
	}
	return false
}

func (s *Scheduler) tick(now time.Time) {
	for _, id := range s.duePages(now) {
		s.enqueue(id)
	}
}

// duePages returns pages whose deadline has passed and that are not inside
// their suppression window.
func (s *Scheduler) duePages(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []string
	for id, page := range s.cfg.Pages {
		st, ok := s.state[id]
		if !ok || now.Before(st.nextRenderAt) {
			continue
		}
		if page.SuppressRefresh.Contains(now) {
			continue
		}
		due = append(due, id)
	}
	return due
}

// RenderCompleted records a finished render and moves the page's deadline
// forward. A render that committed nothing leaves the deadline in the
// past, so the next tick tries again.
func (s *Scheduler) RenderCompleted(pageID string, took time.Duration, err error) {
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[pageID]
	page, cfgOK := s.cfg.Pages[pageID]
	if !ok || !cfgOK {
		return
	}
	st.lastDuration = took
	st.measured = true

	lead := s.leadLocked()
	st.nextRenderAt = time.Now().Add(page.RefreshEvery() - lead)
	log.Info().
		Str("page_id", pageID).
		Time("next_render_at", st.nextRenderAt).
		Dur("lead", lead).
		Dur("render_total", lead-RenderSlack).
		Msg("scheduled next render")
}

// leadLocked is the summed render time of all pages plus slack. Pages
// never measured count as RenderEstimate.
func (s *Scheduler) leadLocked() time.Duration {
	total := time.Duration(0)
	for id := range s.cfg.Pages {
		if st, ok := s.state[id]; ok && st.measured {
			total += st.lastDuration
		} else {
			total += RenderEstimate
		}
	}
	return total + RenderSlack
}

// LeadTime is the current lead applied to every deadline.
func (s *Scheduler) LeadTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leadLocked()
}

// TotalRenderTime is the summed per-page render time without slack.
func (s *Scheduler) TotalRenderTime() time.Duration {
	return s.LeadTime() - RenderSlack
}

// PageStatus is the schedule view served to the dashboard.
type PageStatus struct {
	NextRefresh        *time.Time `json:"next_refresh"`
	SecondsUntil       *float64   `json:"seconds_until"`
	LastRenderDuration *float64   `json:"last_render_duration"`
}

// Status reports every page's deadline relative to now.
func (s *Scheduler) Status(now time.Time) map[string]PageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]PageStatus, len(s.state))
	for id, st := range s.state {
		status := PageStatus{}
		at := st.nextRenderAt
		status.NextRefresh = &at
		until := at.Sub(now).Seconds()
		status.SecondsUntil = &until
		if st.measured {
			secs := st.lastDuration.Seconds()
			status.LastRenderDuration = &secs
		}
		out[id] = status
	}
	return out
}
