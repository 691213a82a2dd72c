// Package renderer turns configured pages into stored bitmaps. A single
// worker serializes all browser work, and the queue drops duplicate
// requests, so each page renders at most once at a time.
package renderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webink/webink/pkg/browser"
	"github.com/webink/webink/pkg/codec"
	"github.com/webink/webink/pkg/config"
	"github.com/webink/webink/pkg/snapshot"
	"github.com/webink/webink/pkg/types"
)

// Capturer is the screenshot capability the renderer drives.
type Capturer interface {
	Capture(ctx context.Context, req browser.CaptureRequest) ([]byte, error)
}

// CompletionFunc receives the outcome of a finished render: how long the
// whole page took across all modes, and the failure if no mode committed.
type CompletionFunc func(pageID string, took time.Duration, err error)

// Renderer owns the render queue and worker.
type Renderer struct {
	cfg      *config.AppConfig
	capturer Capturer
	store    *snapshot.Store
	onDone   CompletionFunc

	mu      sync.Mutex
	pending map[string]bool
	queue   chan string
}

// New wires a renderer. onDone may be nil.
func New(cfg *config.AppConfig, capturer Capturer, store *snapshot.Store, onDone CompletionFunc) *Renderer {
	return &Renderer{
		cfg:      cfg,
		capturer: capturer,
		store:    store,
		onDone:   onDone,
		pending:  map[string]bool{},
		queue:    make(chan string, 64),
	}
}

// Enqueue requests a render of pageID. Requests for a page that is already
// queued or currently rendering are dropped.
func (r *Renderer) Enqueue(pageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[pageID] {
		return false
	}
	select {
	case r.queue <- pageID:
		r.pending[pageID] = true
		return true
	default:
		log.Warn().Str("page_id", pageID).Msg("render queue full, dropping request")
		return false
	}
}

// Start runs the render worker until ctx is cancelled.
func (r *Renderer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pageID := <-r.queue:
			r.renderPage(ctx, pageID)
			r.mu.Lock()
			delete(r.pending, pageID)
			r.mu.Unlock()
		}
	}
}

func (r *Renderer) renderPage(ctx context.Context, pageID string) {
	page, ok := r.cfg.Pages[pageID]
	if !ok {
		log.Warn().Str("page_id", pageID).Msg("render requested for unknown page")
		return
	}

	start := time.Now()
	committed := 0
	var failure error
	for _, mode := range r.cfg.Modes() {
		if err := r.renderMode(ctx, pageID, page, mode); err != nil {
			failure = err
			if errors.Is(err, browser.ErrUnavailable) || ctx.Err() != nil {
				log.Error().Err(err).Str("page_id", pageID).Msg("render aborted")
				break
			}
			log.Error().Err(err).
				Str("page_id", pageID).
				Str("mode", mode.String()).
				Msg("render failed for mode")
			continue
		}
		committed++
	}
	took := time.Since(start)

	if committed == 0 {
		log.Error().Err(failure).Str("page_id", pageID).Msg("render produced no bitmaps")
		if r.onDone != nil {
			r.onDone(pageID, took, failure)
		}
		return
	}
	log.Info().
		Str("page_id", pageID).
		Int("modes", committed).
		Dur("took", took).
		Msg("rendered page")
	if r.onDone != nil {
		r.onDone(pageID, took, nil)
	}
}

// renderMode captures the page at the mode's dimensions and commits the
// dithered result. The viewport is swapped for quarter-turn rotations and
// scaled up by the zoom level; the screenshot is rotated and resampled
// back down to the exact panel size before dithering.
func (r *Renderer) renderMode(ctx context.Context, pageID string, page *types.Page, mode codec.Mode) error {
	rotation := ((page.Rotation % 360) + 360) % 360
	viewW, viewH := mode.Width, mode.Height
	if rotation == 90 || rotation == 270 {
		viewW, viewH = viewH, viewW
	}
	zoom := page.ZoomLevel
	if zoom < 1 {
		zoom = 1
	}

	data, err := r.capturer.Capture(ctx, browser.CaptureRequest{
		URL:             page.URL,
		Width:           int(float64(viewW) * zoom),
		Height:          int(float64(viewH) * zoom),
		ScrollToElement: page.ScrollToElement,
	})
	if err != nil {
		return err
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding screenshot: %w", err)
	}
	img = codec.Rotate(img, rotation)
	img = codec.Resize(img, mode.Width, mode.Height)
	return r.store.Put(pageID, mode, mode.Dither(img))
}
