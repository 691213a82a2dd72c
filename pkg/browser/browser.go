// Package browser drives headless Chrome over the DevTools protocol. It
// either attaches to an existing instance or launches its own, and turns
// a URL plus viewport into PNG screenshot bytes.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/webink/webink/pkg/config"
)

// ErrUnavailable means no browser could be reached. Renders fail for the
// current attempt and are retried by the scheduler later.
var ErrUnavailable = errors.New("browser unavailable")

// CaptureRequest describes one screenshot: a URL rendered at an exact
// viewport, optionally scrolled to a CSS selector first.
type CaptureRequest struct {
	URL             string
	Width           int
	Height          int
	ScrollToElement string
}

// Browser owns the Chrome connection. A fresh page is created per capture
// and closed afterwards so pages never leak state into each other.
type Browser struct {
	cfg config.Browser

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// New returns an unconnected Browser. Connect happens in Start or lazily
// on first capture.
func New(cfg config.Browser) *Browser {
	return &Browser{cfg: cfg}
}

// Start connects to Chrome, retrying a few times to ride out slow starts
// of a sidecar container. Failure is not fatal: captures keep trying to
// reconnect.
func (b *Browser) Start(ctx context.Context) error {
	err := retry.Do(
		func() error { return b.ensureConnected() },
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
	)
	if err != nil {
		log.Warn().Err(err).Msg("browser not reachable at startup, will retry per render")
	}
	return nil
}

// Close shuts down the Chrome connection and any process we launched.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			log.Warn().Err(err).Msg("closing browser")
		}
		b.browser = nil
	}
	if b.launcher != nil {
		b.launcher.Cleanup()
		b.launcher = nil
	}
}

func (b *Browser) ensureConnected() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return nil
	}

	url := b.cfg.ChromeURL
	if url == "" {
		l := launcher.New().Headless(true)
		launched, err := l.Launch()
		if err != nil {
			return fmt.Errorf("%w: launching chrome: %v", ErrUnavailable, err)
		}
		b.launcher = l
		url = launched
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("%w: connecting to %s: %v", ErrUnavailable, url, err)
	}
	b.browser = browser
	log.Info().Str("control_url", url).Msg("connected to browser")
	return nil
}

func (b *Browser) current() (*rod.Browser, error) {
	if err := b.ensureConnected(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.browser, nil
}

// Capture renders the request in a fresh page and returns PNG bytes.
func (b *Browser) Capture(ctx context.Context, req CaptureRequest) ([]byte, error) {
	browser, err := b.current()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		b.drop()
		return nil, fmt.Errorf("%w: opening page: %v", ErrUnavailable, err)
	}
	defer page.Close()
	page = page.Context(ctx)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             req.Width,
		Height:            req.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("setting viewport %dx%d: %w", req.Width, req.Height, err)
	}

	timed := page.Timeout(b.cfg.NavigateTimeout)
	wait := timed.WaitEvent(&proto.PageDomContentEventFired{})
	if err := timed.Navigate(req.URL); err != nil {
		return nil, fmt.Errorf("navigating to %s: %w", req.URL, err)
	}
	wait()
	if err := timed.GetContext().Err(); err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", req.URL, err)
	}

	// Give scripts a moment to paint before we screenshot.
	if err := pause(ctx, b.cfg.SettleDelay); err != nil {
		return nil, err
	}

	if req.ScrollToElement != "" {
		found, el, err := page.Has(req.ScrollToElement)
		if err != nil {
			return nil, fmt.Errorf("finding element %q: %w", req.ScrollToElement, err)
		}
		if !found {
			return nil, fmt.Errorf("element %q not found on %s", req.ScrollToElement, req.URL)
		}
		if err := el.ScrollIntoView(); err != nil {
			return nil, fmt.Errorf("scrolling to %q: %w", req.ScrollToElement, err)
		}
		if err := pause(ctx, b.cfg.ScrollDelay); err != nil {
			return nil, err
		}
	}

	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot of %s: %w", req.URL, err)
	}
	return data, nil
}

// drop forgets a dead connection so the next capture reconnects.
func (b *Browser) drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.browser = nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
