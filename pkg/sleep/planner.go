// Package sleep computes how long a device should sleep before its next
// request: the page's refresh interval, shortened by upcoming mandatory
// refresh times and suppression windows.
package sleep

import (
	"time"

	"github.com/webink/webink/pkg/config"
	"github.com/webink/webink/pkg/registry"
	"github.com/webink/webink/pkg/types"
)

// Planner derives per-device sleep durations from page configuration and
// the device's keep-awake toggle.
type Planner struct {
	cfg *config.AppConfig
	reg *registry.Registry
}

// New wires a planner.
func New(cfg *config.AppConfig, reg *registry.Registry) *Planner {
	return &Planner{cfg: cfg, reg: reg}
}

// Seconds returns how long the device should sleep from now. Zero is
// reserved for devices whose sleep is disabled; every other answer is at
// least one second.
func (p *Planner) Seconds(device string, now time.Time) int {
	if dev, ok := p.reg.Get(device); ok && dev.SleepDisabled {
		return 0
	}
	_, page, ok := p.cfg.PageForDevice(device)
	if !ok {
		return types.DefaultRefreshInterval
	}

	candidate := page.RefreshEvery()

	// A mandatory wake sooner than the interval wins. Times at or before
	// now roll over to tomorrow.
	for _, t := range page.MandatoryRefresh {
		if delta := t.NextAfter(now).Sub(now); delta < candidate {
			candidate = delta
		}
	}

	// Inside a suppression window the device sleeps through to its end;
	// a window opening before the candidate wake pulls the wake forward
	// so the device checks in right as suppression starts.
	if w := page.SuppressRefresh; w != nil && w.Start != w.End {
		if w.Contains(now) {
			candidate = w.EndInstant(now).Sub(now)
		} else if delta := w.Start.NextAfter(now).Sub(now); delta < candidate {
			candidate = delta
		}
	}

	secs := int(candidate / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
