package types

import (
	"fmt"
	"time"
)

// DefaultRefreshInterval is the page refresh cadence used when a page does
// not set one, and the sleep duration handed to devices with no page at all.
const DefaultRefreshInterval = 600

// Page describes a single web page the server keeps rendered.
type Page struct {
	URL              string       `json:"url" yaml:"url"`
	RefreshInterval  int          `json:"refresh_interval" yaml:"refresh_interval"`
	ZoomLevel        float64      `json:"zoom_level" yaml:"zoom_level"`
	Rotation         int          `json:"rotation" yaml:"rotation"`
	ScrollToElement  string       `json:"scroll_to_element,omitempty" yaml:"scroll_to_element"`
	SuppressRefresh  *ClockWindow `json:"suppress_refresh,omitempty" yaml:"suppress_refresh"`
	MandatoryRefresh []ClockTime  `json:"mandatory_refresh,omitempty" yaml:"mandatory_refresh"`
}

// RefreshEvery returns the page's refresh interval as a duration.
func (p *Page) RefreshEvery() time.Duration {
	interval := p.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return time.Duration(interval) * time.Second
}

// DeviceConfig is the static configuration for a device: which page it shows.
// The synthetic "default" entry is consulted for devices we have never heard of.
type DeviceConfig struct {
	Page string `json:"page" yaml:"page"`
}

// Device is the registry record for a client device. Everything in here is
// runtime state observed from the device's requests; the page it displays
// is resolved from configuration and recorded for operators.
type Device struct {
	Page          string         `json:"page,omitempty"`
	FirstSeen     time.Time      `json:"first_seen"`
	LastSeen      time.Time      `json:"last_seen"`
	APICalls      int            `json:"api_calls"`
	Mode          string         `json:"mode,omitempty"`
	Connection    string         `json:"connection_type,omitempty"`
	LastLog       string         `json:"last_log,omitempty"`
	Metrics       map[string]any `json:"metrics,omitempty"`
	NextRefresh   *time.Time     `json:"next_refresh,omitempty"`
	SleepDisabled bool           `json:"sleep_disabled"`
}

// ClockTime is a wall-clock time of day (HH:MM, local time).
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" into a ClockTime.
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// At returns the instant of this clock time on the same day as ref.
func (c ClockTime) At(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), c.Hour, c.Minute, 0, 0, ref.Location())
}

// NextAfter returns the next instant of this clock time at or after ref. A
// clock time at or before ref's time of day rolls over to tomorrow.
func (c ClockTime) NextAfter(ref time.Time) time.Time {
	next := c.At(ref)
	if !next.After(ref) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// MinutesSinceMidnight positions the clock time within a day, for window
// comparisons.
func (c ClockTime) MinutesSinceMidnight() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", c.String())), nil
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	return c.unmarshalString(string(data))
}

func (c *ClockTime) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c *ClockTime) unmarshalString(raw string) error {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	parsed, err := ParseClockTime(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ClockWindow is a daily time window, inclusive on both ends. Windows may
// not cross midnight; config loading rejects start > end. A window whose
// start equals its end is treated as absent.
type ClockWindow struct {
	Start ClockTime `json:"start" yaml:"start"`
	End   ClockTime `json:"end" yaml:"end"`
}

// Contains reports whether the time of day of t falls inside the window.
func (w *ClockWindow) Contains(t time.Time) bool {
	if w == nil || w.Start == w.End {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= w.Start.MinutesSinceMidnight() && minutes <= w.End.MinutesSinceMidnight()
}

// EndInstant returns the instant the window closes on the same day as ref.
func (w *ClockWindow) EndInstant(ref time.Time) time.Time {
	return w.End.At(ref)
}

// Validate rejects windows that would cross midnight.
func (w *ClockWindow) Validate() error {
	if w == nil {
		return nil
	}
	if w.Start.MinutesSinceMidnight() > w.End.MinutesSinceMidnight() {
		return fmt.Errorf("suppress_refresh window %s-%s crosses midnight", w.Start, w.End)
	}
	return nil
}
