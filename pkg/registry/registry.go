// Package registry tracks client devices: when they were first and last
// seen, what they asked for, and their keep-awake toggle. State lives in
// a single JSON file rewritten atomically on every change.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webink/webink/pkg/types"
)

// Update carries the observations from one client request. Empty fields
// leave the stored value alone.
type Update struct {
	Page       string
	Mode       string
	Connection string
	LastLog    string
	Metrics    map[string]any
}

// Registry is the durable device table.
type Registry struct {
	path string

	mu      sync.Mutex
	devices map[string]*types.Device
}

// Open loads the registry file at path. A missing or unreadable file is
// not an error: devices re-register themselves on their next request.
func Open(path string) *Registry {
	r := &Registry{path: path, devices: map[string]*types.Device{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r
	}
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("reading device registry, starting empty")
		return r
	}
	if err := json.Unmarshal(data, &r.devices); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("parsing device registry, starting empty")
		r.devices = map[string]*types.Device{}
		return r
	}
	log.Info().Int("devices", len(r.devices)).Str("path", path).Msg("loaded device registry")
	return r
}

// Touch records a request from a device. First contact creates the
// record; every contact bumps last_seen and the call counter and merges
// the supplied metadata.
func (r *Registry) Touch(name string, upd Update) {
	now := time.Now()
	r.mu.Lock()
	dev, ok := r.devices[name]
	if !ok {
		dev = &types.Device{FirstSeen: now}
		r.devices[name] = dev
		log.Info().Str("device", name).Msg("new device registered")
	}
	dev.LastSeen = now
	dev.APICalls++
	if upd.Page != "" {
		dev.Page = upd.Page
	}
	if upd.Mode != "" {
		dev.Mode = upd.Mode
	}
	if upd.Connection != "" {
		dev.Connection = upd.Connection
	}
	if upd.LastLog != "" {
		dev.LastLog = upd.LastLog
	}
	if upd.Metrics != nil {
		dev.Metrics = upd.Metrics
	}
	r.mu.Unlock()
	r.persist()
}

// SetNextRefresh records when the device said it would be back.
func (r *Registry) SetNextRefresh(name string, at time.Time) {
	r.mu.Lock()
	dev, ok := r.devices[name]
	if ok {
		t := at
		dev.NextRefresh = &t
	}
	r.mu.Unlock()
	if ok {
		r.persist()
	}
}

// SetSleepDisabled flips the keep-awake toggle. Unknown devices are a
// no-op and report false.
func (r *Registry) SetSleepDisabled(name string, disabled bool) bool {
	r.mu.Lock()
	dev, ok := r.devices[name]
	if ok {
		dev.SleepDisabled = disabled
	}
	r.mu.Unlock()
	if ok {
		r.persist()
	}
	return ok
}

// Get returns a copy of one device record.
func (r *Registry) Get(name string) (types.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[name]
	if !ok {
		return types.Device{}, false
	}
	return *dev, true
}

// List returns a copy of all device records keyed by name.
func (r *Registry) List() map[string]types.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]types.Device, len(r.devices))
	for name, dev := range r.devices {
		out[name] = *dev
	}
	return out
}

// persist rewrites the registry file. Failures are logged and otherwise
// ignored: in-memory state stays authoritative and the next write
// catches the file up.
func (r *Registry) persist() {
	r.mu.Lock()
	data, err := json.MarshalIndent(r.devices, "", "  ")
	r.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Msg("encoding device registry")
		return
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".webink-registry-*")
	if err != nil {
		log.Error().Err(err).Msg("creating temp registry file")
		return
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		log.Error().Err(err).Msg("writing device registry")
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		log.Error().Err(err).Msg("closing device registry")
		return
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		log.Error().Err(err).Msg("committing device registry")
	}
}
