package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/webink/webink/pkg/codec"
	"github.com/webink/webink/pkg/types"
)

// DefaultDevice is the synthetic device entry consulted for devices that
// have no configuration of their own.
const DefaultDevice = "default"

// AppConfig is the operator-edited YAML file: which pages to render, which
// devices show them, and which display modes to pre-render. Unknown YAML
// fields are ignored.
type AppConfig struct {
	APIKey         string                         `yaml:"api_key"`
	HTTPPort       int                            `yaml:"http_port"`
	SocketPort     int                            `yaml:"socket_port"`
	SupportedModes []string                       `yaml:"supported_modes"`
	Pages          map[string]*types.Page         `yaml:"pages"`
	Devices        map[string]*types.DeviceConfig `yaml:"devices"`

	modes []codec.Mode
}

// LoadAppConfig reads and validates the YAML file at path, writing a
// commented starter file first if none exists.
func LoadAppConfig(path string) (*AppConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path); err != nil {
			return nil, fmt.Errorf("creating default config: %w", err)
		}
		log.Info().Str("path", path).Msg("created default config file, edit it and restart")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *AppConfig) normalize() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key must be set")
	}
	if len(c.SupportedModes) == 0 {
		return fmt.Errorf("supported_modes must list at least one mode")
	}
	seen := map[string]bool{}
	for _, raw := range c.SupportedModes {
		mode, err := codec.ParseMode(raw)
		if err != nil {
			return err
		}
		if seen[mode.String()] {
			continue
		}
		seen[mode.String()] = true
		c.modes = append(c.modes, mode)
	}

	if c.Pages == nil {
		c.Pages = map[string]*types.Page{}
	}
	for id, page := range c.Pages {
		if page == nil {
			return fmt.Errorf("page %q has no settings", id)
		}
		if page.URL == "" {
			return fmt.Errorf("page %q has no url", id)
		}
		if page.RefreshInterval == 0 {
			page.RefreshInterval = types.DefaultRefreshInterval
		}
		if page.RefreshInterval < 0 {
			return fmt.Errorf("page %q: refresh_interval must be positive", id)
		}
		if page.ZoomLevel == 0 {
			page.ZoomLevel = 1
		}
		if page.ZoomLevel < 1 {
			return fmt.Errorf("page %q: zoom_level must be at least 1", id)
		}
		switch page.Rotation {
		case -90, 0, 90, 180:
		default:
			return fmt.Errorf("page %q: rotation must be one of -90, 0, 90, 180", id)
		}
		if err := page.SuppressRefresh.Validate(); err != nil {
			return fmt.Errorf("page %q: %w", id, err)
		}
	}

	if c.Devices == nil {
		c.Devices = map[string]*types.DeviceConfig{}
	}
	for name, dev := range c.Devices {
		if dev == nil || dev.Page == "" {
			return fmt.Errorf("device %q has no page", name)
		}
		if _, ok := c.Pages[dev.Page]; !ok {
			log.Warn().Str("device", name).Str("page", dev.Page).Msg("device references an unknown page")
		}
	}
	return nil
}

// Modes returns the parsed supported mode list, duplicates removed.
func (c *AppConfig) Modes() []codec.Mode {
	return c.modes
}

// ModeSupported reports whether raw names one of the configured modes.
func (c *AppConfig) ModeSupported(raw string) (codec.Mode, bool) {
	mode, err := codec.ParseMode(raw)
	if err != nil {
		return codec.Mode{}, false
	}
	for _, m := range c.modes {
		if m == mode {
			return mode, true
		}
	}
	return codec.Mode{}, false
}

// PageForDevice resolves which page a device displays, falling back to
// the "default" device entry for unknown devices.
func (c *AppConfig) PageForDevice(device string) (string, *types.Page, bool) {
	dev, ok := c.Devices[device]
	if !ok {
		dev, ok = c.Devices[DefaultDevice]
	}
	if !ok {
		return "", nil, false
	}
	page, ok := c.Pages[dev.Page]
	if !ok {
		return "", nil, false
	}
	return dev.Page, page, true
}

const defaultConfig = `# webInk server configuration.
#
# Every page listed here is rendered on its own refresh interval in every
# supported display mode. Devices pick which page they show; clients the
# server has never seen inherit the "default" device's page.

api_key: myapikey

supported_modes:
  - 800x480x1xB
  - 800x480x2xG
  - 800x480x2xRGB
  - 800x480x8xRGB
  - 1600x1200x1xB

pages:
  nytimes:
    url: https://nytimes.com
    refresh_interval: 300
  google:
    url: https://google.com
    suppress_refresh:
      start: "01:00"
      end: "08:00"
    mandatory_refresh:
      - "08:00"

devices:
  default:
    page: nytimes
`

func writeDefault(path string) error {
	return os.WriteFile(path, []byte(defaultConfig), 0o644)
}
