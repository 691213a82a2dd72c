// Package config carries the two configuration layers: process settings
// from environment variables and the operator-edited YAML file describing
// pages and devices.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ServerConfig is the process-level configuration, loaded from the
// environment once at startup.
type ServerConfig struct {
	Host       string `envconfig:"WEBINK_HOST" default:"0.0.0.0" description:"Address both listeners bind to."`
	HTTPPort   int    `envconfig:"WEBINK_HTTP_PORT" default:"8000"`
	SocketPort int    `envconfig:"WEBINK_SOCKET_PORT" default:"8091"`
	ConfigFile string `envconfig:"WEBINK_CONFIG" default:"config.yaml" description:"Path to the pages and devices YAML."`
	DataDir    string `envconfig:"WEBINK_DATA_DIR" default:"data" description:"Directory for rendered bitmaps and the device registry."`
	LogLevel   string `envconfig:"WEBINK_LOG_LEVEL" default:"info"`

	Browser Browser
}

// Browser controls how pages are captured.
type Browser struct {
	ChromeURL       string        `envconfig:"WEBINK_CHROME_URL" description:"Attach to an existing Chrome DevTools endpoint instead of launching one."`
	NavigateTimeout time.Duration `envconfig:"WEBINK_NAVIGATE_TIMEOUT" default:"30s"`
	SettleDelay     time.Duration `envconfig:"WEBINK_SETTLE_DELAY" default:"2s"`
	ScrollDelay     time.Duration `envconfig:"WEBINK_SCROLL_DELAY" default:"1s"`
}

// LoadServerConfig reads the environment into a ServerConfig.
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	err := envconfig.Process("", &cfg)
	if err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}
