package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// ControllerType identifies the kind of controller
type ControllerType string

const (
	ControllerLaunchpadX    ControllerType = "launchpad-x"
	ControllerLaunchpadMini ControllerType = "launchpad-mini"
	ControllerLaunchpadPro  ControllerType = "launchpad-pro"
	ControllerGenericGrid   ControllerType = "generic-grid"
)

// ControllerConfig defines a saved controller configuration
type ControllerConfig struct {
	PortName    string         `json:"portName"`
	Type        ControllerType `json:"type"`
	AutoConnect bool           `json:"autoConnect"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	LastTempo  float64 `json:"lastTempo,omitempty"`
	LastTuning string  `json:"lastTuning,omitempty"`
}

// Config is the main configuration structure. Fields tagged env can be
// overridden from the environment after the file is read.
type Config struct {
	// Name is the display name used when a new session record is created
	Name string `json:"name,omitempty" env:"RIPPLE_NAME"`
	// Secret derives the relay identity; the same secret is the same
	// participant across machines
	Secret string `json:"secret,omitempty" env:"RIPPLE_SECRET"`

	RelayURL      string `json:"relayUrl,omitempty" env:"RIPPLE_RELAY_URL"`
	RelayListen   string `json:"relayListen,omitempty" env:"RIPPLE_RELAY_LISTEN"`
	RelayDiscover bool   `json:"relayDiscover,omitempty" env:"RIPPLE_RELAY_DISCOVER"`

	MIDIPort    string `json:"midiPort,omitempty" env:"RIPPLE_MIDI_PORT"`
	MIDIChannel int    `json:"midiChannel,omitempty" env:"RIPPLE_MIDI_CHANNEL"`

	DataDir string `json:"dataDir,omitempty" env:"RIPPLE_DATA_DIR"`
	Debug   bool   `json:"debug,omitempty" env:"RIPPLE_DEBUG"`
	// Palette is an optional GIMP .gpl file replacing the built-in colors
	Palette string `json:"palette,omitempty" env:"RIPPLE_PALETTE"`

	Controllers []ControllerConfig `json:"controllers,omitempty"`
	UI          UIConfig           `json:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		RelayListen: ":7777",
		MIDIChannel: 1,
		Controllers: []ControllerConfig{
			{
				PortName:    "Launchpad X LPX MIDI",
				Type:        ControllerLaunchpadX,
				AutoConnect: true,
			},
		},
		UI: UIConfig{
			LastTempo: 120,
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-ripple"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk (defaults if not found) and applies
// environment overrides
func Load() (*Config, error) {
	cfg, err := loadFile()
	if err != nil {
		return nil, err
	}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ParseEnv overlays environment variables onto target
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DataPath returns a file under the data directory (the config directory
// unless DataDir is set), creating the directory
func (c *Config) DataPath(name string) (string, error) {
	dir := c.DataDir
	if dir == "" {
		d, err := ConfigDir()
		if err != nil {
			return "", err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// FindController finds a controller config by port name
func (c *Config) FindController(portName string) *ControllerConfig {
	for i := range c.Controllers {
		if c.Controllers[i].PortName == portName {
			return &c.Controllers[i]
		}
	}
	return nil
}

// AddController adds or updates a controller config
func (c *Config) AddController(ctrl ControllerConfig) {
	for i := range c.Controllers {
		if c.Controllers[i].PortName == ctrl.PortName {
			c.Controllers[i] = ctrl
			return
		}
	}
	c.Controllers = append(c.Controllers, ctrl)
}

// AutoConnectPorts returns the port names of controllers with autoConnect
// enabled
func (c *Config) AutoConnectPorts() []string {
	var result []string
	for _, ctrl := range c.Controllers {
		if ctrl.AutoConnect {
			result = append(result, ctrl.PortName)
		}
	}
	return result
}
