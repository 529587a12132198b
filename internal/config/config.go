// Package config manages the Coordinator's on-disk settings: the
// Injector's serial device, the Control Plane's port, and Operator
// Console toggles. Automation state itself is never persisted. Settings
// live in a JSON file under a per-OS config directory, behind a
// mutex-guarded Manager.
package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// Config is the Coordinator's persisted settings.
type Config struct {
	// SerialPort is the Injector's device path. Empty means auto-detect
	// via SerialMatch at startup.
	SerialPort string `json:"serial_port,omitempty"`

	// SerialMatch is a substring matched against enumerated serial port
	// names when SerialPort is unset. go.bug.st/serial's enumeration
	// exposes port names, not manufacturer strings, so the match runs
	// against the name. Empty matches the first port found.
	SerialMatch string `json:"serial_match,omitempty"`

	// Baud is the Injector's serial baud rate.
	Baud int `json:"baud"`

	// APIPort is the Control Plane's fixed loopback port.
	APIPort int `json:"api_port"`

	// Dashboard enables the /dashboard diagnostics page and its
	// websocket push.
	Dashboard bool `json:"dashboard"`

	// Autostart registers the Coordinator to launch on login.
	Autostart bool `json:"autostart"`

	// EmergencyStopHotkey is the global hotkey that halts the sequencer
	// and the Injector Link immediately (e.g. "Ctrl+Alt+Shift+Esc").
	EmergencyStopHotkey string `json:"emergency_stop_hotkey,omitempty"`
}

// DefaultConfig returns sensible defaults for a first run.
func DefaultConfig() *Config {
	return &Config{
		SerialPort:          "",
		SerialMatch:         "",
		Baud:                115200,
		APIPort:             18080,
		Dashboard:           true,
		Autostart:           false,
		EmergencyStopHotkey: "Ctrl+Alt+Shift+Esc",
	}
}

// Manager loads and persists Config to a per-OS application-data
// directory.
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     *Config
	onChanged  func()
}

// NewManager returns a Manager seeded with defaults; call Load to
// overlay any persisted settings.
func NewManager() (*Manager, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return &Manager{
		configPath: configPath,
		config:     DefaultConfig(),
	}, nil
}

func getConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "coordinator")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, "coordinator")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config", "coordinator")
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.json"), nil
}

// Load overlays any persisted settings onto the current config. A
// missing file is not an error — defaults stand.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, m.config); err != nil {
		return err
	}
	if m.onChanged != nil {
		m.onChanged()
	}
	return nil
}

// Save persists the current config to disk.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return err
	}

	log.Printf("Config: saving configuration to %s (%d bytes)", m.configPath, len(data))
	return os.WriteFile(m.configPath, data, 0644)
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Set replaces the current configuration.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	if m.onChanged != nil {
		m.onChanged()
	}
}

// RegisterChangeCallback registers a function called after Load/Set.
func (m *Manager) RegisterChangeCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = fn
}

// ApplyFlags overlays non-zero CLI overrides onto the loaded config,
// in the precedence order the Coordinator documents: flag > env > file
// > default (env is applied by the caller before this, to SerialPort).
func (m *Manager) ApplyFlags(serialPort, serialMatch string, baud, apiPort int, dashboard, autostart *bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if serialPort != "" {
		m.config.SerialPort = serialPort
	}
	if serialMatch != "" {
		m.config.SerialMatch = serialMatch
	}
	if baud != 0 {
		m.config.Baud = baud
	}
	if apiPort != 0 {
		m.config.APIPort = apiPort
	}
	if dashboard != nil {
		m.config.Dashboard = *dashboard
	}
	if autostart != nil {
		m.config.Autostart = *autostart
	}
}
