package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/unified-cropper/pkg/types"
)

// EnvPrefix starts every environment override, e.g. CROPPER_MODE.
const EnvPrefix = "CROPPER_"

// Config holds the application configuration
type Config struct {
	Session SessionConfig `json:"session" yaml:"session"`
	Display DisplayConfig `json:"display" yaml:"display"`
	Output  OutputConfig  `json:"output" yaml:"output"`
	Vision  VisionConfig  `json:"vision" yaml:"vision"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

// SessionConfig holds the options a crop session is started with
type SessionConfig struct {
	Mode         string `json:"mode" yaml:"mode"`
	AspectRatio  string `json:"aspect_ratio" yaml:"aspect_ratio"`
	Persist      bool   `json:"persist" yaml:"persist"`
	StrictAspect bool   `json:"strict_aspect" yaml:"strict_aspect"`
}

// DisplayConfig holds the screen and gallery container geometry
type DisplayConfig struct {
	ScreenWidth     float64 `json:"screen_width" yaml:"screen_width"`
	ScreenHeight    float64 `json:"screen_height" yaml:"screen_height"`
	ContainerLeft   float64 `json:"container_left" yaml:"container_left"`
	ContainerTop    float64 `json:"container_top" yaml:"container_top"`
	ContainerWidth  float64 `json:"container_width" yaml:"container_width"`
	ContainerHeight float64 `json:"container_height" yaml:"container_height"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Dir    string `json:"dir" yaml:"dir"`
	Prefix string `json:"prefix" yaml:"prefix"`
	// HistoryDB, when set, records every saved crop in a SQLite database.
	HistoryDB string `json:"history_db" yaml:"history_db"`
}

// VisionConfig holds configuration for subject suggestion
type VisionConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Backend is "ollama" for a vision model or "saliency" for the offline locator.
	Backend string `json:"backend" yaml:"backend"`
	URL     string `json:"url" yaml:"url"`
	Model   string `json:"model" yaml:"model"`
	MaxDim  int    `json:"max_dim" yaml:"max_dim"`
	Quality int    `json:"quality" yaml:"quality"`
}

// Vision backends
const (
	BackendOllama   = "ollama"
	BackendSaliency = "saliency"
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			Mode: string(types.ModePostCapture),
		},
		Display: DisplayConfig{
			ScreenWidth:     1080,
			ScreenHeight:    1920,
			ContainerLeft:   0,
			ContainerTop:    0,
			ContainerWidth:  1080,
			ContainerHeight: 1920,
		},
		Output: OutputConfig{
			Dir:    "./output",
			Prefix: "IMG_",
		},
		Vision: VisionConfig{
			Backend: BackendOllama,
			URL:     "http://localhost:11434",
			Model:   "openbmb/minicpm-v4.5",
			MaxDim:  1024,
			Quality: 85,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a YAML (.yaml, .yml) or JSON file.
// Fields missing from the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration as YAML or JSON depending on the extension
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ApplyEnv overrides fields from CROPPER_* variables looked up with getenv.
// Malformed numeric or boolean values are reported.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	var firstErr error
	boolean := func(name string, dst *bool) {
		if v := getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
				}
				return
			}
			*dst = b
		}
	}
	number := func(name string, dst *float64) {
		if v := getenv(EnvPrefix + name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
				}
				return
			}
			*dst = f
		}
	}

	str("MODE", &c.Session.Mode)
	str("ASPECT_RATIO", &c.Session.AspectRatio)
	boolean("PERSIST", &c.Session.Persist)
	boolean("STRICT_ASPECT", &c.Session.StrictAspect)
	number("SCREEN_WIDTH", &c.Display.ScreenWidth)
	number("SCREEN_HEIGHT", &c.Display.ScreenHeight)
	str("OUTPUT_DIR", &c.Output.Dir)
	str("HISTORY_DB", &c.Output.HistoryDB)
	boolean("VISION_ENABLED", &c.Vision.Enabled)
	str("VISION_BACKEND", &c.Vision.Backend)
	str("VISION_URL", &c.Vision.URL)
	str("VISION_MODEL", &c.Vision.Model)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	return firstErr
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, ok := types.ParseMode(c.Session.Mode); !ok {
		return fmt.Errorf("session.mode must be one of preCaptureCrop, postCaptureCrop, gallery")
	}

	if c.Session.StrictAspect && c.Session.AspectRatio != "" {
		if _, err := types.ParseAspectRatio(c.Session.AspectRatio); err != nil {
			return fmt.Errorf("session.aspect_ratio: %w", err)
		}
	}

	if c.Display.ScreenWidth <= 0 || c.Display.ScreenHeight <= 0 {
		return fmt.Errorf("display.screen_width and display.screen_height must be positive")
	}

	if c.Display.ContainerWidth <= 0 || c.Display.ContainerHeight <= 0 {
		return fmt.Errorf("display.container_width and display.container_height must be positive")
	}

	if c.Session.Persist && c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required when session.persist is set")
	}

	if c.Vision.Enabled {
		switch strings.ToLower(c.Vision.Backend) {
		case "", BackendOllama:
			if c.Vision.URL == "" || c.Vision.Model == "" {
				return fmt.Errorf("vision.url and vision.model are required for the ollama backend")
			}
		case BackendSaliency:
		default:
			return fmt.Errorf("vision.backend must be ollama or saliency")
		}
		if c.Vision.Quality < 1 || c.Vision.Quality > 100 {
			return fmt.Errorf("vision.quality must be between 1 and 100")
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}

	return nil
}

// Screen returns the configured screen size.
func (d DisplayConfig) Screen() types.Size {
	return types.Size{Width: d.ScreenWidth, Height: d.ScreenHeight}
}

// Container returns the gallery container rectangle.
func (d DisplayConfig) Container() types.Rect {
	return types.NewRect(d.ContainerLeft, d.ContainerTop, d.ContainerWidth, d.ContainerHeight)
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "unified-cropper", "config.yaml")
}
