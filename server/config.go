package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/lookout/server/camera"
	"github.com/cyclopcam/lookout/server/provider"
	"github.com/cyclopcam/lookout/server/registry"
	"github.com/cyclopcam/lookout/server/snapshots"
)

// SYNC-LOOKOUT-CONFIG
type Config struct {
	Listen    string           `json:"listen"` // eg ":8080"
	DB        dbh.DBConfig     `json:"db"`
	Locale    string           `json:"locale"` // "id" (default) or "en"
	Camera    CameraConfig     `json:"camera"`
	Model     ModelConfig      `json:"model"`
	Detection DetectionConfig  `json:"detection"`
	Snapshots snapshots.Config `json:"snapshots"`
	HTTPS     *HTTPSConfig     `json:"https,omitempty"` // If set, serve HTTPS with automatic certificates
}

type CameraConfig struct {
	Facing              camera.Facing `json:"facing"`           // Preferred camera. Default "environment".
	EnvironmentLabel    string        `json:"environmentLabel"` // Device label of the rear camera, eg "video0"
	UserLabel           string        `json:"userLabel"`        // Device label of the front camera
	ReadyTimeoutSeconds int           `json:"readyTimeoutSeconds"`
}

type ModelConfig struct {
	provider.RemoteConfig
	Synthetic bool `json:"synthetic"` // Skip the real model, and use simulated detections
}

type DetectionConfig struct {
	IntervalMS int `json:"intervalMS"` // Time between detection ticks. Default 500.
}

type HTTPSConfig struct {
	Domains []string `json:"domains"`
	Email   string   `json:"email"`   // ACME account email
	CertDir string   `json:"certDir"` // Default $HOME/.local/share/certmagic
}

// DefaultConfig stores everything under 'root'
func DefaultConfig(root string) Config {
	return Config{
		Listen: ":8080",
		DB:     dbh.MakeSqliteConfig(filepath.Join(root, "lookout.sqlite")),
		Locale: registry.LocaleIndonesian,
		Camera: CameraConfig{
			Facing:              camera.FacingEnvironment,
			ReadyTimeoutSeconds: int(camera.DefaultReadyTimeout.Seconds()),
		},
		Detection: DetectionConfig{
			IntervalMS: 500,
		},
		Snapshots: snapshots.Config{
			Filesystem: &snapshots.ConfigFS{Root: filepath.Join(root, "snapshots")},
		},
	}
}

// LoadConfig reads the JSON config file over the defaults.
// A missing file is not an error.
func LoadConfig(configFile string) (Config, error) {
	cfg := DefaultConfig(filepath.Dir(configFile))
	raw, err := os.ReadFile(configFile)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	} else if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("Error parsing config file %v: %w", configFile, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("Invalid config file %v: %w", configFile, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Camera.Facing {
	case "", camera.FacingEnvironment, camera.FacingUser:
	default:
		return fmt.Errorf("camera.facing must be '%v' or '%v'", camera.FacingEnvironment, camera.FacingUser)
	}
	if c.Detection.IntervalMS < 0 {
		return errors.New("detection.intervalMS may not be negative")
	}
	if c.HTTPS != nil && len(c.HTTPS.Domains) == 0 {
		return errors.New("https.domains must list at least one domain")
	}
	if _, err := registry.ForLocale(c.Locale); err != nil {
		return err
	}
	return nil
}
