// Package config provides configuration management for rollcall.
// It loads configuration from YAML files with sensible defaults and lets
// environment variables (optionally from a .env file) override the parts
// that differ per deployment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all rollcall configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Detection   DetectionConfig   `yaml:"detection"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Enrollment  EnrollmentConfig  `yaml:"enrollment"`
	Storage     StorageConfig     `yaml:"storage"`
	Database    DatabaseConfig    `yaml:"database"`
	Web         WebConfig         `yaml:"web"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds camera settings. Device is either a V4L2 path, a
// numeric index, or a directory of still images replayed as frames.
type CameraConfig struct {
	Device        string        `yaml:"device" validate:"required"`
	Width         int           `yaml:"width" validate:"gt=0"`
	Height        int           `yaml:"height" validate:"gt=0"`
	FrameInterval time.Duration `yaml:"frame_interval" validate:"gte=0"`
}

// DetectionConfig holds face localization settings.
type DetectionConfig struct {
	Backend      string  `yaml:"backend" validate:"oneof=auto opencv dlib"`
	CascadePath  string  `yaml:"cascade_path"`
	ScaleFactor  float64 `yaml:"scale_factor" validate:"gt=1"`
	MinNeighbors int     `yaml:"min_neighbors" validate:"gte=0"`
	MinSize      int     `yaml:"min_size" validate:"gte=0"`
	MaxSize      int     `yaml:"max_size" validate:"gte=0"`
	Equalize     bool    `yaml:"equalize"`
}

// RecognitionConfig holds classifier settings.
type RecognitionConfig struct {
	Backend   string        `yaml:"backend" validate:"oneof=auto opencv native"`
	Threshold float64       `yaml:"threshold" validate:"gt=0"`
	Cooldown  time.Duration `yaml:"cooldown" validate:"gte=0"`
	ModelPath string        `yaml:"model_path" validate:"required"`
}

// EnrollmentConfig holds capture settings for new samples.
type EnrollmentConfig struct {
	SampleCount   int           `yaml:"sample_count" validate:"gt=0"`
	FrameInterval time.Duration `yaml:"frame_interval" validate:"gte=0"`
}

// StorageConfig holds sample storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir" validate:"required"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// DatabaseConfig selects and tunes the attendance ledger backend.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" validate:"oneof=postgres mariadb memory"`
	URL             string        `yaml:"url" validate:"required_unless=Driver memory"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

// WebConfig holds HTTP server settings.
type WebConfig struct {
	Addr              string `yaml:"addr" validate:"required"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
	StreamQuality     int    `yaml:"stream_quality" validate:"gte=1,lte=100"`
}

// ScheduleConfig holds the daily ledger reset schedule.
type ScheduleConfig struct {
	ResetSpec    string `yaml:"reset_spec"`
	ResetOnStart bool   `yaml:"reset_on_start"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	File   string `yaml:"file"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Environment variables that override file values.
const (
	EnvDatabaseURL    = "ROLLCALL_DATABASE_URL"
	EnvDatabaseDriver = "ROLLCALL_DATABASE_DRIVER"
	EnvCameraDevice   = "ROLLCALL_CAMERA_DEVICE"
	EnvWebAddr        = "ROLLCALL_WEB_ADDR"
	EnvLogLevel       = "ROLLCALL_LOG_LEVEL"
	EnvThreshold      = "ROLLCALL_THRESHOLD"
)

const (
	systemConfigPath = "/etc/rollcall/rollcall.yaml"
	userConfigPath   = ".config/rollcall/rollcall.yaml"
)

var validate = validator.New()

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/rollcall")
	return &Config{
		Camera: CameraConfig{
			Device:        "/dev/video0",
			Width:         640,
			Height:        480,
			FrameInterval: 0,
		},
		Detection: DetectionConfig{
			Backend:      "auto",
			CascadePath:  filepath.Join(dataDir, "models/haarcascade_frontalface_default.xml"),
			ScaleFactor:  1.1,
			MinNeighbors: 5,
			MinSize:      80,
			MaxSize:      300,
			Equalize:     true,
		},
		Recognition: RecognitionConfig{
			Backend:   "auto",
			Threshold: 60,
			Cooldown:  2 * time.Second,
			ModelPath: filepath.Join(dataDir, "model"),
		},
		Enrollment: EnrollmentConfig{
			SampleCount:   50,
			FrameInterval: 100 * time.Millisecond,
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			EncryptionEnabled: false,
		},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Web: WebConfig{
			Addr:          ":5000",
			StreamQuality: 80,
		},
		Schedule: ScheduleConfig{
			ResetSpec:    "0 0 * * *",
			ResetOnStart: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file. On error the defaults
// are returned alongside it.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat(systemConfigPath); err == nil {
		return Load(systemConfigPath)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, userConfigPath)
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// LoadEnvFile loads a .env file into the process environment. A missing
// file is not an error; variables already set are not overwritten.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides file values with ROLLCALL_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv(EnvDatabaseDriver); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(EnvCameraDevice); v != "" {
		c.Camera.Device = v
	}
	if v := os.Getenv(EnvWebAddr); v != "" {
		c.Web.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvThreshold, err)
		}
		c.Recognition.Threshold = f
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Camera.Device = ExpandPath(c.Camera.Device)
	c.Detection.CascadePath = ExpandPath(c.Detection.CascadePath)
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: %v fails %q", fieldPath(fe.Namespace()), fe.Value(), fe.Tag())
		}
		return err
	}

	if c.Detection.MaxSize > 0 && c.Detection.MaxSize < c.Detection.MinSize {
		return fmt.Errorf("invalid detection sizes: max_size %d below min_size %d",
			c.Detection.MaxSize, c.Detection.MinSize)
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns && c.Database.MaxOpenConns > 0 {
		return fmt.Errorf("invalid database pool: max_idle_conns %d above max_open_conns %d",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	return nil
}

// fieldPath turns "Config.Camera.Width" into "camera.width".
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}

// EnsureDirectories creates the sample, model and log directories.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.SamplesDir(), 0700); err != nil {
		return fmt.Errorf("failed to create samples directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	if err := os.MkdirAll(c.ModelsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// SamplesDir is the root of the enrolled face corpus.
func (c *Config) SamplesDir() string {
	return filepath.Join(c.Storage.DataDir, "samples")
}

// ModelsDir holds downloaded detector models (cascade XML, dlib files).
func (c *Config) ModelsDir() string {
	return filepath.Join(c.Storage.DataDir, "models")
}

// Save writes the configuration as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
