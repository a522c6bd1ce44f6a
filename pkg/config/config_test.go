package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Camera.Device != "/dev/video0" {
		t.Errorf("expected default camera device /dev/video0, got %s", cfg.Camera.Device)
	}
	if cfg.Detection.ScaleFactor != 1.1 || cfg.Detection.MinNeighbors != 5 {
		t.Errorf("unexpected detection defaults: %+v", cfg.Detection)
	}
	if cfg.Detection.MinSize != 80 || cfg.Detection.MaxSize != 300 {
		t.Errorf("unexpected detection size bounds: %d..%d", cfg.Detection.MinSize, cfg.Detection.MaxSize)
	}
	if cfg.Recognition.Threshold != 60 {
		t.Errorf("expected threshold 60, got %f", cfg.Recognition.Threshold)
	}
	if cfg.Recognition.Cooldown != 2*time.Second {
		t.Errorf("expected cooldown 2s, got %v", cfg.Recognition.Cooldown)
	}
	if cfg.Enrollment.SampleCount != 50 {
		t.Errorf("expected 50 samples per enrollment, got %d", cfg.Enrollment.SampleCount)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("expected memory driver by default, got %s", cfg.Database.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "rollcall.yaml")
	configContent := `
camera:
  device: /dev/video1
  width: 1280
  height: 720
detection:
  backend: opencv
  scale_factor: 1.3
  min_neighbors: 4
recognition:
  backend: native
  threshold: 70
  cooldown: 5s
database:
  driver: postgres
  url: postgres://rollcall@localhost/rollcall?sslmode=disable
logging:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Camera.Device != "/dev/video1" {
		t.Errorf("expected camera device /dev/video1, got %s", cfg.Camera.Device)
	}
	if cfg.Camera.Width != 1280 || cfg.Camera.Height != 720 {
		t.Errorf("expected 1280x720, got %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Detection.ScaleFactor != 1.3 || cfg.Detection.MinNeighbors != 4 {
		t.Errorf("detection not loaded: %+v", cfg.Detection)
	}
	if cfg.Recognition.Threshold != 70 {
		t.Errorf("expected threshold 70, got %f", cfg.Recognition.Threshold)
	}
	if cfg.Recognition.Cooldown != 5*time.Second {
		t.Errorf("expected cooldown 5s, got %v", cfg.Recognition.Cooldown)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Database.Driver)
	}
	// untouched sections keep their defaults
	if cfg.Enrollment.SampleCount != 50 {
		t.Errorf("expected default sample count, got %d", cfg.Enrollment.SampleCount)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/rollcall.yaml")
	if cfg == nil {
		t.Error("expected default config on error")
	}
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	cfg, err := Load(configPath)
	if cfg == nil {
		t.Error("expected default config on error")
	}
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "root:pw@tcp(db:3306)/rollcall")
	t.Setenv(EnvDatabaseDriver, "mariadb")
	t.Setenv(EnvCameraDevice, "/dev/video4")
	t.Setenv(EnvWebAddr, "127.0.0.1:8080")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvThreshold, "45.5")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Database.Driver != "mariadb" || cfg.Database.URL != "root:pw@tcp(db:3306)/rollcall" {
		t.Errorf("database not overridden: %+v", cfg.Database)
	}
	if cfg.Camera.Device != "/dev/video4" {
		t.Errorf("camera device not overridden: %s", cfg.Camera.Device)
	}
	if cfg.Web.Addr != "127.0.0.1:8080" {
		t.Errorf("web addr not overridden: %s", cfg.Web.Addr)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level not overridden: %s", cfg.Logging.Level)
	}
	if cfg.Recognition.Threshold != 45.5 {
		t.Errorf("threshold not overridden: %f", cfg.Recognition.Threshold)
	}
}

func TestApplyEnv_BadThreshold(t *testing.T) {
	t.Setenv(EnvThreshold, "sixty")
	if err := DefaultConfig().ApplyEnv(); err == nil {
		t.Error("expected error for non-numeric threshold")
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}

	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("ROLLCALL_TEST_ONLY=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("ROLLCALL_TEST_ONLY") })

	if err := LoadEnvFile(envPath); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
	if got := os.Getenv("ROLLCALL_TEST_ONLY"); got != "from-dotenv" {
		t.Errorf("expected value from .env, got %q", got)
	}
}

func TestExpandPath(t *testing.T) {
	if got := ExpandPath("~/rollcall"); strings.HasPrefix(got, "~") {
		t.Errorf("tilde was not expanded: %s", got)
	}
	if got := ExpandPath("/absolute/path"); got != "/absolute/path" {
		t.Errorf("unexpected expansion: %s", got)
	}
	t.Setenv("ROLLCALL_ROOT", "/srv/rollcall")
	if got := ExpandPath("$ROLLCALL_ROOT/data"); got != "/srv/rollcall/data" {
		t.Errorf("env var not expanded: %s", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:      "invalid camera width",
			modify:    func(c *Config) { c.Camera.Width = 0 },
			wantError: true,
			errorMsg:  "camera.width",
		},
		{
			name:      "scale factor must exceed one",
			modify:    func(c *Config) { c.Detection.ScaleFactor = 1.0 },
			wantError: true,
			errorMsg:  "detection.scalefactor",
		},
		{
			name:      "unknown detector backend",
			modify:    func(c *Config) { c.Detection.Backend = "yolo" },
			wantError: true,
			errorMsg:  "detection.backend",
		},
		{
			name:      "threshold must be positive",
			modify:    func(c *Config) { c.Recognition.Threshold = 0 },
			wantError: true,
			errorMsg:  "recognition.threshold",
		},
		{
			name:      "sql driver needs url",
			modify:    func(c *Config) { c.Database.Driver = "postgres" },
			wantError: true,
			errorMsg:  "database.url",
		},
		{
			name: "sql driver with url",
			modify: func(c *Config) {
				c.Database.Driver = "mariadb"
				c.Database.URL = "root@tcp(localhost:3306)/rollcall"
			},
		},
		{
			name:      "unknown driver",
			modify:    func(c *Config) { c.Database.Driver = "sqlite" },
			wantError: true,
			errorMsg:  "database.driver",
		},
		{
			name:      "max size below min size",
			modify:    func(c *Config) { c.Detection.MinSize = 200; c.Detection.MaxSize = 100 },
			wantError: true,
			errorMsg:  "max_size",
		},
		{
			name:      "invalid log level",
			modify:    func(c *Config) { c.Logging.Level = "verbose" },
			wantError: true,
			errorMsg:  "logging.level",
		},
		{
			name:      "stream quality out of range",
			modify:    func(c *Config) { c.Web.StreamQuality = 101 },
			wantError: true,
			errorMsg:  "web.streamquality",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.wantError {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmpDir, "data")
	cfg.Recognition.ModelPath = filepath.Join(tmpDir, "data", "model")
	cfg.Logging.File = filepath.Join(tmpDir, "logs", "rollcall.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.SamplesDir(), cfg.Recognition.ModelPath, cfg.ModelsDir(), filepath.Join(tmpDir, "logs")} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory %s was not created", dir)
		}
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "rollcall.yaml")
	cfg := DefaultConfig()
	cfg.Recognition.Cooldown = 3 * time.Second
	cfg.Web.Addr = ":9000"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Recognition.Cooldown != 3*time.Second || loaded.Web.Addr != ":9000" {
		t.Errorf("round trip lost values: cooldown=%v addr=%s", loaded.Recognition.Cooldown, loaded.Web.Addr)
	}
}
