package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

// Defaults for the speed-test endpoint fragments and engine tuning.
const (
	DefaultDownloadFragment = "/download?nocache="
	DefaultUploadFragment   = "/upload?nocache="
	DefaultHelloFragment    = "/hello?nocache="
	DefaultOpeningEvent     = "REQUEST_ALIVE"
	DefaultIntervalMs       = 50
)

// Config holds all speedtrace configuration.
type Config struct {
	Log    LogConfig
	Engine EngineConfig
	Output OutputConfig
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn warning error"`
	Format string `validate:"oneof=json console"`
}

// EngineConfig holds correlation settings. It is also the shape of the YAML
// profile file.
type EngineConfig struct {
	OpeningEvent     string   `yaml:"opening_event" validate:"required"`
	DownloadFragment string   `yaml:"download_fragment" validate:"required"`
	UploadFragment   string   `yaml:"upload_fragment" validate:"required"`
	HelloFragment    string   `yaml:"hello_fragment" validate:"required"`
	Hosts            []string `yaml:"hosts" validate:"dive,required"`
	IntervalMs       int64    `yaml:"interval_ms" validate:"gt=0"`
}

// OutputConfig holds output destination settings.
type OutputConfig struct {
	Dir         string
	Pretty      bool
	Verbosity   string `validate:"oneof=minimal standard full"`
	WebhookURL  string `validate:"omitempty,url"`
	RedisURL    string `validate:"omitempty,url"`
	PostgresURL string `validate:"omitempty,url"`
	MetricsFile string
}

// Load reads configuration from .env, the optional YAML profile named by
// SPEEDTRACE_PROFILE, and environment variables, in increasing precedence.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	engine := defaultEngine()
	if path := os.Getenv("SPEEDTRACE_PROFILE"); path != "" {
		if err := loadProfile(path, &engine); err != nil {
			return Config{}, err
		}
	}

	engine.OpeningEvent = getenv("SPEEDTRACE_OPENING_EVENT", engine.OpeningEvent)
	engine.DownloadFragment = getenv("SPEEDTRACE_DOWNLOAD_FRAGMENT", engine.DownloadFragment)
	engine.UploadFragment = getenv("SPEEDTRACE_UPLOAD_FRAGMENT", engine.UploadFragment)
	engine.HelloFragment = getenv("SPEEDTRACE_HELLO_FRAGMENT", engine.HelloFragment)
	if hosts := os.Getenv("SPEEDTRACE_HOSTS"); hosts != "" {
		engine.Hosts = splitList(hosts)
	}
	engine.IntervalMs = getenvInt("SPEEDTRACE_INTERVAL_MS", engine.IntervalMs)

	cfg := Config{
		Log: LogConfig{
			Level:  strings.ToLower(getenv("SPEEDTRACE_LOG_LEVEL", "info")),
			Format: strings.ToLower(getenv("SPEEDTRACE_LOG_FORMAT", "console")),
		},
		Engine: engine,
		Output: OutputConfig{
			Dir:         getenv("SPEEDTRACE_OUTPUT_DIR", "."),
			Pretty:      getenvBool("SPEEDTRACE_OUTPUT_PRETTY", false),
			Verbosity:   getenv("SPEEDTRACE_VERBOSITY", "standard"),
			WebhookURL:  os.Getenv("SPEEDTRACE_WEBHOOK_URL"),
			RedisURL:    os.Getenv("SPEEDTRACE_REDIS_URL"),
			PostgresURL: os.Getenv("SPEEDTRACE_POSTGRES_URL"),
			MetricsFile: os.Getenv("SPEEDTRACE_METRICS_FILE"),
		},
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func defaultEngine() EngineConfig {
	return EngineConfig{
		OpeningEvent:     DefaultOpeningEvent,
		DownloadFragment: DefaultDownloadFragment,
		UploadFragment:   DefaultUploadFragment,
		HelloFragment:    DefaultHelloFragment,
		IntervalMs:       DefaultIntervalMs,
	}
}

// loadProfile overlays non-empty profile fields onto engine.
func loadProfile(path string, engine *EngineConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read profile %s: %w", path, err)
	}
	var p EngineConfig
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("config: parse profile %s: %w", path, err)
	}
	if p.OpeningEvent != "" {
		engine.OpeningEvent = p.OpeningEvent
	}
	if p.DownloadFragment != "" {
		engine.DownloadFragment = p.DownloadFragment
	}
	if p.UploadFragment != "" {
		engine.UploadFragment = p.UploadFragment
	}
	if p.HelloFragment != "" {
		engine.HelloFragment = p.HelloFragment
	}
	if len(p.Hosts) > 0 {
		engine.Hosts = p.Hosts
	}
	if p.IntervalMs != 0 {
		engine.IntervalMs = p.IntervalMs
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
