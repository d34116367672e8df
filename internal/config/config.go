package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	DefaultPart  = "default"
	EnvPrefix    = "SPEAKCAPTURE"
	fileNameBase = "speakcapture.yaml"
)

// RootConfig mirrors the configuration file layout
type RootConfig struct {
	ActivePart    string                  `mapstructure:"active_part" yaml:"active_part"`
	Parts         map[string]*PartProfile `mapstructure:"parts" yaml:"parts"`
	Recording     RecordingConfig         `mapstructure:"recording" yaml:"recording"`
	Gateway       GatewayConfig           `mapstructure:"gateway" yaml:"gateway"`
	Capture       CaptureConfig           `mapstructure:"capture" yaml:"capture"`
	Playback      PlaybackConfig          `mapstructure:"playback" yaml:"playback"`
	Telemetry     TelemetryConfig         `mapstructure:"telemetry" yaml:"telemetry"`
	Notifications NotificationsConfig     `mapstructure:"notifications" yaml:"notifications"`
	Server        ServerConfig            `mapstructure:"server" yaml:"server"`
}

// PartProfile holds the per-part overrides. A part is a section of the
// assessment (for example "part1" short answers, "part2" long turn).
type PartProfile struct {
	Description  string                   `mapstructure:"description" yaml:"description,omitempty"`
	DefaultLimit time.Duration            `mapstructure:"default_limit" yaml:"default_limit,omitempty"`
	TimeLimits   map[string]time.Duration `mapstructure:"time_limits" yaml:"time_limits,omitempty"`
}

// Config is the resolved configuration for one run
type Config struct {
	Part          string              `yaml:"part" validate:"required"`
	Recording     RecordingConfig     `yaml:"recording"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Capture       CaptureConfig       `yaml:"capture"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Server        ServerConfig        `yaml:"server"`

	// File is the path the configuration was read from
	File string `yaml:"-"`

	// PartChosen is set when Part was picked with --part rather than taken
	// from active_part or a question set
	PartChosen bool `yaml:"-"`
}

type RecordingConfig struct {
	TickInterval time.Duration            `mapstructure:"tick_interval" yaml:"tick_interval" validate:"gt=0"`
	DefaultLimit time.Duration            `mapstructure:"default_limit" yaml:"default_limit" validate:"gt=0"`
	StopTimeout  time.Duration            `mapstructure:"stop_timeout" yaml:"stop_timeout" validate:"gt=0"`
	TimeLimits   map[string]time.Duration `mapstructure:"time_limits" yaml:"time_limits,omitempty"`
}

type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	Token   string        `mapstructure:"token" yaml:"token,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

type CaptureConfig struct {
	// Backend is the ffmpeg input format: pulse, alsa or jack (through pw-jack)
	Backend       string        `mapstructure:"backend" yaml:"backend" validate:"oneof=pulse alsa jack"`
	Device        string        `mapstructure:"device" yaml:"device" validate:"required"`
	Codec         string        `mapstructure:"codec" yaml:"codec" validate:"required"`
	Container     string        `mapstructure:"container" yaml:"container" validate:"required"`
	SampleRate    int           `mapstructure:"sample_rate" yaml:"sample_rate" validate:"gte=8000,lte=192000"`
	Channels      int           `mapstructure:"channels" yaml:"channels" validate:"oneof=1 2"`
	StartupWindow time.Duration `mapstructure:"startup_window" yaml:"startup_window" validate:"gte=0"`
	TempDir       string        `mapstructure:"temp_dir" yaml:"temp_dir,omitempty"`
}

type PlaybackConfig struct {
	Player string `mapstructure:"player" yaml:"player,omitempty" validate:"omitempty,oneof=ffplay mpv vlc"`
}

type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Database string `mapstructure:"database" yaml:"database" validate:"required_if=Enabled true"`
}

type NotificationsConfig struct {
	Desktop bool `mapstructure:"desktop" yaml:"desktop"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen" validate:"required,hostname_port"`
}

// DefaultFile returns $HOME/.config/speakcapture.yaml
func DefaultFile() string {
	return filepath.Join(os.Getenv("HOME"), ".config", fileNameBase)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("active_part", DefaultPart)

	v.SetDefault("recording.tick_interval", "200ms")
	v.SetDefault("recording.default_limit", "60s")
	v.SetDefault("recording.stop_timeout", "10s")

	v.SetDefault("gateway.base_url", "http://localhost:8080/api")
	v.SetDefault("gateway.token", "")
	v.SetDefault("gateway.timeout", "30s")

	v.SetDefault("capture.backend", "pulse")
	v.SetDefault("capture.device", "default")
	v.SetDefault("capture.codec", "libopus")
	v.SetDefault("capture.container", "ogg")
	v.SetDefault("capture.sample_rate", 48000)
	v.SetDefault("capture.channels", 1)
	v.SetDefault("capture.startup_window", "750ms")
	v.SetDefault("capture.temp_dir", "")

	v.SetDefault("playback.player", "")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.database", filepath.Join("~", ".local", "share", "speakcapture", "telemetry.db"))

	v.SetDefault("notifications.desktop", false)

	v.SetDefault("server.listen", "127.0.0.1:7420")
}

// ReadRoot reads the configuration file into a RootConfig. A missing file
// yields the built-in defaults.
func ReadRoot(configFile string) (*RootConfig, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		slog.Debug("Config file not found, using defaults", "file", configFile)
	}

	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateParts(root.Parts); err != nil {
		return nil, fmt.Errorf("invalid parts: %w", err)
	}

	return &root, nil
}

// LoadWithPart resolves the configuration for part. An empty part selects
// active_part from the file.
func LoadWithPart(configFile, part string) (*Config, error) {
	root, err := ReadRoot(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	partName := part
	if partName == "" {
		partName = root.ActivePart
	}
	if partName == "" {
		partName = DefaultPart
	}

	selected, exists := root.Parts[partName]
	if !exists && partName != DefaultPart {
		return nil, fmt.Errorf("part '%s' not found (available: %s)", partName, strings.Join(root.PartNames(), ", "))
	}

	cfg := &Config{
		Part:          partName,
		Recording:     root.Recording,
		Gateway:       root.Gateway,
		Capture:       root.Capture,
		Playback:      root.Playback,
		Telemetry:     root.Telemetry,
		Notifications: root.Notifications,
		Server:        root.Server,
		File:          configFile,
	}
	cfg.Recording.TimeLimits = copyLimits(root.Recording.TimeLimits)

	// The default part is the base every other part inherits from.
	if partName != DefaultPart {
		if base, ok := root.Parts[DefaultPart]; ok {
			applyPart(&cfg.Recording, base)
		}
	}
	applyPart(&cfg.Recording, selected)

	cfg.Telemetry.Database = expandPath(cfg.Telemetry.Database)
	cfg.Capture.TempDir = expandPath(cfg.Capture.TempDir)
	cfg.Gateway.BaseURL = strings.TrimRight(cfg.Gateway.BaseURL, "/")

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func applyPart(rec *RecordingConfig, part *PartProfile) {
	if part == nil {
		return
	}
	if part.DefaultLimit > 0 {
		rec.DefaultLimit = part.DefaultLimit
	}
	if len(part.TimeLimits) > 0 && rec.TimeLimits == nil {
		rec.TimeLimits = make(map[string]time.Duration, len(part.TimeLimits))
	}
	for questionType, limit := range part.TimeLimits {
		rec.TimeLimits[questionType] = limit
	}
}

func copyLimits(in map[string]time.Duration) map[string]time.Duration {
	if in == nil {
		return nil
	}
	out := make(map[string]time.Duration, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// TimeLimit returns the recording limit for a question type
func (c *Config) TimeLimit(questionType string) time.Duration {
	if limit, ok := c.Recording.TimeLimits[questionType]; ok && limit > 0 {
		return limit
	}
	return c.Recording.DefaultLimit
}

// PartNames lists configured parts in sorted order
func (r *RootConfig) PartNames() []string {
	names := make([]string, 0, len(r.Parts))
	for name := range r.Parts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateActivePart updates the active_part field in the config file,
// creating the file when it does not exist yet.
func UpdateActivePart(configFile, part string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}
	if part == "" {
		return fmt.Errorf("part name is required")
	}

	// Fresh instance so defaults and env overrides are not written back.
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	exists := true
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
		exists = false
	}

	v.Set("active_part", part)

	if !exists {
		if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}
		if err := v.WriteConfigAs(configFile); err != nil {
			return fmt.Errorf("error writing config file %s: %w", configFile, err)
		}
		return nil
	}

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// PartFile persists the preferred part into a configuration file
type PartFile struct {
	Path string
}

// SavePreferredPart records part as active_part. A missing file is left
// alone and an unchanged value is not rewritten.
func (p PartFile) SavePreferredPart(part string) error {
	if _, err := os.Stat(p.Path); err != nil {
		if os.IsNotExist(err) {
			slog.Debug("Config file not found, not saving part", "file", p.Path, "part", part)
			return nil
		}
		return fmt.Errorf("error checking config file %s: %w", p.Path, err)
	}

	v := viper.New()
	v.SetConfigFile(p.Path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", p.Path, err)
	}
	if v.GetString("active_part") == part {
		return nil
	}

	slog.Info("Saving preferred part", "file", p.Path, "part", part)
	return UpdateActivePart(p.Path, part)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(os.Getenv("HOME"), path[2:])
	}
	return path
}

var validate = validator.New()

// Validate checks struct tags first, then the cross-field rules tags cannot express
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s: failed '%s' check (value: %v)", fieldPath(verrs[0].Namespace()), verrs[0].Tag(), verrs[0].Value())
		}
		return err
	}

	for questionType, limit := range cfg.Recording.TimeLimits {
		if limit <= 0 {
			return fmt.Errorf("recording.time_limits.%s: must be > 0, got %s", questionType, limit)
		}
	}

	if cfg.Recording.TickInterval >= cfg.Recording.DefaultLimit {
		return fmt.Errorf("recording.tick_interval: must be shorter than recording.default_limit (%s >= %s)",
			cfg.Recording.TickInterval, cfg.Recording.DefaultLimit)
	}

	if cfg.Capture.Backend == "jack" && !strings.Contains(cfg.Capture.Device, ":") && cfg.Capture.Device != "default" {
		return fmt.Errorf("capture.device: jack backend needs a client name or 'default', got: %s", cfg.Capture.Device)
	}

	return nil
}

// validateParts validates the parts section
func validateParts(parts map[string]*PartProfile) error {
	for name, part := range parts {
		prefix := fmt.Sprintf("parts.%s", name)
		if part == nil {
			return fmt.Errorf("%s: part cannot be empty", prefix)
		}
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("parts: part name cannot be blank")
		}
		if part.DefaultLimit < 0 {
			return fmt.Errorf("%s.default_limit: must be >= 0, got %s", prefix, part.DefaultLimit)
		}
		for questionType, limit := range part.TimeLimits {
			if limit <= 0 {
				return fmt.Errorf("%s.time_limits.%s: must be > 0, got %s", prefix, questionType, limit)
			}
		}
	}
	return nil
}

// fieldPath turns a validator namespace (Config.Capture.SampleRate) into the
// yaml key path (capture.sample_rate).
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snakeCase(p)
	}
	return strings.Join(parts, ".")
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
