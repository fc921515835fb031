// Package config loads the sentry configuration.
//
// Values are layered, later layers winning:
//
//  1. built-in defaults from each package's DefaultConfig
//  2. an optional YAML file
//  3. SENTRY_ environment variables, "__" separating sections
//     (SENTRY_FUSION__CYCLE_FREQUENCY=5 sets fusion.cycle_frequency)
//
// A .env file in the working directory is read into the environment first.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/teslashibe/go-sentry/pkg/alert"
	"github.com/teslashibe/go-sentry/pkg/audioio"
	"github.com/teslashibe/go-sentry/pkg/camera"
	"github.com/teslashibe/go-sentry/pkg/detection"
	"github.com/teslashibe/go-sentry/pkg/engine"
	"github.com/teslashibe/go-sentry/pkg/faults"
	"github.com/teslashibe/go-sentry/pkg/ingest"
	"github.com/teslashibe/go-sentry/pkg/web"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SENTRY_"

// PathEnvVar names the config file when --config is not given.
const PathEnvVar = "SENTRY_CONFIG"

// DefaultPaths are searched in order when no path is given.
var DefaultPaths = []string{
	"config.yaml",
	"/etc/sentry/config.yaml",
}

// sliceKeys are split on commas when they arrive as a single env string.
var sliceKeys = []string{
	"fusion.weapon_classes",
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" validate:"oneof=debug info warn warning error"`
	Format string `koanf:"format" json:"format" validate:"omitempty,oneof=json text"`
}

// Config is the whole sentry configuration.
type Config struct {
	Log       LogConfig             `koanf:"log" json:"log"`
	Camera    camera.Config         `koanf:"camera" json:"camera"`
	Audio     audioio.Config        `koanf:"audio" json:"audio"`
	Detection detection.Config      `koanf:"detection" json:"detection"`
	Producer  engine.ProducerConfig `koanf:"producer" json:"producer"`
	Fusion    engine.Config         `koanf:"fusion" json:"fusion"`
	Alert     alert.Config          `koanf:"alert" json:"alert"`
	Web       web.Config            `koanf:"web" json:"web"`
	Ingest    ingest.Config         `koanf:"ingest" json:"ingest"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Log:       LogConfig{Level: "info"},
		Camera:    camera.DefaultConfig(),
		Audio:     audioio.DefaultConfig(),
		Detection: detection.DefaultConfig(),
		Producer:  engine.DefaultProducerConfig(),
		Fusion:    engine.DefaultConfig(),
		Alert:     alert.DefaultConfig(),
		Web:       web.DefaultConfig(),
		Ingest:    ingest.DefaultConfig(),
	}
}

// Load reads the configuration. path may be empty, in which case
// SENTRY_CONFIG and then DefaultPaths are tried; a missing default file is
// not an error, a missing explicit one is.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	path, err := findFile(path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, configErr("file", "load %s: %v", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := splitSlices(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, configErr("config", "%v", err)
	}

	if cfg.Alert.Voice.TTS.APIKey == "" {
		cfg.Alert.Voice.TTS.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs the struct-tag rules, then each section's own checks, and
// reports every invalid field at once.
func (c *Config) Validate() error {
	var ce faults.ConfigError
	ce.Merge("", faults.ValidateStruct(c))
	ce.Merge("camera", c.Camera.Validate())
	ce.Merge("audio", c.Audio.Validate())
	if c.Alert.Voice.Enabled {
		ce.Merge("alert.voice.tts", c.Alert.Voice.TTS.Validate())
	}
	if c.Camera.Backend == camera.BackendEdge && !c.Ingest.Enabled {
		ce.Add("ingest.enabled", "must be true when camera.backend is edge")
	}
	if c.Audio.Backend == audioio.BackendEdge && !c.Ingest.Enabled {
		ce.Add("ingest.enabled", "must be true when audio.backend is edge")
	}
	return ce.Err()
}

// findFile resolves the config file path.
func findFile(path string) (string, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv(PathEnvVar)
		explicit = path != ""
	}
	if explicit {
		if _, err := os.Stat(path); err != nil {
			return "", configErr("file", "%v", err)
		}
		return path, nil
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// envKey maps SENTRY_FUSION__CYCLE_FREQUENCY to fusion.cycle_frequency.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func splitSlices(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		s, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(key, parts); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

func configErr(field, format string, args ...any) error {
	var ce faults.ConfigError
	ce.Add(field, format, args...)
	return ce.Err()
}
