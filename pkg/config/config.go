// Package config loads agent settings from defaults, an optional YAML file,
// a .env file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lokutor-ai/lokutor-live/pkg/live"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "LIVEVOICE_"

const (
	TransportGemini = "gemini"
	TransportRelay  = "relay"
)

type Config struct {
	Transport string        `yaml:"transport"`
	APIKey    string        `yaml:"api_key"`
	RelayURL  string        `yaml:"relay_url"`
	Session   SessionConfig `yaml:"session"`
	Log       LogConfig     `yaml:"log"`
	// RecordPath, when set, saves the agent's audio as WAV at session end.
	RecordPath  string `yaml:"record_path"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type SessionConfig struct {
	Model               string        `yaml:"model"`
	Voice               string        `yaml:"voice"`
	SystemInstruction   string        `yaml:"system_instruction"`
	InputTranscription  *bool         `yaml:"input_transcription"`
	OutputTranscription *bool         `yaml:"output_transcription"`
	CaptureBlockSize    int           `yaml:"capture_block_size"`
	SendQueueSize       int           `yaml:"send_queue_size"`
	LevelInterval       time.Duration `yaml:"level_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	d := live.DefaultConfig()
	return Config{
		Transport: TransportGemini,
		Session: SessionConfig{
			Model:             d.Model,
			Voice:             string(d.Voice),
			SystemInstruction: d.SystemInstruction,
			CaptureBlockSize:  d.CaptureBlockSize,
			SendQueueSize:     d.SendQueueSize,
			LevelInterval:     d.LevelInterval,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Loader reads configuration. Lookup defaults to os.LookupEnv; tests swap it
// for a map.
type Loader struct {
	Path    string
	EnvFile string
	Lookup  func(string) (string, bool)
}

func NewLoader() *Loader {
	return &Loader{EnvFile: ".env", Lookup: os.LookupEnv}
}

func (l *Loader) WithPath(path string) *Loader {
	l.Path = path
	return l
}

// Load applies defaults, then the YAML file, then the environment, and
// validates the result. A missing .env file is not an error.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if l.Path != "" {
		data, err := os.ReadFile(l.Path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", l.Path, err)
		}
	}

	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if l.EnvFile != "" {
		// Existing environment wins over the file, as with godotenv.Load.
		if vars, err := godotenv.Read(l.EnvFile); err == nil {
			base := lookup
			lookup = func(key string) (string, bool) {
				if v, ok := base(key); ok {
					return v, true
				}
				v, ok := vars[key]
				return v, ok
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read %s: %w", l.EnvFile, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	boolean := func(name string, dst **bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = &b
		return nil
	}

	if v, ok := lookup("GOOGLE_API_KEY"); ok && cfg.APIKey == "" {
		cfg.APIKey = v
	}
	str("API_KEY", &cfg.APIKey)
	str("TRANSPORT", &cfg.Transport)
	str("RELAY_URL", &cfg.RelayURL)
	str("MODEL", &cfg.Session.Model)
	str("VOICE", &cfg.Session.Voice)
	str("SYSTEM_INSTRUCTION", &cfg.Session.SystemInstruction)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("RECORD_PATH", &cfg.RecordPath)
	str("METRICS_ADDR", &cfg.MetricsAddr)

	if err := integer("CAPTURE_BLOCK_SIZE", &cfg.Session.CaptureBlockSize); err != nil {
		return err
	}
	if err := integer("SEND_QUEUE_SIZE", &cfg.Session.SendQueueSize); err != nil {
		return err
	}
	if err := boolean("INPUT_TRANSCRIPTION", &cfg.Session.InputTranscription); err != nil {
		return err
	}
	if err := boolean("OUTPUT_TRANSCRIPTION", &cfg.Session.OutputTranscription); err != nil {
		return err
	}
	if v, ok := lookup(EnvPrefix + "LEVEL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sLEVEL_INTERVAL: %w", EnvPrefix, err)
		}
		cfg.Session.LevelInterval = d
	}
	return nil
}

// Validate fills empty fields with defaults and rejects values the session
// cannot run with.
func (c *Config) Validate() error {
	d := Default()
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = d.Transport
	}
	if c.Session.Model == "" {
		c.Session.Model = d.Session.Model
	}
	if c.Session.Voice == "" {
		c.Session.Voice = d.Session.Voice
	}

	switch c.Transport {
	case TransportGemini:
		if c.APIKey == "" {
			return errors.New("an API key is required for the gemini transport (GOOGLE_API_KEY)")
		}
	case TransportRelay:
		if c.RelayURL == "" {
			return errors.New("relay_url is required for the relay transport")
		}
	default:
		return fmt.Errorf("unknown transport: %q", c.Transport)
	}

	if _, err := live.ParseVoice(c.Session.Voice); err != nil {
		return err
	}
	if c.Session.CaptureBlockSize < 0 {
		return fmt.Errorf("capture_block_size must be positive, got %d", c.Session.CaptureBlockSize)
	}
	if c.Session.SendQueueSize < 0 {
		return fmt.Errorf("send_queue_size must be positive, got %d", c.Session.SendQueueSize)
	}
	if c.Session.LevelInterval < 0 {
		return fmt.Errorf("level_interval must be positive, got %s", c.Session.LevelInterval)
	}
	return nil
}

// LiveConfig converts the session section for live.NewSessionController.
func (c Config) LiveConfig() live.Config {
	lc := live.DefaultConfig()
	lc.Model = c.Session.Model
	lc.Voice = live.Voice(c.Session.Voice)
	lc.SystemInstruction = c.Session.SystemInstruction
	if c.Session.InputTranscription != nil {
		lc.InputTranscription = *c.Session.InputTranscription
	}
	if c.Session.OutputTranscription != nil {
		lc.OutputTranscription = *c.Session.OutputTranscription
	}
	lc.CaptureBlockSize = c.Session.CaptureBlockSize
	lc.SendQueueSize = c.Session.SendQueueSize
	lc.LevelInterval = c.Session.LevelInterval
	return lc
}
