package actionflow

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so it can be written as "30s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds the configuration options for the actionflow runtime.
type Config struct {
	Executor  ExecutorConfig  `toml:"executor"`
	Extractor ExtractorConfig `toml:"extractor"`
	API       APIConfig       `toml:"api"`
	Recorder  RecorderConfig  `toml:"recorder"`
	Events    EventsConfig    `toml:"events"`
	Server    ServerConfig    `toml:"server"`
	Rules     RulesConfig     `toml:"rules"`
}

// ExecutorConfig controls concurrency and the invocation adapter's policy.
type ExecutorConfig struct {
	// Maximum number of concurrent tool invocations per batch
	MaxWorkers int `toml:"max_workers"`

	// Per-invocation timeout and retry, owned by the registry
	ToolTimeout Duration `toml:"tool_timeout"`
	MaxRetries  int      `toml:"max_retries"`
	RetryDelay  Duration `toml:"retry_delay"`
}

// ExtractorConfig selects the value extractor.
type ExtractorConfig struct {
	Mode     string   `toml:"mode"` // "rule" or "llm"
	Model    string   `toml:"model"`
	CacheTTL Duration `toml:"cache_ttl"`

	// CacheFile persists extractions across restarts. Empty keeps them in memory.
	CacheFile string `toml:"cache_file"`
}

// APIConfig points the method executor at the remote product API.
type APIConfig struct {
	BaseURL string   `toml:"base_url"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
	AppURL  string   `toml:"app_url"` // Used to build entity URLs
}

// RecorderConfig selects the flow-step storage.
type RecorderConfig struct {
	Driver string `toml:"driver"` // "memory", "postgres" or "sqlite"
	DSN    string `toml:"dsn"`
}

// EventsConfig configures the in-process bus and the optional AMQP notifier.
type EventsConfig struct {
	Enabled     bool   `toml:"enabled"`
	BufferSize  int    `toml:"buffer_size"`
	WorkerCount int    `toml:"worker_count"`
	AMQPURL     string `toml:"amqp_url"`
	Exchange    string `toml:"exchange"`
}

// ServerConfig configures the HTTP surface of "actionflow serve".
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// RulesConfig points at an implicit dependency rule file. Empty uses the built-in table.
type RulesConfig struct {
	File string `toml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Executor: ExecutorConfig{
			MaxWorkers:  5,
			ToolTimeout: Duration{time.Second * 30},
			MaxRetries:  2,
			RetryDelay:  Duration{time.Millisecond * 500},
		},
		Extractor: ExtractorConfig{
			Mode:     "rule",
			Model:    "googleai/gemini-2.0-flash",
			CacheTTL: Duration{time.Minute * 10},
		},
		API: APIConfig{
			BaseURL: "http://localhost:8000/api/v1",
			Timeout: Duration{time.Second * 20},
			AppURL:  "http://localhost:3000",
		},
		Recorder: RecorderConfig{
			Driver: "memory",
		},
		Events: EventsConfig{
			Enabled:     true,
			BufferSize:  100,
			WorkerCount: 5,
			Exchange:    "actionflow.events",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig and applies environment overrides.
// An empty path returns the defaults with overrides applied.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, NewConfigurationError(fmt.Sprintf("failed to load config %s", path), err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ACTIONFLOW_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("ACTIONFLOW_API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("DB_URL"); v != "" && c.Recorder.Driver == "postgres" {
		c.Recorder.DSN = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		c.Events.AMQPURL = v
	}
}

// Validate checks for values the runtime cannot work with.
func (c Config) Validate() error {
	if c.Executor.MaxWorkers < 1 {
		return NewConfigurationError("executor.max_workers must be at least 1", nil)
	}
	if c.Executor.MaxRetries < 0 {
		return NewConfigurationError("executor.max_retries must not be negative", nil)
	}
	switch c.Extractor.Mode {
	case "rule", "llm":
	default:
		return NewConfigurationError(fmt.Sprintf("unknown extractor mode %q", c.Extractor.Mode), nil)
	}
	switch c.Recorder.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Recorder.DSN == "" {
			return NewConfigurationError(fmt.Sprintf("recorder.dsn is required for driver %q", c.Recorder.Driver), nil)
		}
	default:
		return NewConfigurationError(fmt.Sprintf("unknown recorder driver %q", c.Recorder.Driver), nil)
	}
	return nil
}
