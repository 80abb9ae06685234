package config

import (
	"fmt"
	"time"
)

// Config holds the resolved runtime configuration. It is produced by
// ConfigLoader and treated as read-only afterwards; the orchestrator
// keeps its own guarded copy of the tunable subset (see Tuning).
type Config struct {
	Server          Server
	Paths           PathsConfig
	LLM             LLM
	Orchestrator    Orchestrator
	Context         Context
	TokenEstimation TokenEstimation
	Performance     Performance
	Storage         Storage
	Telemetry       Telemetry
	Logging         Logging

	// Warnings collects non-fatal issues found while loading, such as
	// unparsable durations or out-of-range values that were clamped.
	Warnings []string
}

// Server holds HTTP listener settings.
type Server struct {
	Host string
	Port int
}

// Addr returns the host:port to bind the HTTP listener to.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PathsConfig holds resolved filesystem locations.
type PathsConfig struct {
	// ConfigDir is where the config file was searched for.
	ConfigDir string

	// DataDir is the storage root holding discussions/, index.json,
	// metadata.json and backups/.
	DataDir string

	// LogDir receives application log files.
	LogDir string

	// ConfigFileUsed is the config file actually loaded, if any.
	ConfigFileUsed string
}

// LLM holds model backend settings.
type LLM struct {
	LocalBaseURL  string
	LocalPorts    []int
	RemoteBaseURL string
	RemoteAPIKey  string
	Timeout       time.Duration
}

// Orchestrator holds discussion loop settings.
type Orchestrator struct {
	ModelDelay         time.Duration
	EnableStreaming    bool
	SingleModelMode    bool
	MaxRetries         int
	MinResponseLength  int
	TurnTimeout        time.Duration
	SummaryTurnTimeout time.Duration
}

// Context holds context assembly limits.
type Context struct {
	MaxContextMessages int
	MaxContextLength   int
	MaxContextTokens   int
	MaxMessageTokens   int
}

// TokenEstimation holds the token estimation coefficients.
type TokenEstimation struct {
	CharsPerToken float64
	TokensPerWord float64
}

// Performance holds runtime tuning knobs.
type Performance struct {
	AdaptiveContextSize      bool
	ContextReductionFactor   float64
	MaxRoundsBeforeReduction int
	TokenBroadcastThrottle   int
	StreamingUpdateInterval  time.Duration
	SimilarityThreshold      float64
	CacheCleanupInterval     time.Duration
	MemoryCleanupInterval    time.Duration
	MaxCacheSize             int
}

// Storage holds persistence settings.
type Storage struct {
	AutoSaveInterval time.Duration
	BackupRetention  int
	BackupSchedule   string
	BackupOnStart    bool
}

// Telemetry holds trace export settings.
type Telemetry struct {
	OTel OTel
}

// OTel holds OTLP exporter settings.
type OTel struct {
	Enabled  bool
	Endpoint string
	Insecure bool
	Timeout  time.Duration
	Headers  map[string]string
}

// Logging holds log output settings.
type Logging struct {
	Level  string
	Format string
	File   string
	Quiet  bool
}

// Validate checks invariants the loader cannot repair by clamping.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateEstimation(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Server.Port)
	}
	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.LocalBaseURL == "" {
		return fmt.Errorf("llm.localBaseURL must not be empty")
	}
	if len(c.LLM.LocalPorts) == 0 {
		return fmt.Errorf("llm.localPorts must list at least one port")
	}
	for _, p := range c.LLM.LocalPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("invalid local port: %d", p)
		}
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}
	return nil
}

func (c *Config) validateEstimation() error {
	if c.TokenEstimation.CharsPerToken <= 0 {
		return fmt.Errorf("tokenEstimation.charsPerToken must be positive")
	}
	if c.TokenEstimation.TokensPerWord <= 0 {
		return fmt.Errorf("tokenEstimation.tokensPerWord must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	return nil
}
