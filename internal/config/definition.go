package config

// Definition mirrors the configuration file layout. Values are kept in
// their raw form (durations as strings) and converted into a Config by
// the loader, which records warnings for values it cannot use.
type Definition struct {
	Server          ServerDef          `mapstructure:"server"`
	Paths           PathsDef           `mapstructure:"paths"`
	LLM             LLMDef             `mapstructure:"llm"`
	Orchestrator    OrchestratorDef    `mapstructure:"orchestrator"`
	Context         ContextDef         `mapstructure:"context"`
	TokenEstimation TokenEstimationDef `mapstructure:"tokenEstimation"`
	Performance     PerformanceDef     `mapstructure:"performance"`
	Storage         StorageDef         `mapstructure:"storage"`
	Telemetry       TelemetryDef       `mapstructure:"telemetry"`
	Logging         LoggingDef         `mapstructure:"logging"`
}

// ServerDef configures the HTTP listener.
type ServerDef struct {
	// Host is the address the server binds to.
	Host string `mapstructure:"host"`

	// Port is the TCP port the server listens on.
	Port int `mapstructure:"port"`
}

// PathsDef configures filesystem locations.
type PathsDef struct {
	// DataDir is the root directory for discussion files, the index and
	// backups.
	DataDir string `mapstructure:"dataDir"`

	// LogDir is the directory for application log files.
	LogDir string `mapstructure:"logDir"`
}

// LLMDef configures how model backends are reached.
type LLMDef struct {
	// LocalBaseURL is the scheme and host probed for local daemons.
	// Ports from LocalPorts are appended to it.
	LocalBaseURL string `mapstructure:"localBaseURL"`

	// LocalPorts lists candidate ports for a local daemon, probed in
	// order.
	LocalPorts []int `mapstructure:"localPorts"`

	// RemoteBaseURL is the base URL of the remote completion API.
	RemoteBaseURL string `mapstructure:"remoteBaseURL"`

	// RemoteAPIKey is the bearer credential for the remote API. Falls
	// back to the OPENROUTER_API_KEY environment variable when empty.
	RemoteAPIKey string `mapstructure:"remoteAPIKey"`

	// Timeout bounds a single completion request, e.g. "120s".
	Timeout string `mapstructure:"timeout"`
}

// OrchestratorDef configures the discussion loop.
type OrchestratorDef struct {
	// ModelDelay is the pause between consecutive turns in milliseconds
	// (0..5000).
	ModelDelay int `mapstructure:"modelDelay"`

	// EnableStreaming toggles the streaming path of the turn executor.
	EnableStreaming bool `mapstructure:"enableStreaming"`

	// SingleModelMode enforces at most one model in flight per
	// discussion.
	SingleModelMode bool `mapstructure:"singleModelMode"`

	// MaxRetries is the number of extra attempts per turn (0..10).
	MaxRetries int `mapstructure:"maxRetries"`

	// MinResponseLength is the minimum accepted response length in
	// characters.
	MinResponseLength int `mapstructure:"minResponseLength"`

	// TurnTimeout bounds a single discussion turn, e.g. "5m".
	TurnTimeout string `mapstructure:"turnTimeout"`

	// SummaryTurnTimeout bounds a single summary attempt before the
	// ladder steps down, e.g. "90s".
	SummaryTurnTimeout string `mapstructure:"summaryTurnTimeout"`
}

// ContextDef configures context assembly limits.
type ContextDef struct {
	// MaxContextMessages is the base message cap before adaptive
	// reduction (1..20).
	MaxContextMessages int `mapstructure:"maxContextMessages"`

	// MaxContextLength is an advisory character cap kept for
	// compatibility with older config files.
	MaxContextLength int `mapstructure:"maxContextLength"`

	// MaxContextTokens is the token budget for an assembled context.
	MaxContextTokens int `mapstructure:"maxContextTokens"`

	// MaxMessageTokens is the per-message token cap inside the context.
	MaxMessageTokens int `mapstructure:"maxMessageTokens"`
}

// TokenEstimationDef configures the token estimation formula.
type TokenEstimationDef struct {
	CharsPerToken float64 `mapstructure:"charsPerToken"`
	TokensPerWord float64 `mapstructure:"tokensPerWord"`
}

// PerformanceDef configures runtime tuning knobs.
type PerformanceDef struct {
	// AdaptiveContextSize enables context shrinkage as rounds
	// accumulate.
	AdaptiveContextSize bool `mapstructure:"adaptiveContextSize"`

	// ContextReductionFactor is the shrinkage base (0.1..1.0).
	ContextReductionFactor float64 `mapstructure:"contextReductionFactor"`

	// MaxRoundsBeforeReduction is the round count after which shrinkage
	// starts (1..20).
	MaxRoundsBeforeReduction int `mapstructure:"maxRoundsBeforeReduction"`

	// TokenBroadcastThrottle is the token batch size K for streaming
	// events (1..100).
	TokenBroadcastThrottle int `mapstructure:"tokenBroadcastThrottle"`

	// StreamingUpdateInterval is the time slice T for streaming events
	// in milliseconds (50..1000).
	StreamingUpdateInterval int `mapstructure:"streamingUpdateInterval"`

	// SimilarityThreshold is the normalized similarity above which two
	// texts are considered duplicates (0..1).
	SimilarityThreshold float64 `mapstructure:"similarityThreshold"`

	// CacheCleanupInterval is how often expired context cache entries
	// are purged, e.g. "5m".
	CacheCleanupInterval string `mapstructure:"cacheCleanupInterval"`

	// MemoryCleanupInterval is how often completed discussions are
	// evicted from memory, e.g. "10m".
	MemoryCleanupInterval string `mapstructure:"memoryCleanupInterval"`

	// MaxCacheSize caps the number of cached context entries.
	MaxCacheSize int `mapstructure:"maxCacheSize"`
}

// StorageDef configures persistence behavior.
type StorageDef struct {
	// AutoSaveInterval is the period between auto-save sweeps of active
	// discussions, e.g. "30s".
	AutoSaveInterval string `mapstructure:"autoSaveInterval"`

	// BackupRetention is the number of backup directories kept.
	BackupRetention int `mapstructure:"backupRetention"`

	// BackupSchedule is a cron expression for periodic backups. Empty
	// disables scheduled backups.
	BackupSchedule string `mapstructure:"backupSchedule"`

	// BackupOnStart triggers a backup when the server starts.
	BackupOnStart bool `mapstructure:"backupOnStart"`
}

// TelemetryDef configures trace export.
type TelemetryDef struct {
	OTel OTelDef `mapstructure:"otel"`
}

// OTelDef configures the OTLP trace exporter.
type OTelDef struct {
	Enabled  bool              `mapstructure:"enabled"`
	Endpoint string            `mapstructure:"endpoint"`
	Insecure bool              `mapstructure:"insecure"`
	Timeout  string            `mapstructure:"timeout"`
	Headers  map[string]string `mapstructure:"headers"`
}

// LoggingDef configures log output.
type LoggingDef struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is one of text, json.
	Format string `mapstructure:"format"`

	// File, when set, receives log output in addition to stderr.
	File string `mapstructure:"file"`

	// Quiet suppresses console output.
	Quiet bool `mapstructure:"quiet"`
}
