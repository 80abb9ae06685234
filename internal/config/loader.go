package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/parley-org/parley/internal/build"
	"github.com/parley-org/parley/internal/fileutil"
)

// appHomeEnv overrides the whole directory layout when set, placing
// config, data and logs under a single root.
const appHomeEnv = "PARLEY_HOME"

// ConfigLoader assembles the runtime configuration from the config
// file, environment variables and built-in defaults.
type ConfigLoader struct {
	v          *viper.Viper
	configFile string
	appHomeDir string
	warnings   []string
}

// ConfigLoaderOption customizes a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// WithConfigFile loads the given file instead of searching the config
// directory.
func WithConfigFile(configFile string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.configFile = configFile
	}
}

// WithAppHomeDir places config, data and logs under the given root,
// taking precedence over PARLEY_HOME and the XDG layout.
func WithAppHomeDir(dir string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.appHomeDir = dir
	}
}

// NewConfigLoader creates a ConfigLoader with the given viper instance
// and options.
func NewConfigLoader(v *viper.Viper, options ...ConfigLoaderOption) *ConfigLoader {
	loader := &ConfigLoader{v: v}
	for _, opt := range options {
		opt(loader)
	}
	return loader
}

// Load reads the configuration with a fresh viper instance.
func Load(options ...ConfigLoaderOption) (*Config, error) {
	return NewConfigLoader(viper.New(), options...).Load()
}

// Load reads the config file, applies defaults and environment
// overrides, and returns a validated Config.
func (l *ConfigLoader) Load() (*Config, error) {
	// A .env next to the working directory is picked up silently, the
	// same way direnv-style setups expect.
	_ = godotenv.Load()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	xdgConfig := XDGConfig{
		DataHome:   xdg.DataHome,
		ConfigHome: filepath.Join(homeDir, ".config"),
	}

	paths := l.resolveAppPaths(xdgConfig)
	l.configureViper(paths.ConfigDir)
	l.bindEnvironmentVariables()
	l.setDefaultValues(paths)

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var def Definition
	if err := l.v.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg, err := l.buildConfig(def)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}
	cfg.Paths.ConfigDir = paths.ConfigDir
	cfg.Paths.ConfigFileUsed = l.v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Warnings = l.warnings
	return cfg, nil
}

func (l *ConfigLoader) resolveAppPaths(xdgConfig XDGConfig) Paths {
	if l.appHomeDir != "" {
		return setUnifiedPaths(fileutil.ResolvePathOrBlank(l.appHomeDir))
	}
	return ResolvePaths(appHomeEnv, xdgConfig)
}

func (l *ConfigLoader) configureViper(configDir string) {
	if l.configFile == "" {
		l.v.AddConfigPath(configDir)
		l.v.SetConfigName("config")
	} else {
		l.v.SetConfigFile(l.configFile)
	}
	l.v.SetConfigType("yaml")
	l.v.SetEnvPrefix(strings.ToUpper(build.Slug))
	l.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	l.v.AutomaticEnv()
}

type envBinding struct {
	key    string
	env    string
	isPath bool
}

var envBindings = []envBinding{
	// Server
	{key: "server.host", env: "HOST"},
	{key: "server.port", env: "PORT"},

	// Paths
	{key: "paths.dataDir", env: "DATA_DIR", isPath: true},
	{key: "paths.logDir", env: "LOG_DIR", isPath: true},

	// LLM
	{key: "llm.localBaseURL", env: "LLM_LOCAL_BASE_URL"},
	{key: "llm.remoteBaseURL", env: "LLM_REMOTE_BASE_URL"},
	{key: "llm.remoteAPIKey", env: "LLM_REMOTE_API_KEY"},
	{key: "llm.timeout", env: "LLM_TIMEOUT"},

	// Orchestrator
	{key: "orchestrator.modelDelay", env: "MODEL_DELAY"},
	{key: "orchestrator.enableStreaming", env: "ENABLE_STREAMING"},
	{key: "orchestrator.singleModelMode", env: "SINGLE_MODEL_MODE"},
	{key: "orchestrator.maxRetries", env: "MAX_RETRIES"},
	{key: "orchestrator.turnTimeout", env: "TURN_TIMEOUT"},
	{key: "orchestrator.summaryTurnTimeout", env: "SUMMARY_TURN_TIMEOUT"},

	// Storage
	{key: "storage.autoSaveInterval", env: "AUTO_SAVE_INTERVAL"},
	{key: "storage.backupSchedule", env: "BACKUP_SCHEDULE"},
	{key: "storage.backupRetention", env: "BACKUP_RETENTION"},

	// Telemetry
	{key: "telemetry.otel.enabled", env: "OTEL_ENABLED"},
	{key: "telemetry.otel.endpoint", env: "OTEL_ENDPOINT"},
	{key: "telemetry.otel.insecure", env: "OTEL_INSECURE"},

	// Logging
	{key: "logging.level", env: "LOG_LEVEL"},
	{key: "logging.format", env: "LOG_FORMAT"},
	{key: "logging.file", env: "LOG_FILE", isPath: true},
	{key: "logging.quiet", env: "QUIET"},
}

func (l *ConfigLoader) bindEnvironmentVariables() {
	prefix := strings.ToUpper(build.Slug) + "_"

	for _, b := range envBindings {
		fullEnv := prefix + b.env

		if b.isPath {
			if val := os.Getenv(fullEnv); val != "" {
				if abs, err := filepath.Abs(val); err == nil && abs != val {
					_ = os.Setenv(fullEnv, abs)
				}
			}
		}

		_ = l.v.BindEnv(b.key, fullEnv)
	}
}

func (l *ConfigLoader) setDefaultValues(paths Paths) {
	// Server
	l.v.SetDefault("server.host", "127.0.0.1")
	l.v.SetDefault("server.port", 8765)

	// Paths
	l.v.SetDefault("paths.dataDir", paths.DataDir)
	l.v.SetDefault("paths.logDir", paths.LogDir)

	// LLM
	l.v.SetDefault("llm.localBaseURL", "http://localhost")
	l.v.SetDefault("llm.localPorts", []int{11434, 8080, 5000, 8000})
	l.v.SetDefault("llm.remoteBaseURL", "https://openrouter.ai/api/v1")
	l.v.SetDefault("llm.timeout", "120s")

	// Orchestrator
	l.v.SetDefault("orchestrator.modelDelay", DefaultModelDelayMillis)
	l.v.SetDefault("orchestrator.enableStreaming", true)
	l.v.SetDefault("orchestrator.singleModelMode", true)
	l.v.SetDefault("orchestrator.maxRetries", 2)
	l.v.SetDefault("orchestrator.minResponseLength", 20)
	l.v.SetDefault("orchestrator.turnTimeout", "5m")
	l.v.SetDefault("orchestrator.summaryTurnTimeout", "90s")

	// Context
	l.v.SetDefault("context.maxContextMessages", DefaultMaxContextMessages)
	l.v.SetDefault("context.maxContextLength", 8000)
	l.v.SetDefault("context.maxContextTokens", 4096)
	l.v.SetDefault("context.maxMessageTokens", 1024)

	// Token estimation
	l.v.SetDefault("tokenEstimation.charsPerToken", 2.8)
	l.v.SetDefault("tokenEstimation.tokensPerWord", 1.4)

	// Performance
	l.v.SetDefault("performance.adaptiveContextSize", true)
	l.v.SetDefault("performance.contextReductionFactor", DefaultContextReductionFactor)
	l.v.SetDefault("performance.maxRoundsBeforeReduction", DefaultMaxRoundsBeforeReduction)
	l.v.SetDefault("performance.tokenBroadcastThrottle", DefaultTokenBroadcastThrottle)
	l.v.SetDefault("performance.streamingUpdateInterval", DefaultStreamingUpdateMillis)
	l.v.SetDefault("performance.similarityThreshold", DefaultSimilarityThreshold)
	l.v.SetDefault("performance.cacheCleanupInterval", "5m")
	l.v.SetDefault("performance.memoryCleanupInterval", "10m")
	l.v.SetDefault("performance.maxCacheSize", 1000)

	// Storage
	l.v.SetDefault("storage.autoSaveInterval", "30s")
	l.v.SetDefault("storage.backupRetention", 10)
	l.v.SetDefault("storage.backupSchedule", "")
	l.v.SetDefault("storage.backupOnStart", false)

	// Telemetry
	l.v.SetDefault("telemetry.otel.enabled", false)
	l.v.SetDefault("telemetry.otel.endpoint", "")
	l.v.SetDefault("telemetry.otel.insecure", false)
	l.v.SetDefault("telemetry.otel.timeout", "10s")

	// Logging
	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "text")
	l.v.SetDefault("logging.file", "")
	l.v.SetDefault("logging.quiet", false)
}

// buildConfig transforms the Definition into a Config, clamping
// out-of-range values and collecting warnings.
func (l *ConfigLoader) buildConfig(def Definition) (*Config, error) {
	var cfg Config

	cfg.Server = Server{
		Host: def.Server.Host,
		Port: def.Server.Port,
	}

	if err := l.loadPathsConfig(&cfg, def); err != nil {
		return nil, err
	}
	l.loadLLMConfig(&cfg, def)
	l.loadOrchestratorConfig(&cfg, def)
	l.loadContextConfig(&cfg, def)
	l.loadPerformanceConfig(&cfg, def)
	l.loadStorageConfig(&cfg, def)
	l.loadTelemetryConfig(&cfg, def)

	cfg.Logging = Logging{
		Level:  def.Logging.Level,
		Format: def.Logging.Format,
		File:   def.Logging.File,
		Quiet:  def.Logging.Quiet,
	}

	return &cfg, nil
}

func (l *ConfigLoader) loadPathsConfig(cfg *Config, def Definition) error {
	dataDir, err := l.resolvePath("paths.dataDir", def.Paths.DataDir)
	if err != nil {
		return err
	}
	logDir, err := l.resolvePath("paths.logDir", def.Paths.LogDir)
	if err != nil {
		return err
	}
	cfg.Paths.DataDir = dataDir
	cfg.Paths.LogDir = logDir
	return nil
}

func (l *ConfigLoader) loadLLMConfig(cfg *Config, def Definition) {
	cfg.LLM = LLM{
		LocalBaseURL:  strings.TrimRight(def.LLM.LocalBaseURL, "/"),
		LocalPorts:    def.LLM.LocalPorts,
		RemoteBaseURL: strings.TrimRight(def.LLM.RemoteBaseURL, "/"),
		RemoteAPIKey:  def.LLM.RemoteAPIKey,
		Timeout:       l.parseDuration("llm.timeout", def.LLM.Timeout, 120*time.Second),
	}
	if cfg.LLM.RemoteAPIKey == "" {
		cfg.LLM.RemoteAPIKey = os.Getenv("OPENROUTER_API_KEY")
	}
}

func (l *ConfigLoader) loadOrchestratorConfig(cfg *Config, def Definition) {
	delay := l.clampInt("orchestrator.modelDelay", def.Orchestrator.ModelDelay, 0, 5000)
	cfg.Orchestrator = Orchestrator{
		ModelDelay:         time.Duration(delay) * time.Millisecond,
		EnableStreaming:    def.Orchestrator.EnableStreaming,
		SingleModelMode:    def.Orchestrator.SingleModelMode,
		MaxRetries:         l.clampInt("orchestrator.maxRetries", def.Orchestrator.MaxRetries, 0, 10),
		MinResponseLength:  l.clampInt("orchestrator.minResponseLength", def.Orchestrator.MinResponseLength, 1, 10000),
		TurnTimeout:        l.parseDuration("orchestrator.turnTimeout", def.Orchestrator.TurnTimeout, 5*time.Minute),
		SummaryTurnTimeout: l.parseDuration("orchestrator.summaryTurnTimeout", def.Orchestrator.SummaryTurnTimeout, 90*time.Second),
	}
}

func (l *ConfigLoader) loadContextConfig(cfg *Config, def Definition) {
	cfg.Context = Context{
		MaxContextMessages: l.clampInt("context.maxContextMessages", def.Context.MaxContextMessages, 1, 20),
		MaxContextLength:   def.Context.MaxContextLength,
		MaxContextTokens:   def.Context.MaxContextTokens,
		MaxMessageTokens:   def.Context.MaxMessageTokens,
	}
	cfg.TokenEstimation = TokenEstimation{
		CharsPerToken: def.TokenEstimation.CharsPerToken,
		TokensPerWord: def.TokenEstimation.TokensPerWord,
	}
}

func (l *ConfigLoader) loadPerformanceConfig(cfg *Config, def Definition) {
	interval := l.clampInt("performance.streamingUpdateInterval", def.Performance.StreamingUpdateInterval, 50, 1000)
	cfg.Performance = Performance{
		AdaptiveContextSize:      def.Performance.AdaptiveContextSize,
		ContextReductionFactor:   l.clampFloat("performance.contextReductionFactor", def.Performance.ContextReductionFactor, 0.1, 1.0),
		MaxRoundsBeforeReduction: l.clampInt("performance.maxRoundsBeforeReduction", def.Performance.MaxRoundsBeforeReduction, 1, 20),
		TokenBroadcastThrottle:   l.clampInt("performance.tokenBroadcastThrottle", def.Performance.TokenBroadcastThrottle, 1, 100),
		StreamingUpdateInterval:  time.Duration(interval) * time.Millisecond,
		SimilarityThreshold:      l.clampFloat("performance.similarityThreshold", def.Performance.SimilarityThreshold, 0, 1),
		CacheCleanupInterval:     l.parseDuration("performance.cacheCleanupInterval", def.Performance.CacheCleanupInterval, 5*time.Minute),
		MemoryCleanupInterval:    l.parseDuration("performance.memoryCleanupInterval", def.Performance.MemoryCleanupInterval, 10*time.Minute),
		MaxCacheSize:             l.clampInt("performance.maxCacheSize", def.Performance.MaxCacheSize, 1, 100000),
	}
}

func (l *ConfigLoader) loadStorageConfig(cfg *Config, def Definition) {
	cfg.Storage = Storage{
		AutoSaveInterval: l.parseDuration("storage.autoSaveInterval", def.Storage.AutoSaveInterval, 30*time.Second),
		BackupRetention:  l.clampInt("storage.backupRetention", def.Storage.BackupRetention, 1, 1000),
		BackupSchedule:   def.Storage.BackupSchedule,
		BackupOnStart:    def.Storage.BackupOnStart,
	}
}

func (l *ConfigLoader) loadTelemetryConfig(cfg *Config, def Definition) {
	cfg.Telemetry.OTel = OTel{
		Enabled:  def.Telemetry.OTel.Enabled,
		Endpoint: def.Telemetry.OTel.Endpoint,
		Insecure: def.Telemetry.OTel.Insecure,
		Timeout:  l.parseDuration("telemetry.otel.timeout", def.Telemetry.OTel.Timeout, 10*time.Second),
		Headers:  def.Telemetry.OTel.Headers,
	}
}

func (l *ConfigLoader) resolvePath(fieldName, pathValue string) (string, error) {
	resolved, err := fileutil.ResolvePath(pathValue)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", fieldName, err)
	}
	return resolved, nil
}

func (l *ConfigLoader) parseDuration(fieldName, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		l.warnings = append(l.warnings, fmt.Sprintf("invalid %s value %q, using %s", fieldName, value, fallback))
		return fallback
	}
	return duration
}

func (l *ConfigLoader) clampInt(fieldName string, value, lo, hi int) int {
	switch {
	case value < lo:
		l.warnings = append(l.warnings, fmt.Sprintf("%s value %d below minimum, using %d", fieldName, value, lo))
		return lo
	case value > hi:
		l.warnings = append(l.warnings, fmt.Sprintf("%s value %d above maximum, using %d", fieldName, value, hi))
		return hi
	default:
		return value
	}
}

func (l *ConfigLoader) clampFloat(fieldName string, value, lo, hi float64) float64 {
	switch {
	case value < lo:
		l.warnings = append(l.warnings, fmt.Sprintf("%s value %g below minimum, using %g", fieldName, value, lo))
		return lo
	case value > hi:
		l.warnings = append(l.warnings, fmt.Sprintf("%s value %g above maximum, using %g", fieldName, value, hi))
		return hi
	default:
		return value
	}
}
