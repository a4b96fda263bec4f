package reelforge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	constant "github.com/LerianStudio/lib-reelforge/reelforge/constants"
	"github.com/LerianStudio/lib-reelforge/reelforge/jobstore"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	httpapi "github.com/LerianStudio/lib-reelforge/reelforge/net/http"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry"
	"github.com/LerianStudio/lib-reelforge/reelforge/pipeline"
	"github.com/LerianStudio/lib-reelforge/reelforge/resource"
	"github.com/LerianStudio/lib-reelforge/reelforge/stage"
	"github.com/LerianStudio/lib-reelforge/reelforge/zap"
)

// ErrInvalidConfig wraps every Config validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the process configuration, read from the environment.
// Zero numeric values mean "use the component default"; zero memory or cpu
// means "size from the host".
type Config struct {
	EnvName         string        `env:"ENV_NAME" validate:"oneof=production staging development local"`
	LogLevel        string        `env:"LOG_LEVEL"`
	ServiceName     string        `env:"OTEL_RESOURCE_SERVICE_NAME" validate:"required"`
	ServiceVersion  string        `env:"OTEL_RESOURCE_SERVICE_VERSION"`
	ServerAddress   string        `env:"SERVER_ADDRESS" validate:"required"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" validate:"gte=0"`

	CORSAllowOrigins string        `env:"ACCESS_CONTROL_ALLOW_ORIGIN"`
	SubmitRateLimit  int           `env:"SUBMIT_RATE_LIMIT" validate:"gte=0"`
	SubmitRateWindow time.Duration `env:"SUBMIT_RATE_WINDOW" validate:"gte=0"`

	MemoryUnits    int64         `env:"RESOURCE_MEMORY_UNITS" validate:"gte=0"`
	CPUUnits       int64         `env:"RESOURCE_CPU_UNITS" validate:"gte=0"`
	VoiceSlots     int           `env:"RESOURCE_VOICE_SLOTS" validate:"gte=0"`
	VisualSlots    int           `env:"RESOURCE_VISUAL_SLOTS" validate:"gte=0"`
	OverlaySlots   int           `env:"RESOURCE_OVERLAY_SLOTS" validate:"gte=0"`
	AssemblySlots  int           `env:"RESOURCE_ASSEMBLY_SLOTS" validate:"gte=0"`
	AcquireTimeout time.Duration `env:"RESOURCE_ACQUIRE_TIMEOUT" validate:"gte=0"`

	// Shared breaker and retry settings for the per-scene providers (voice,
	// visual, overlay). Assembly does not inherit them.
	BreakerFailureThreshold uint32        `env:"BREAKER_FAILURE_THRESHOLD"`
	BreakerRecoveryTimeout  time.Duration `env:"BREAKER_RECOVERY_TIMEOUT" validate:"gte=0"`
	RetryMaxAttempts        int           `env:"RETRY_MAX_ATTEMPTS" validate:"gte=0,lte=20"`
	RetryBaseDelay          time.Duration `env:"RETRY_BASE_DELAY" validate:"gte=0"`
	RetryMaxDelay           time.Duration `env:"RETRY_MAX_DELAY" validate:"gte=0"`
	StageCallTimeout        time.Duration `env:"STAGE_CALL_TIMEOUT" validate:"gte=0"`

	// Per-dependency overrides, e.g. VISUAL_RETRY_MAX_ATTEMPTS or
	// ASSEMBLY_BREAKER_RECOVERY_TIMEOUT.
	Voice    DependencyConfig `envPrefix:"VOICE_"`
	Visual   DependencyConfig `envPrefix:"VISUAL_"`
	Overlay  DependencyConfig `envPrefix:"OVERLAY_"`
	Assembly DependencyConfig `envPrefix:"ASSEMBLY_"`

	JobTimeout         time.Duration `env:"JOB_TIMEOUT" validate:"gte=0"`
	SceneConcurrency   int           `env:"SCENE_CONCURRENCY" validate:"gte=0"`
	EventSinkQueueSize int           `env:"EVENT_SINK_QUEUE_SIZE" validate:"gte=0"`

	// Telemetry exports traces, metrics and logs over OTLP gRPC when enabled.
	EnableTelemetry   bool   `env:"ENABLE_TELEMETRY"`
	CollectorEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Redis is optional; an empty address keeps jobs in memory.
	RedisAddress    string        `env:"REDIS_HOST"`
	RedisMasterName string        `env:"REDIS_MASTER_NAME"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" validate:"gte=0"`

	// JobTTL expires archived jobs, in Redis and in memory.
	JobTTL time.Duration `env:"JOB_TTL" validate:"gte=0"`

	// JobArchiveMaxEntries bounds the in-memory archive; zero is unbounded.
	JobArchiveMaxEntries int `env:"JOB_ARCHIVE_MAX_ENTRIES" validate:"gte=0"`

	// RabbitMQ is optional; an empty URL disables progress publishing.
	RabbitURL      string `env:"RABBITMQ_URL"`
	RabbitExchange string `env:"RABBITMQ_EXCHANGE"`

	// OutputDir is where the local collaborators write media.
	OutputDir string `env:"OUTPUT_DIR"`
}

// DependencyConfig overrides the breaker, retry and call timeout of one
// dependency. Zero values fall back to the shared settings, then to the
// stage defaults.
type DependencyConfig struct {
	BreakerFailureThreshold uint32        `env:"BREAKER_FAILURE_THRESHOLD"`
	BreakerRecoveryTimeout  time.Duration `env:"BREAKER_RECOVERY_TIMEOUT" validate:"gte=0"`
	RetryMaxAttempts        int           `env:"RETRY_MAX_ATTEMPTS" validate:"gte=0,lte=20"`
	RetryBaseDelay          time.Duration `env:"RETRY_BASE_DELAY" validate:"gte=0"`
	RetryMaxDelay           time.Duration `env:"RETRY_MAX_DELAY" validate:"gte=0"`
	CallTimeout             time.Duration `env:"CALL_TIMEOUT" validate:"gte=0"`
}

// orElse fills the zero fields of d from fallback.
func (d DependencyConfig) orElse(fallback DependencyConfig) DependencyConfig {
	if d.BreakerFailureThreshold == 0 {
		d.BreakerFailureThreshold = fallback.BreakerFailureThreshold
	}

	if d.BreakerRecoveryTimeout == 0 {
		d.BreakerRecoveryTimeout = fallback.BreakerRecoveryTimeout
	}

	if d.RetryMaxAttempts == 0 {
		d.RetryMaxAttempts = fallback.RetryMaxAttempts
	}

	if d.RetryBaseDelay == 0 {
		d.RetryBaseDelay = fallback.RetryBaseDelay
	}

	if d.RetryMaxDelay == 0 {
		d.RetryMaxDelay = fallback.RetryMaxDelay
	}

	if d.CallTimeout == 0 {
		d.CallTimeout = fallback.CallTimeout
	}

	return d
}

// Default slot counts per class. Unset slot variables start from these and
// shrink until every class's reservation fits in the capacity.
var defaultSlots = map[stage.Kind]int{
	stage.KindVoice:    4,
	stage.KindVisual:   2,
	stage.KindOverlay:  4,
	stage.KindAssembly: 1,
}

// DefaultConfig returns the configuration used when no variable is set.
func DefaultConfig() Config {
	return Config{
		EnvName:         string(zap.EnvironmentDevelopment),
		LogLevel:        "info",
		ServiceName:     "reelforge",
		ServerAddress:   ":8080",
		ShutdownTimeout: 30 * time.Second,
		AcquireTimeout:  5 * time.Minute,
		JobTimeout:      pipeline.DefaultConfig().JobTimeout,
		JobTTL:          7 * 24 * time.Hour,
		RabbitExchange:  "reelforge.progress",
		OutputDir:       "./out",

		JobArchiveMaxEntries: 10000,
	}
}

// LoadConfig reads DefaultConfig overridden by the environment.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if err := SetConfigFromEnvVars(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks field ranges and the cross-field retry delay bound.
func (c Config) Validate() error {
	if err := stage.Validator().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.EnableTelemetry && strings.TrimSpace(c.CollectorEndpoint) == "" {
		return fmt.Errorf("%w: ENABLE_TELEMETRY requires OTEL_EXPORTER_OTLP_ENDPOINT", ErrInvalidConfig)
	}

	if c.RetryBaseDelay > 0 && c.RetryMaxDelay > 0 && c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("%w: RETRY_MAX_DELAY must not be below RETRY_BASE_DELAY", ErrInvalidConfig)
	}

	for _, kind := range stage.Kinds() {
		d := c.dependency(kind)
		if d.RetryBaseDelay > 0 && d.RetryMaxDelay > 0 && d.RetryMaxDelay < d.RetryBaseDelay {
			return fmt.Errorf("%w: %s retry max delay must not be below its base delay", ErrInvalidConfig, kind)
		}
	}

	return nil
}

// LoggerConfig returns the zap logger inputs.
func (c Config) LoggerConfig() zap.Config {
	return zap.Config{
		Environment: zap.Environment(c.EnvName),
		Level:       c.LogLevel,
		ServiceName: c.ServiceName,
	}
}

// TelemetryConfig returns the OTLP provider inputs.
func (c Config) TelemetryConfig(logger log.Logger) *opentelemetry.TelemetryConfig {
	return &opentelemetry.TelemetryConfig{
		LibraryName:               constant.TelemetrySDKName,
		ServiceName:               c.ServiceName,
		ServiceVersion:            c.ServiceVersion,
		DeploymentEnv:             c.EnvName,
		CollectorExporterEndpoint: strings.TrimSpace(c.CollectorEndpoint),
		EnableTelemetry:           c.EnableTelemetry,
		Logger:                    logger,
	}
}

// HTTPConfig returns the API middleware configuration. The limiter storage
// is left for the caller to share with the job store.
func (c Config) HTTPConfig() httpapi.AppConfig {
	return httpapi.AppConfig{
		CORS:         httpapi.CORSConfig{AllowOrigins: c.CORSAllowOrigins},
		SubmitLimit:  c.SubmitRateLimit,
		SubmitWindow: c.SubmitRateWindow,
	}
}

// ResourceConfig returns the resource manager configuration. Zero memory
// or cpu is sized from the host. Every class gets a reserved budget of
// slots times its stage demand, so one slow stage cannot hold capacity the
// others need. Slot counts left unset shrink from the defaults until the
// reservations fit; configured slot counts that do not fit are rejected.
func (c Config) ResourceConfig() (resource.Config, error) {
	capacity, err := resource.Resolve(resource.Capacity{MemoryUnits: c.MemoryUnits, CPUUnits: c.CPUUnits})
	if err != nil {
		return resource.Config{}, fmt.Errorf("resolving resource capacity: %w", err)
	}

	configured := map[stage.Kind]int{
		stage.KindVoice:    c.VoiceSlots,
		stage.KindVisual:   c.VisualSlots,
		stage.KindOverlay:  c.OverlaySlots,
		stage.KindAssembly: c.AssemblySlots,
	}

	slots := make(map[stage.Kind]int, len(configured))
	for kind, n := range configured {
		if n <= 0 {
			n = defaultSlots[kind]
		}

		slots[kind] = n
	}

	capacity.Slots = make(map[resource.Class]int, len(slots))
	capacity.Reserved = make(map[resource.Class]resource.Budget, len(slots))

	for {
		for kind, n := range slots {
			demand := c.StageConfig(kind).Demand
			capacity.Slots[kind.Class()] = n
			capacity.Reserved[kind.Class()] = resource.Budget{
				MemoryUnits: int64(n) * demand.MemoryUnits,
				CPUUnits:    int64(n) * demand.CPUUnits,
			}
		}

		err = capacity.Validate()
		if err == nil {
			break
		}

		shrink, ok := shrinkable(slots, configured, capacity.Reserved)
		if !ok {
			return resource.Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}

		slots[shrink]--
	}

	return resource.Config{Capacity: capacity, AcquireTimeout: c.AcquireTimeout}, nil
}

// shrinkable picks the unconfigured class with more than one slot holding
// the largest reservation.
func shrinkable(slots, configured map[stage.Kind]int, reserved map[resource.Class]resource.Budget) (stage.Kind, bool) {
	var (
		pick  stage.Kind
		found bool
	)

	for _, kind := range stage.Kinds() {
		if configured[kind] > 0 || slots[kind] <= 1 {
			continue
		}

		if !found || reserved[kind.Class()].MemoryUnits > reserved[pick.Class()].MemoryUnits {
			pick, found = kind, true
		}
	}

	return pick, found
}

// dependency returns the effective overrides of kind. The per-scene
// providers fall back to the shared settings; assembly only to its own.
func (c Config) dependency(kind stage.Kind) DependencyConfig {
	shared := DependencyConfig{
		BreakerFailureThreshold: c.BreakerFailureThreshold,
		BreakerRecoveryTimeout:  c.BreakerRecoveryTimeout,
		RetryMaxAttempts:        c.RetryMaxAttempts,
		RetryBaseDelay:          c.RetryBaseDelay,
		RetryMaxDelay:           c.RetryMaxDelay,
		CallTimeout:             c.StageCallTimeout,
	}

	switch kind {
	case stage.KindVoice:
		return c.Voice.orElse(shared)
	case stage.KindVisual:
		return c.Visual.orElse(shared)
	case stage.KindOverlay:
		return c.Overlay.orElse(shared)
	default:
		return c.Assembly
	}
}

// StageConfig returns the configuration of one stage kind: its defaults with
// any configured overrides applied.
func (c Config) StageConfig(kind stage.Kind) stage.Config {
	cfg := stage.DefaultConfig(kind)
	d := c.dependency(kind)

	if d.BreakerFailureThreshold > 0 {
		cfg.Breaker.FailureThreshold = d.BreakerFailureThreshold
	}

	if d.BreakerRecoveryTimeout > 0 {
		cfg.Breaker.RecoveryTimeout = d.BreakerRecoveryTimeout
	}

	if d.RetryMaxAttempts > 0 {
		cfg.Retry.MaxAttempts = d.RetryMaxAttempts
	}

	if d.RetryBaseDelay > 0 {
		cfg.Retry.BaseDelay = d.RetryBaseDelay
	}

	if d.RetryMaxDelay > 0 {
		cfg.Retry.MaxDelay = d.RetryMaxDelay
	}

	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		cfg.Retry.MaxDelay = cfg.Retry.BaseDelay
	}

	if d.CallTimeout > 0 {
		cfg.CallTimeout = d.CallTimeout
	}

	return cfg
}

// PipelineConfig returns the orchestrator configuration.
func (c Config) PipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.JobTimeout = c.JobTimeout
	cfg.SceneConcurrency = c.SceneConcurrency

	if c.EventSinkQueueSize > 0 {
		cfg.SinkQueueSize = c.EventSinkQueueSize
	}

	return cfg
}

// RedisEnabled reports whether a Redis job store is configured.
func (c Config) RedisEnabled() bool {
	return strings.TrimSpace(c.RedisAddress) != ""
}

// RedisConfig returns the job store configuration. REDIS_HOST may list
// several comma-separated addresses.
func (c Config) RedisConfig() jobstore.RedisConfig {
	var addresses []string

	for _, addr := range strings.Split(c.RedisAddress, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			addresses = append(addresses, addr)
		}
	}

	return jobstore.RedisConfig{
		Addresses:  addresses,
		MasterName: c.RedisMasterName,
		Password:   c.RedisPassword,
		DB:         c.RedisDB,
		TTL:        c.JobTTL,
	}
}

// RabbitEnabled reports whether progress publishing is configured.
func (c Config) RabbitEnabled() bool {
	return strings.TrimSpace(c.RabbitURL) != ""
}
