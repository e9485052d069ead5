package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"compilebox/internal/common/cache"
	"compilebox/internal/common/http/middleware"
	"compilebox/internal/common/mq"
	"compilebox/internal/sandbox/engine"
	"compilebox/internal/sandbox/profile"
	"compilebox/internal/sandbox/source"
	"compilebox/internal/sandbox/spec"
	"compilebox/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:3000"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	envPrefix = "COMPILEBOX_"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	MaxBodyBytes int64         `yaml:"maxBodyBytes"`
}

// SandboxConfig holds job, engine and toolchain settings.
type SandboxConfig struct {
	engine.Config `yaml:",inline"`

	WorkRoot          string        `yaml:"workRoot"`
	WorkspaceMaxAge   time.Duration `yaml:"workspaceMaxAge"`
	CompileTimeout    time.Duration `yaml:"compileTimeout"`
	RunTimeout        time.Duration `yaml:"runTimeout"`
	JobTimeout        time.Duration `yaml:"jobTimeout"`
	MaxConcurrentJobs int           `yaml:"maxConcurrentJobs"`
	QueueTimeout      time.Duration `yaml:"queueTimeout"`
	AllowDebug        bool          `yaml:"allowDebug"`
	MaxFiles          int           `yaml:"maxFiles"`
	MaxSourceBytes    int64         `yaml:"maxSourceBytes"`

	CompileLimits spec.ResourceLimit   `yaml:"compileLimits"`
	RunLimits     spec.ResourceLimit   `yaml:"runLimits"`
	Language      profile.LanguageSpec `yaml:"language"`
}

// RateLimitConfig selects the request limiter backend.
type RateLimitConfig struct {
	middleware.RateLimitPolicy `yaml:",inline"`

	Enabled bool `yaml:"enabled"`
	// Backend is "redis" or "local".
	Backend      string        `yaml:"backend"`
	RedisTimeout time.Duration `yaml:"redisTimeout"`
}

// KafkaConfig holds the optional job event producer settings.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	Topic        string        `yaml:"topic"`
	FinalOnly    bool          `yaml:"finalOnly"`
	Async        bool          `yaml:"async"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	SendTimeout  time.Duration `yaml:"sendTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"`
	Compression  string        `yaml:"compression"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AppConfig holds compile-service configuration.
type AppConfig struct {
	Server    ServerConfig          `yaml:"server"`
	Logger    logger.Config         `yaml:"logger"`
	Sandbox   SandboxConfig         `yaml:"sandbox"`
	RateLimit RateLimitConfig       `yaml:"rateLimit"`
	Redis     cache.RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig           `yaml:"kafka"`
	Metrics   MetricsConfig         `yaml:"metrics"`
	CORS      middleware.CORSConfig `yaml:"cors"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads path, applies COMPILEBOX_* overrides and fills
// defaults. A missing file is allowed only when optional is set.
func loadAppConfig(path string, optional bool) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		if !optional || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 2 << 20
	}

	s := &cfg.Sandbox
	s.Config = s.Config.WithDefaults()
	if s.WorkspaceMaxAge == 0 {
		s.WorkspaceMaxAge = time.Hour
	}
	if s.CompileTimeout == 0 {
		s.CompileTimeout = 10 * time.Second
	}
	if s.RunTimeout == 0 {
		s.RunTimeout = 10 * time.Second
	}
	if s.JobTimeout == 0 {
		s.JobTimeout = s.CompileTimeout + s.RunTimeout + 2*s.KillGrace + 10*time.Second
	}
	if s.MaxConcurrentJobs == 0 {
		s.MaxConcurrentJobs = 4
	}
	if s.QueueTimeout == 0 {
		s.QueueTimeout = 5 * time.Second
	}
	if s.MaxFiles == 0 {
		s.MaxFiles = 32
	}
	if s.MaxSourceBytes == 0 {
		s.MaxSourceBytes = 1 << 20
	}
	s.Language = s.Language.Merge(profile.Java())

	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "local"
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.RateLimit.IPMax == 0 {
		cfg.RateLimit.IPMax = 30
	}
	if cfg.RateLimit.RedisTimeout == 0 {
		cfg.RateLimit.RedisTimeout = 200 * time.Millisecond
	}

	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "compilebox"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "compilebox.jobs"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *AppConfig) error {
	switch cfg.Sandbox.Isolation {
	case engine.IsolationHost, engine.IsolationDocker:
	default:
		return fmt.Errorf("sandbox.isolation must be %q or %q, got %q", engine.IsolationHost, engine.IsolationDocker, cfg.Sandbox.Isolation)
	}
	switch cfg.RateLimit.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("rateLimit.backend must be local or redis, got %q", cfg.RateLimit.Backend)
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.Backend == "redis" && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for the redis rate limiter")
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays COMPILEBOX_* variables. PORT is honored for hosting
// platforms that only set that.
func applyEnv(cfg *AppConfig, lookup lookupFunc) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	if port, ok := lookup("PORT"); ok && strings.TrimSpace(port) != "" {
		cfg.Server.Addr = "0.0.0.0:" + strings.TrimSpace(port)
	}

	strs := map[string]*string{
		"ADDR":            &cfg.Server.Addr,
		"LOG_LEVEL":       &cfg.Logger.Level,
		"LOG_FORMAT":      &cfg.Logger.Format,
		"ISOLATION":       &cfg.Sandbox.Isolation,
		"WORK_ROOT":       &cfg.Sandbox.WorkRoot,
		"DOCKER_HOST":     &cfg.Sandbox.Docker.Host,
		"DOCKER_IMAGE":    &cfg.Sandbox.Docker.Image,
		"DOCKER_TRANSFER": &cfg.Sandbox.Docker.Transfer,
		"DOCKER_USER":     &cfg.Sandbox.Docker.User,
		"RATE_BACKEND":    &cfg.RateLimit.Backend,
		"REDIS_ADDR":      &cfg.Redis.Addr,
		"REDIS_PASSWORD":  &cfg.Redis.Password,
		"KAFKA_TOPIC":     &cfg.Kafka.Topic,
	}
	for name, dst := range strs {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"ALLOW_DEBUG":     &cfg.Sandbox.AllowDebug,
		"RATE_ENABLED":    &cfg.RateLimit.Enabled,
		"METRICS_ENABLED": &cfg.Metrics.Enabled,
		"DOCKER_PULL":     &cfg.Sandbox.Docker.PullOnStart,
	}
	for name, dst := range bools {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = b
		}
	}

	ints := map[string]*int{
		"MAX_CONCURRENT_JOBS": &cfg.Sandbox.MaxConcurrentJobs,
		"RATE_IP_MAX":         &cfg.RateLimit.IPMax,
	}
	for name, dst := range ints {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"COMPILE_TIMEOUT": &cfg.Sandbox.CompileTimeout,
		"RUN_TIMEOUT":     &cfg.Sandbox.RunTimeout,
		"QUEUE_TIMEOUT":   &cfg.Sandbox.QueueTimeout,
	}
	for name, dst := range durations {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = d
		}
	}

	if v, ok := get("KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v, ok := get("CORS_ORIGINS"); ok {
		cfg.CORS.Enabled = true
		cfg.CORS.AllowedOrigins = splitList(v)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (s SandboxConfig) sourceOptions() source.Options {
	return source.Options{
		SourceExt:   s.Language.SourceExt,
		DefaultMain: s.Language.DefaultMain,
		MaxFiles:    s.MaxFiles,
		MaxBytes:    s.MaxSourceBytes,
	}
}

func (s SandboxConfig) compileProfile() profile.TaskProfile {
	limits := s.CompileLimits
	limits.WallTimeMs = s.CompileTimeout.Milliseconds()
	return profile.TaskProfile{TaskType: profile.TaskTypeCompile, DefaultLimits: limits}
}

func (s SandboxConfig) runProfile() profile.TaskProfile {
	limits := s.RunLimits
	limits.WallTimeMs = s.RunTimeout.Milliseconds()
	return profile.TaskProfile{TaskType: profile.TaskTypeRun, DefaultLimits: limits}
}

func (k KafkaConfig) enabled() bool {
	return len(k.Brokers) > 0
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		Async:        k.Async,
		DialTimeout:  k.DialTimeout,
		WriteTimeout: k.WriteTimeout,
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}
