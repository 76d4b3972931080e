// SPDX-License-Identifier: MIT

// Package config loads the cardforge daemon configuration. Precedence is
// environment > config file > built-in defaults. Every knob has an
// CARDFORGE_* environment variable; the YAML file is optional.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Backend identifiers shared by the store, queue and object-store factories.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendSQS    = "sqs"
	BackendS3     = "s3"
)

// Config is the complete runtime configuration of the daemon.
type Config struct {
	// Server
	Listen      string
	MetricsAddr string // empty disables the metrics listener
	LogLevel    string
	DataDir     string
	Version     string // build version, injected by main

	// Auth / identity
	Event        string // event constant baked into issued tokens
	Username     string
	Password     string
	OverrideCode string
	TokenTTL     time.Duration

	// Quota limits per session
	LimitCards  int
	LimitVideos int
	LimitPrints int

	// Adaptive capacity
	CapacityInitial     int
	CapacityCeiling     int
	CapacitySuccessStep int
	CapacityStaleAfter  time.Duration
	CapacitySweepEvery  time.Duration

	// Queue
	QueueBackend    string
	QueueName       string
	QueueURL        string // SQS queue URL
	QueueVisibility time.Duration
	QueueWaitTime   time.Duration
	QueueBatchSize  int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	// Dispatch workers
	DispatchWorkers     int
	DispatchIdleWait    time.Duration
	TransientRetryLimit int

	// Job lifecycle store
	StoreBackend string
	StorePath    string

	// Object store / artifacts
	ObjectBackend string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3PathStyle   bool
	PresignTTL    time.Duration

	// Model provider
	BedrockRegion    string
	ImageModelID     string
	VideoModelID     string // empty disables video generation
	VideoOutputURI   string // s3://bucket/prefix receiving async video output
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// HTTP hardening
	AllowedOrigins  []string
	TrustedProxies  []string
	RateLimitPerMin int
	LoginRatePerMin int

	// Telemetry
	OTELEnabled     bool
	OTELEndpoint    string
	OTELProtocol    string
	OTELSampleRatio float64
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Listen:      ":8080",
		MetricsAddr: "",
		LogLevel:    "info",
		DataDir:     "/var/lib/cardforge",

		Event:    "",
		Username: "kiosk",
		TokenTTL: 12 * time.Hour,

		LimitCards:  5,
		LimitVideos: 3,
		LimitPrints: 1,

		CapacityInitial:     2,
		CapacityCeiling:     10,
		CapacitySuccessStep: 5,
		CapacityStaleAfter:  10 * time.Minute,
		CapacitySweepEvery:  time.Minute,

		QueueBackend:    BackendMemory,
		QueueName:       "cardforge-jobs",
		QueueVisibility: 90 * time.Second,
		QueueWaitTime:   10 * time.Second,
		QueueBatchSize:  5,

		DispatchWorkers:     2,
		DispatchIdleWait:    2 * time.Second,
		TransientRetryLimit: 2,

		StoreBackend: BackendBadger,

		ObjectBackend: BackendS3,
		S3Region:      "us-east-1",
		PresignTTL:    time.Hour,

		ImageModelID:     "amazon.nova-canvas-v1:0",
		VideoModelID:     "amazon.nova-reel-v1:0",
		BreakerThreshold: 3,
		BreakerCooldown:  30 * time.Second,

		AllowedOrigins:  []string{"*"},
		RateLimitPerMin: 120,
		LoginRatePerMin: 10,

		OTELProtocol:    "grpc",
		OTELSampleRatio: 0.1,
	}
}

// FromEnv applies CARDFORGE_* environment variables on top of cfg. Values not
// present in the environment keep whatever cfg already holds, so callers get
// environment > file > defaults by loading the file first.
func FromEnv(cfg *Config) *Config {
	cfg.Listen = ParseString("CARDFORGE_LISTEN", cfg.Listen)
	cfg.MetricsAddr = ParseString("CARDFORGE_METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = ParseString("CARDFORGE_LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = ParseString("CARDFORGE_DATA_DIR", cfg.DataDir)

	cfg.Event = ParseString("CARDFORGE_EVENT", cfg.Event)
	cfg.Username = ParseString("CARDFORGE_USERNAME", cfg.Username)
	cfg.Password = ParseString("CARDFORGE_PASSWORD", cfg.Password)
	cfg.OverrideCode = ParseString("CARDFORGE_OVERRIDE_CODE", cfg.OverrideCode)
	cfg.TokenTTL = ParseDuration("CARDFORGE_TOKEN_TTL", cfg.TokenTTL)

	cfg.LimitCards = ParseInt("CARDFORGE_LIMIT_CARDS", cfg.LimitCards)
	cfg.LimitVideos = ParseInt("CARDFORGE_LIMIT_VIDEOS", cfg.LimitVideos)
	cfg.LimitPrints = ParseInt("CARDFORGE_LIMIT_PRINTS", cfg.LimitPrints)

	cfg.CapacityInitial = ParseInt("CARDFORGE_CAPACITY_INITIAL", cfg.CapacityInitial)
	cfg.CapacityCeiling = ParseInt("CARDFORGE_CAPACITY_CEILING", cfg.CapacityCeiling)
	cfg.CapacitySuccessStep = ParseInt("CARDFORGE_CAPACITY_SUCCESS_STEP", cfg.CapacitySuccessStep)
	cfg.CapacityStaleAfter = ParseDuration("CARDFORGE_CAPACITY_STALE_AFTER", cfg.CapacityStaleAfter)
	cfg.CapacitySweepEvery = ParseDuration("CARDFORGE_CAPACITY_SWEEP_EVERY", cfg.CapacitySweepEvery)

	cfg.QueueBackend = ParseString("CARDFORGE_QUEUE_BACKEND", cfg.QueueBackend)
	cfg.QueueName = ParseString("CARDFORGE_QUEUE_NAME", cfg.QueueName)
	cfg.QueueURL = ParseString("CARDFORGE_QUEUE_URL", cfg.QueueURL)
	cfg.QueueVisibility = ParseDuration("CARDFORGE_QUEUE_VISIBILITY", cfg.QueueVisibility)
	cfg.QueueWaitTime = ParseDuration("CARDFORGE_QUEUE_WAIT", cfg.QueueWaitTime)
	cfg.QueueBatchSize = ParseInt("CARDFORGE_QUEUE_BATCH", cfg.QueueBatchSize)
	cfg.RedisAddr = ParseString("CARDFORGE_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = ParseString("CARDFORGE_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = ParseInt("CARDFORGE_REDIS_DB", cfg.RedisDB)

	cfg.DispatchWorkers = ParseInt("CARDFORGE_DISPATCH_WORKERS", cfg.DispatchWorkers)
	cfg.DispatchIdleWait = ParseDuration("CARDFORGE_DISPATCH_IDLE_WAIT", cfg.DispatchIdleWait)
	cfg.TransientRetryLimit = ParseInt("CARDFORGE_TRANSIENT_RETRY_LIMIT", cfg.TransientRetryLimit)

	cfg.StoreBackend = ParseString("CARDFORGE_STORE_BACKEND", cfg.StoreBackend)
	cfg.StorePath = ParseString("CARDFORGE_STORE_PATH", cfg.StorePath)

	cfg.ObjectBackend = ParseString("CARDFORGE_OBJECT_BACKEND", cfg.ObjectBackend)
	cfg.S3Bucket = ParseString("CARDFORGE_S3_BUCKET", cfg.S3Bucket)
	cfg.S3Region = ParseString("CARDFORGE_S3_REGION", cfg.S3Region)
	cfg.S3Endpoint = ParseString("CARDFORGE_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3AccessKey = ParseString("CARDFORGE_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = ParseString("CARDFORGE_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3PathStyle = ParseBool("CARDFORGE_S3_PATH_STYLE", cfg.S3PathStyle)
	cfg.PresignTTL = ParseDuration("CARDFORGE_PRESIGN_TTL", cfg.PresignTTL)

	cfg.BedrockRegion = ParseString("CARDFORGE_BEDROCK_REGION", cfg.BedrockRegion)
	cfg.ImageModelID = ParseString("CARDFORGE_IMAGE_MODEL_ID", cfg.ImageModelID)
	cfg.VideoModelID = ParseString("CARDFORGE_VIDEO_MODEL_ID", cfg.VideoModelID)
	cfg.VideoOutputURI = ParseString("CARDFORGE_VIDEO_OUTPUT_URI", cfg.VideoOutputURI)
	cfg.BreakerThreshold = ParseInt("CARDFORGE_BREAKER_THRESHOLD", cfg.BreakerThreshold)
	cfg.BreakerCooldown = ParseDuration("CARDFORGE_BREAKER_COOLDOWN", cfg.BreakerCooldown)

	if v := ParseString("CARDFORGE_ALLOWED_ORIGINS", strings.Join(cfg.AllowedOrigins, ",")); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := ParseString("CARDFORGE_TRUSTED_PROXIES", strings.Join(cfg.TrustedProxies, ",")); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	cfg.RateLimitPerMin = ParseInt("CARDFORGE_RATE_LIMIT_PER_MIN", cfg.RateLimitPerMin)
	cfg.LoginRatePerMin = ParseInt("CARDFORGE_LOGIN_RATE_PER_MIN", cfg.LoginRatePerMin)

	cfg.OTELEnabled = ParseBool("CARDFORGE_OTEL_ENABLED", cfg.OTELEnabled)
	cfg.OTELEndpoint = ParseString("CARDFORGE_OTEL_ENDPOINT", cfg.OTELEndpoint)
	cfg.OTELProtocol = ParseString("CARDFORGE_OTEL_PROTOCOL", cfg.OTELProtocol)
	cfg.OTELSampleRatio = ParseFloat("CARDFORGE_OTEL_SAMPLE_RATIO", cfg.OTELSampleRatio)

	return cfg
}

// Load builds the effective configuration: defaults, then the optional YAML
// file at path, then environment variables on top.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	FromEnv(cfg)

	if cfg.StorePath == "" {
		cfg.StorePath = cfg.DataDir + "/jobs"
	}
	if cfg.BedrockRegion == "" {
		cfg.BedrockRegion = cfg.S3Region
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with. Auth is
// fail-closed: the service refuses to start without credentials.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.Event == "" {
		return fmt.Errorf("CARDFORGE_EVENT must be set (tokens are scoped to one event)")
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("CARDFORGE_USERNAME and CARDFORGE_PASSWORD must be set")
	}
	if c.OverrideCode == "" {
		return fmt.Errorf("CARDFORGE_OVERRIDE_CODE must be set")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive, got %s", c.TokenTTL)
	}

	if c.LimitCards < 0 || c.LimitVideos < 0 || c.LimitPrints < 0 {
		return fmt.Errorf("quota limits must not be negative")
	}

	if c.CapacityInitial < 1 {
		return fmt.Errorf("capacity initial must be at least 1, got %d", c.CapacityInitial)
	}
	if c.CapacityCeiling < c.CapacityInitial {
		return fmt.Errorf("capacity ceiling %d below initial %d", c.CapacityCeiling, c.CapacityInitial)
	}
	if c.CapacitySuccessStep < 1 {
		return fmt.Errorf("capacity success step must be at least 1, got %d", c.CapacitySuccessStep)
	}
	if c.CapacityStaleAfter <= 0 {
		return fmt.Errorf("capacity stale-after must be positive, got %s", c.CapacityStaleAfter)
	}

	switch c.QueueBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("queue backend %q requires CARDFORGE_REDIS_ADDR", c.QueueBackend)
		}
	case BackendSQS:
		if c.QueueURL == "" {
			return fmt.Errorf("queue backend %q requires CARDFORGE_QUEUE_URL", c.QueueBackend)
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.QueueBackend)
	}
	if c.QueueVisibility <= 0 {
		return fmt.Errorf("queue visibility window must be positive, got %s", c.QueueVisibility)
	}
	if c.QueueBatchSize < 1 {
		return fmt.Errorf("queue batch size must be at least 1, got %d", c.QueueBatchSize)
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendBadger:
		if c.StorePath == "" {
			return fmt.Errorf("store backend %q requires a store path", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	switch c.ObjectBackend {
	case BackendMemory:
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("object backend %q requires CARDFORGE_S3_BUCKET", c.ObjectBackend)
		}
	default:
		return fmt.Errorf("unknown object backend %q", c.ObjectBackend)
	}

	if c.DispatchWorkers < 1 {
		return fmt.Errorf("dispatch workers must be at least 1, got %d", c.DispatchWorkers)
	}
	if c.VideoModelID != "" && c.ObjectBackend == BackendS3 && c.VideoOutputURI == "" {
		return fmt.Errorf("video generation requires CARDFORGE_VIDEO_OUTPUT_URI")
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
