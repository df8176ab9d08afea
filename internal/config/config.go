package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/iago/manga-creator-back/internal/policy"
	"github.com/iago/manga-creator-back/internal/status"
	"github.com/iago/manga-creator-back/internal/storyboard"
	"github.com/pelletier/go-toml/v2"
)

// Config centralizes runtime settings for the API and the in-process worker.
// Precedence, lowest first: defaults, the TOML file named by CONFIG_FILE, environment.
type Config struct {
	Port        string   `toml:"port"`
	AuthToken   string   `toml:"auth_token"`
	CORSOrigins []string `toml:"cors_origins"`

	DatabaseURL string `toml:"database_url"`
	SQLitePath  string `toml:"sqlite_path"`

	RedisAddr        string `toml:"redis_addr"`
	RedisPassword    string `toml:"redis_password"`
	RedisDB          int    `toml:"redis_db"`
	RedisStream      string `toml:"redis_stream"`
	RedisDLQ         string `toml:"redis_dlq_stream"`
	RedisGroup       string `toml:"redis_group"`
	RedisConsumer    string `toml:"redis_consumer"`
	QueueBufferSize  int    `toml:"queue_buffer_size"`
	QueueMaxAttempts int    `toml:"queue_max_attempts"`
	QueueConsumers   int    `toml:"queue_consumers"`

	SDAPIURL     string            `toml:"sd_api_url"`
	SDTimeoutMS  int               `toml:"sd_timeout_ms"`
	SDMaxRetries int               `toml:"sd_max_retries"`
	SDSteps      int               `toml:"sd_steps"`
	SDCFGScale   float64           `toml:"sd_cfg_scale"`
	SDSampler    string            `toml:"sd_sampler"`
	Checkpoints  map[string]string `toml:"checkpoints"`

	RenderWorkers         int     `toml:"render_workers"`
	RenderTimeoutMS       int     `toml:"render_timeout_ms"`
	RenderRPS             float64 `toml:"render_rps"`
	RenderBurst           int     `toml:"render_burst"`
	RenderCacheTTLSeconds int     `toml:"render_cache_ttl_seconds"`
	RenderCacheMaxEntries int     `toml:"render_cache_max_entries"`
	ImagesDir             string  `toml:"images_dir"`
	SplitDialogue         bool    `toml:"split_dialogue"`

	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`

	LogFile       string `toml:"log_file"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`

	WorkerEnabled bool `toml:"worker_enabled"`

	Limits policy.Limits        `toml:"limits"`
	Moods  storyboard.MoodTable `toml:"moods"`
	Phases status.PhaseTable    `toml:"phases"`
}

func Default() Config {
	return Config{
		Port:        "8080",
		CORSOrigins: []string{"*"},

		RedisStream:      "manga_jobs",
		RedisDLQ:         "manga_jobs_dlq",
		RedisGroup:       "manga_workers",
		RedisConsumer:    "api-1",
		QueueBufferSize:  512,
		QueueMaxAttempts: 3,
		QueueConsumers:   2,

		SDTimeoutMS:  120000,
		SDMaxRetries: 2,
		SDSteps:      20,
		SDCFGScale:   7,
		SDSampler:    "DPM++ 2M Karras",

		RenderWorkers:         2,
		RenderTimeoutMS:       90000,
		RenderRPS:             1,
		RenderBurst:           2,
		RenderCacheTTLSeconds: 3600,
		RenderCacheMaxEntries: 2000,
		ImagesDir:             "generated_images",

		RateLimitRPS:   20,
		RateLimitBurst: 40,

		LogMaxSizeMB:  50,
		LogMaxBackups: 5,

		WorkerEnabled: true,

		Limits: policy.DefaultLimits(),
		Moods:  storyboard.DefaultMoodTable(),
		Phases: status.DefaultPhaseTable(),
	}
}

// Load builds the configuration. A CONFIG_FILE that cannot be read is an error.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	// Tables given in the file replace the default tables instead of extending them.
	overlay := *c
	overlay.Moods.Rules = nil
	overlay.Phases.Phases = nil
	overlay.Checkpoints = nil

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&overlay); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if overlay.Moods.Rules == nil {
		overlay.Moods.Rules = c.Moods.Rules
	}
	if overlay.Phases.Phases == nil {
		overlay.Phases.Phases = c.Phases.Phases
	}
	if overlay.Checkpoints == nil {
		overlay.Checkpoints = c.Checkpoints
	}
	*c = overlay
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.AuthToken = getEnv("API_AUTH_TOKEN", c.AuthToken)
	c.CORSOrigins = getEnvList("CORS_ALLOWED_ORIGINS", c.CORSOrigins)

	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)

	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RedisStream = getEnv("REDIS_STREAM", c.RedisStream)
	c.RedisDLQ = getEnv("REDIS_DLQ_STREAM", c.RedisDLQ)
	c.RedisGroup = getEnv("REDIS_GROUP", c.RedisGroup)
	c.RedisConsumer = getEnv("REDIS_CONSUMER", c.RedisConsumer)
	c.QueueBufferSize = getEnvInt("QUEUE_BUFFER_SIZE", c.QueueBufferSize)
	c.QueueMaxAttempts = getEnvInt("QUEUE_MAX_ATTEMPTS", c.QueueMaxAttempts)
	c.QueueConsumers = getEnvInt("QUEUE_CONSUMERS", c.QueueConsumers)

	c.SDAPIURL = getEnv("SD_API_URL", c.SDAPIURL)
	c.SDTimeoutMS = getEnvInt("SD_TIMEOUT_MS", c.SDTimeoutMS)
	c.SDMaxRetries = getEnvInt("SD_MAX_RETRIES", c.SDMaxRetries)
	c.SDSteps = getEnvInt("SD_STEPS", c.SDSteps)
	c.SDCFGScale = getEnvFloat("SD_CFG_SCALE", c.SDCFGScale)
	c.SDSampler = getEnv("SD_SAMPLER", c.SDSampler)

	c.RenderWorkers = getEnvInt("RENDER_WORKERS", c.RenderWorkers)
	c.RenderTimeoutMS = getEnvInt("RENDER_TIMEOUT_MS", c.RenderTimeoutMS)
	c.RenderRPS = getEnvFloat("RENDER_RPS", c.RenderRPS)
	c.RenderBurst = getEnvInt("RENDER_BURST", c.RenderBurst)
	c.RenderCacheTTLSeconds = getEnvInt("RENDER_CACHE_TTL_SECONDS", c.RenderCacheTTLSeconds)
	c.RenderCacheMaxEntries = getEnvInt("RENDER_CACHE_MAX_ENTRIES", c.RenderCacheMaxEntries)
	c.ImagesDir = getEnv("IMAGES_DIR", c.ImagesDir)
	c.SplitDialogue = getEnvBool("SPLIT_DIALOGUE", c.SplitDialogue)

	c.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.RateLimitBurst)

	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.LogMaxSizeMB = getEnvInt("LOG_MAX_SIZE_MB", c.LogMaxSizeMB)
	c.LogMaxBackups = getEnvInt("LOG_MAX_BACKUPS", c.LogMaxBackups)

	c.WorkerEnabled = getEnvBool("WORKER_ENABLED", c.WorkerEnabled)

	c.Limits.MaxContentBytes = getEnvInt("MAX_SCRIPT_BYTES", c.Limits.MaxContentBytes)
	c.Limits.MaxPanels = getEnvInt("MAX_PANELS_PER_JOB", c.Limits.MaxPanels)
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("port must be set")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("port must be numeric, got %q", c.Port)
	}
	if c.RenderWorkers < 1 {
		return errors.New("render_workers must be at least 1")
	}
	if c.QueueConsumers < 1 {
		return errors.New("queue_consumers must be at least 1")
	}
	if c.RenderTimeoutMS <= 0 || c.SDTimeoutMS <= 0 {
		return errors.New("render and stable diffusion timeouts must be positive")
	}
	if strings.TrimSpace(c.ImagesDir) == "" {
		return errors.New("images_dir must be set")
	}
	for style := range c.Checkpoints {
		if _, ok := domain.ParseStyle(style); !ok {
			return fmt.Errorf("checkpoints: unknown style %q", style)
		}
	}
	for i, rule := range c.Moods.Rules {
		if strings.TrimSpace(rule.Label) == "" || len(rule.Keywords) == 0 {
			return fmt.Errorf("moods.rules[%d] needs a label and at least one keyword", i)
		}
	}
	last := 0.0
	for i, phase := range c.Phases.Phases {
		if phase.Below <= last || phase.Below > 1 {
			return fmt.Errorf("phases.phases[%d]: thresholds must increase within (0, 1]", i)
		}
		last = phase.Below
	}
	return nil
}

// StyleCheckpoints converts the checkpoints table to typed styles.
func (c Config) StyleCheckpoints() map[domain.Style]string {
	if len(c.Checkpoints) == 0 {
		return nil
	}
	checkpoints := make(map[domain.Style]string, len(c.Checkpoints))
	for name, checkpoint := range c.Checkpoints {
		if style, ok := domain.ParseStyle(name); ok {
			checkpoints[style] = checkpoint
		}
	}
	return checkpoints
}

func (c Config) RenderTimeout() time.Duration {
	return time.Duration(c.RenderTimeoutMS) * time.Millisecond
}

func (c Config) SDTimeout() time.Duration {
	return time.Duration(c.SDTimeoutMS) * time.Millisecond
}

func (c Config) RenderCacheTTL() time.Duration {
	return time.Duration(c.RenderCacheTTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	items := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
