package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Resolver backends.
const (
	ResolverAPI   = "api"
	ResolverYtDlp = "ytdlp"
)

// State backends.
const (
	StateMemory   = "memory"
	StatePostgres = "postgres"
	StateRedis    = "redis"
)

// NotifierConfig holds configuration for the lifecycle notifier.
type NotifierConfig struct {
	// Server settings
	Port        int
	Environment string
	BaseURL     string
	APIKey      string

	// WebSub hub
	HubURL        string
	LeaseSeconds  int
	RenewInterval time.Duration

	// Resolver
	ResolverBackend    string
	YouTubeAPIKeys     []string
	YouTubeAPIBaseURL  string
	ResolveTimeout     time.Duration
	ResolveMaxAttempts int
	YtDlpPath          string
	HTTPProxy          string
	Location           *time.Location

	// Tracking
	Channels              map[string]string
	TickInterval          time.Duration
	ReconcileConcurrency  int
	PushWorkers           int
	PushQueueSize         int
	PreRoll               time.Duration
	LiveWindow            time.Duration
	ReminderMisfireGrace  time.Duration
	SnapshotInterval      time.Duration
	InitialSubscribeDelay time.Duration

	// State persistence
	StateBackend  string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Event sinks
	EventWebhookURL   string
	WebhookSigningKey string
	NATSURL           string
	NATSSubjectPrefix string

	// Per-event-kind switches
	VideoDisabled    bool
	ScheduleDisabled bool
	ReminderDisabled bool
	LiveDisabled     bool

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoadDotEnv loads variables from the given .env files (".env" by default)
// without overriding values already present in the environment. A missing
// file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadNotifierConfig loads the notifier configuration from environment variables.
func LoadNotifierConfig() (*NotifierConfig, error) {
	cfg := &NotifierConfig{
		Port:                  getEnvInt("PORT", 8080),
		Environment:           getEnv("ENVIRONMENT", "development"),
		BaseURL:               getEnv("BASE_URL", ""),
		APIKey:                getEnv("API_KEY", ""),
		HubURL:                getEnv("HUB_URL", "https://pubsubhubbub.appspot.com/subscribe"),
		LeaseSeconds:          getEnvInt("HUB_LEASE_SECONDS", 86400),
		RenewInterval:         getEnvDuration("HUB_RENEW_INTERVAL", 8*time.Hour),
		ResolverBackend:       getEnv("RESOLVER_BACKEND", ResolverAPI),
		YouTubeAPIKeys:        getEnvList("YOUTUBE_API_KEYS"),
		YouTubeAPIBaseURL:     getEnv("YOUTUBE_API_BASE_URL", "https://www.googleapis.com/youtube/v3"),
		ResolveTimeout:        getEnvDuration("RESOLVE_TIMEOUT", 10*time.Second),
		ResolveMaxAttempts:    getEnvInt("RESOLVE_MAX_ATTEMPTS", 8),
		YtDlpPath:             getEnv("YTDLP_PATH", "yt-dlp"),
		HTTPProxy:             getEnv("HTTP_PROXY", ""),
		TickInterval:          getEnvDuration("TICK_INTERVAL", time.Minute),
		ReconcileConcurrency:  getEnvInt("RECONCILE_CONCURRENCY", 8),
		PushWorkers:           getEnvInt("PUSH_WORKERS", 4),
		PushQueueSize:         getEnvInt("PUSH_QUEUE_SIZE", 256),
		PreRoll:               getEnvDuration("LIVE_PREROLL", 10*time.Minute),
		LiveWindow:            getEnvDuration("LIVE_WINDOW", 3*time.Hour),
		ReminderMisfireGrace:  getEnvDuration("REMINDER_MISFIRE_GRACE", time.Minute),
		SnapshotInterval:      getEnvDuration("SNAPSHOT_INTERVAL", time.Minute),
		InitialSubscribeDelay: getEnvDuration("INITIAL_SUBSCRIBE_DELAY", 5*time.Second),
		StateBackend:          getEnv("STATE_BACKEND", StateMemory),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisAddr:             getEnv("REDIS_ADDR", ""),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		RedisPrefix:           getEnv("REDIS_PREFIX", "notifier:"),
		EventWebhookURL:       getEnv("EVENT_WEBHOOK_URL", ""),
		WebhookSigningKey:     getEnv("WEBHOOK_SIGNING_KEY", ""),
		NATSURL:               getEnv("NATS_URL", ""),
		NATSSubjectPrefix:     getEnv("NATS_SUBJECT_PREFIX", "notifier.events"),
		VideoDisabled:         getEnvBool("VIDEO_DISABLED", false),
		ScheduleDisabled:      getEnvBool("SCHEDULE_DISABLED", false),
		ReminderDisabled:      getEnvBool("REMINDER_DISABLED", false),
		LiveDisabled:          getEnvBool("LIVE_DISABLED", false),
		ReadTimeout:           getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:          getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout:       getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	channels, err := ParseChannels(getEnv("CHANNELS", ""))
	if err != nil {
		return nil, err
	}
	cfg.Channels = channels

	loc, err := loadLocation(getEnv("TIMEZONE", ""))
	if err != nil {
		return nil, err
	}
	cfg.Location = loc

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and cross-field constraints.
func (c *NotifierConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("BASE_URL is required")
	}
	switch c.ResolverBackend {
	case ResolverAPI:
		if len(c.YouTubeAPIKeys) == 0 {
			return fmt.Errorf("YOUTUBE_API_KEYS is required for the api resolver")
		}
	case ResolverYtDlp:
	default:
		return fmt.Errorf("unknown RESOLVER_BACKEND %q", c.ResolverBackend)
	}
	switch c.StateBackend {
	case StateMemory:
	case StatePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres state backend")
		}
	case StateRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis state backend")
		}
	default:
		return fmt.Errorf("unknown STATE_BACKEND %q", c.StateBackend)
	}
	if c.LeaseSeconds <= 0 {
		return fmt.Errorf("HUB_LEASE_SECONDS must be greater than 0")
	}
	if c.RenewInterval >= time.Duration(c.LeaseSeconds)*time.Second {
		return fmt.Errorf("HUB_RENEW_INTERVAL must be shorter than the lease")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be greater than 0")
	}
	if c.ResolveMaxAttempts <= 0 {
		return fmt.Errorf("RESOLVE_MAX_ATTEMPTS must be greater than 0")
	}
	return nil
}

// CallbackURL returns the public WebSub callback URL.
func (c *NotifierConfig) CallbackURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/youtube_callback"
}

// ParseChannels parses "subject=channelID" pairs separated by commas.
func ParseChannels(raw string) (map[string]string, error) {
	channels := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		subject, channelID, ok := strings.Cut(pair, "=")
		subject, channelID = strings.TrimSpace(subject), strings.TrimSpace(channelID)
		if !ok || subject == "" || channelID == "" {
			return nil, fmt.Errorf("invalid CHANNELS entry %q, want subject=channelID", pair)
		}
		channels[subject] = channelID
	}
	return channels, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load TIMEZONE: %w", err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
