package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	WebRTC   WebRTCConfig
	AWS      AWSConfig
	Zego     ZegoConfig
	Session  SessionConfig
	Store    StoreConfig
	Worker   WorkerConfig
}

// SessionConfig tunes live session coordination.
type SessionConfig struct {
	MaxOnStage      int           // hand-raisers allowed on stage at once
	DisconnectGrace time.Duration // a dropped participant may reconnect within this window
	PresenceTimeout time.Duration // participants without heartbeat for this long are removed
	CommitRetries   int
	CommitBackoff   time.Duration
	EndedLinger     time.Duration // an ended session stays loaded this long before teardown
	CheckpointEvery int           // recording progress checkpoint cadence, seconds
	MinuteEvery     int           // played seconds per counted minute
	ViewerIdleTTL   time.Duration // playback state of silent viewers is dropped after this
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Driver string // postgres or memory
}

// WorkerConfig holds archive worker settings.
type WorkerConfig struct {
	PollTimeout time.Duration
	MaxRetries  int
}

// ZegoConfig holds ZEGOCLOUD credentials for RTC room tokens.
type ZegoConfig struct {
	AppID        uint32
	ServerSecret string // 32 characters
	TokenTTL     time.Duration
}

// WebRTCConfig holds STUN/TURN ICE server URLs for WebRTC.
type WebRTCConfig struct {
	ICEUrls []string // e.g. stun:stun.l.google.com:19302 (comma-separated in env)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/livesession?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the archive bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ArchiveBucket        string
	PresignExpireMinutes int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "livesession"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		WebRTC: WebRTCConfig{
			ICEUrls: splitTrim(getEnv("WEBRTC_ICE_URLS", "stun:stun.l.google.com:19302"), ","),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:        getEnv("AWS_S3_ARCHIVE_BUCKET", "livesession-archive"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Zego: ZegoConfig{
			AppID:        uint32(getEnvInt("ZEGO_APP_ID", 0)),
			ServerSecret: getEnv("ZEGO_SERVER_SECRET", ""),
			TokenTTL:     getEnvDuration("ZEGO_TOKEN_TTL", 24*time.Hour),
		},
		Session: SessionConfig{
			MaxOnStage:      getEnvInt("SESSION_MAX_ON_STAGE", 4),
			DisconnectGrace: getEnvDuration("SESSION_DISCONNECT_GRACE", 15*time.Second),
			PresenceTimeout: getEnvDuration("SESSION_PRESENCE_TIMEOUT", 90*time.Second),
			CommitRetries:   getEnvInt("SESSION_COMMIT_RETRIES", 3),
			CommitBackoff:   getEnvDuration("SESSION_COMMIT_BACKOFF", 200*time.Millisecond),
			EndedLinger:     getEnvDuration("SESSION_ENDED_LINGER", 30*time.Second),
			CheckpointEvery: getEnvInt("PROGRESS_CHECKPOINT_SEC", 10),
			MinuteEvery:     getEnvInt("PROGRESS_MINUTE_SEC", 60),
			ViewerIdleTTL:   getEnvDuration("PROGRESS_VIEWER_TTL", 30*time.Minute),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		},
		Worker: WorkerConfig{
			PollTimeout: getEnvDuration("WORKER_POLL_TIMEOUT", 5*time.Second),
			MaxRetries:  getEnvInt("WORKER_MAX_RETRIES", 3),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("config: STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.Store.Driver)
	}
	if c.Session.MaxOnStage < 1 {
		return fmt.Errorf("config: SESSION_MAX_ON_STAGE must be at least 1")
	}
	if c.Session.CheckpointEvery < 1 || c.Session.MinuteEvery < 1 {
		return fmt.Errorf("config: progress cadences must be positive")
	}
	if c.Zego.ServerSecret != "" && len(c.Zego.ServerSecret) != 32 {
		return fmt.Errorf("config: ZEGO_SERVER_SECRET must be 32 characters")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("15s", "2m") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
