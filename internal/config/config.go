package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type APIConfig struct {
	Addr        string
	DatabaseURL string
	AutoMigrate bool
	LogLevel    slog.Level

	JWTSecret string
	JWTTTL    time.Duration
	SeedUsers []SeedUser

	MarketTimezone string
	Location       *time.Location

	Providers    ProviderConfig
	CacheTTL     time.Duration
	RefreshDelay time.Duration

	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	DiscordWebhookID    string
	DiscordWebhookToken string
}

type ProviderConfig struct {
	FinnhubKey      string
	AlphaVantageKey string
	ScrapeURL       string
	Timeout         time.Duration
	RatePerSecond   float64
}

type SeedUser struct {
	Username string
	Password string
}

type WorkerConfig struct {
	APIConfig
	RefreshSchedule  string
	SnapshotSchedule string
	WinnerSchedule   string
	RunOnce          bool
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadDotEnv reads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	cfg, err := loadShared()
	if err != nil {
		return cfg, err
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("PICKS_JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < 16 {
		return cfg, fmt.Errorf("PICKS_JWT_SECRET must be at least 16 characters")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	shared, err := loadShared()
	if err != nil {
		return WorkerConfig{APIConfig: shared}, err
	}
	return WorkerConfig{
		APIConfig: shared,
		// Six-field specs (seconds first), evaluated in the market time zone.
		RefreshSchedule:  envDefault("PICKS_REFRESH_SCHEDULE", "0 */15 9-16 * * MON-FRI"),
		SnapshotSchedule: envDefault("PICKS_SNAPSHOT_SCHEDULE", "0 30 16 * * MON-FRI"),
		WinnerSchedule:   envDefault("PICKS_WINNER_SCHEDULE", "0 0 10 * * SAT"),
		RunOnce:          envBoolDefault("PICKS_WORKER_RUN_ONCE", false),
	}, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("PK_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func loadShared() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("PICKS_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:        addr,
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AutoMigrate: envBoolDefault("PICKS_AUTO_MIGRATE", true),
		LogLevel:    envLevelDefault("PICKS_LOG_LEVEL", slog.LevelInfo),

		JWTSecret: strings.TrimSpace(os.Getenv("PICKS_JWT_SECRET")),
		JWTTTL:    envDurationDefault("PICKS_JWT_TTL", 7*24*time.Hour),

		MarketTimezone: envDefault("PICKS_MARKET_TZ", "America/New_York"),

		Providers: ProviderConfig{
			FinnhubKey:      strings.TrimSpace(os.Getenv("FINNHUB_API_KEY")),
			AlphaVantageKey: strings.TrimSpace(os.Getenv("ALPHAVANTAGE_API_KEY")),
			ScrapeURL:       strings.TrimSpace(os.Getenv("PICKS_SCRAPE_URL")),
			Timeout:         envDurationDefault("PICKS_PROVIDER_TIMEOUT", 10*time.Second),
			RatePerSecond:   envFloatDefault("PICKS_PROVIDER_RATE", 1),
		},
		CacheTTL:     envDurationDefault("PICKS_CACHE_TTL", 15*time.Minute),
		RefreshDelay: envDurationDefault("PICKS_REFRESH_DELAY", time.Second),

		RedisURL:     strings.TrimSpace(os.Getenv("REDIS_URL")),
		KafkaBrokers: envListDefault("KAFKA_BROKERS", nil),
		KafkaTopic:   envDefault("PICKS_KAFKA_TOPIC", "stockpicks.events"),

		DiscordWebhookID:    strings.TrimSpace(os.Getenv("DISCORD_WEBHOOK_ID")),
		DiscordWebhookToken: strings.TrimSpace(os.Getenv("DISCORD_WEBHOOK_TOKEN")),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}

	seeds, err := ParseSeedUsers(os.Getenv("PICKS_SEED_USERS"))
	if err != nil {
		return cfg, err
	}
	cfg.SeedUsers = seeds

	loc, err := time.LoadLocation(cfg.MarketTimezone)
	if err != nil {
		return cfg, fmt.Errorf("PICKS_MARKET_TZ: %w", err)
	}
	cfg.Location = loc
	return cfg, nil
}

// ParseSeedUsers reads a comma separated list of "name" or "name:password".
func ParseSeedUsers(raw string) ([]SeedUser, error) {
	var out []SeedUser
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, password, _ := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("PICKS_SEED_USERS: empty username in %q", part)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, SeedUser{Username: name, Password: strings.TrimSpace(password)})
	}
	return out, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envListDefault(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return lvl
}
