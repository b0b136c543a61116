package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName          string
	AppVersion       string
	Mode             string
	Environment      string
	HTTPAddr         string
	AuthCookieSecure bool

	OTLPEndpoint string

	Cloud CloudConfig

	DBType            string
	DBPath            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AIRatePerMinute and AIRateBurst bound how often one user can hit
	// the model-calling endpoints. No redis address disables the limiter.
	AIRatePerMinute float64
	AIRateBurst     int

	// StreakTimezone is the IANA zone used to bucket area photos into
	// calendar days for streak counting.
	StreakTimezone string

	VisionProvider string
	VisionEndpoint string
	VisionAPIKey   string
	VisionModel    string

	// Bootstrap seeds the filter catalog, personas and a dev user on startup.
	Bootstrap BootstrapConfig

	Scheduler SchedulerConfig
}

type SchedulerConfig struct {
	RunInterval time.Duration
	// EnabledJobs narrows the background jobs a runner executes. Empty
	// means all jobs, which is what a single-binary install wants.
	EnabledJobs []string
	// VerificationTimeout is how long a bowl may sit awaiting its
	// verification photos before the sweep returns it to
	// all_tasks_complete.
	VerificationTimeout time.Duration
}

type BootstrapConfig struct {
	SeedReferenceData bool
	EnsureDevUser     bool
}

type CloudConfig struct {
	InstallID string
	Metrics   CloudMetricsConfig
}

type CloudMetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	mode := normalizeMode(getenv("APP_MODE", ModeSelfHosted))
	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:          getenv("APP_SERVICE", "babcia"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Mode:             mode,
		Environment:      environment,
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		AuthCookieSecure: authCookieSecure,
		OTLPEndpoint:     getenv("OTLP_ENDPOINT", "localhost:4317"),
		Cloud: CloudConfig{
			InstallID: strings.TrimSpace(getenv("CLOUD_INSTALL_ID", "")),
			Metrics: CloudMetricsConfig{
				Enabled:   getenvBool("CLOUD_METRICS_ENABLED", false),
				Exporter:  strings.ToLower(getenv("CLOUD_METRICS_EXPORTER", "")),
				Endpoint:  strings.TrimSpace(getenv("CLOUD_METRICS_ENDPOINT", "")),
				AuthToken: strings.TrimSpace(getenv("CLOUD_METRICS_AUTH_TOKEN", "")),
			},
		},
		DBType:            getenv("DATABASE_TYPE", "sqlite"),
		DBPath:            getenv("DATABASE_PATH", "babcia.db"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "babcia"),
		DBUser:            getenv("DATABASE_USER", "babcia"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		AIRatePerMinute:   getenvFloat("AI_RATE_PER_MINUTE", 6),
		AIRateBurst:       getenvInt("AI_RATE_BURST", 3),
		StreakTimezone:    getenv("STREAK_TIMEZONE", "UTC"),
		VisionProvider:    strings.ToLower(getenv("VISION_PROVIDER", "static")),
		VisionEndpoint:    strings.TrimSpace(getenv("VISION_ENDPOINT", "")),
		VisionAPIKey:      strings.TrimSpace(getenv("VISION_API_KEY", "")),
		VisionModel:       getenv("VISION_MODEL", "babcia-vision-1"),
		Bootstrap: BootstrapConfig{
			SeedReferenceData: getenvBool("BOOTSTRAP_SEED_REFERENCE_DATA", true),
			EnsureDevUser:     getenvBool("BOOTSTRAP_ENSURE_DEV_USER", environment != "production"),
		},
		Scheduler: SchedulerConfig{
			RunInterval:         getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			EnabledJobs:         getenvList("SCHEDULER_ENABLED_JOBS"),
			VerificationTimeout: getenvDuration("VERIFICATION_TIMEOUT", 24*time.Hour),
		},
	}

	return cfg
}

const (
	ModeSelfHosted = "selfhosted"
	ModeCloud      = "cloud"
)

func (c Config) IsCloud() bool {
	return c.Mode == ModeCloud
}

func normalizeMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case ModeCloud:
		return ModeCloud
	default:
		return ModeSelfHosted
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvList(key string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
