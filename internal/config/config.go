package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	DBPath      string
	ServerPort  string
	MonitorPort string
	LogLevel    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SSOCookie string
	APIBase   string
	DataDir   string
	StoreData bool

	MatchesLimit     int
	ParsPreLimit     int
	ParsProgressStep int
	PromoteFailLimit int
	PromoteLogStep   int
	SoftBreakMinutes int
	LogsCacheLimit   int

	TaskQueuesInterval time.Duration
	AutoUpdateInterval time.Duration
	MatchesInterval    time.Duration
	StatsInterval      time.Duration
	RequestInterval    time.Duration

	envFile bool
}

// Load reads the configuration before the logger exists, so it does not log;
// LogSummary reports it once the logger is built from LogLevel.
func Load() (*Config, error) {
	envErr := godotenv.Load()

	cfg := &Config{
		DBPath:      getEnv("DB_PATH", "cod.db"),
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		MonitorPort: getEnv("MONITOR_PORT", "9091"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SSOCookie: getEnv("COD_SSO_COOKIE", ""),
		APIBase:   getEnv("COD_API_BASE", "https://my.callofduty.com/api/papi-client/"),
		DataDir:   getEnv("DATA_DIR", "files"),
		StoreData: getEnvBool("STORE_DATA", false),

		MatchesLimit:     getEnvInt("MATCHES_LIMIT", 20),
		ParsPreLimit:     getEnvInt("PARS_PRE_LIMIT", 300),
		ParsProgressStep: getEnvInt("PARS_PROGRESS_STEP", 500),
		PromoteFailLimit: getEnvInt("PROMOTE_FAIL_LIMIT", 3),
		PromoteLogStep:   getEnvInt("PROMOTE_LOG_STEP", 20),
		SoftBreakMinutes: getEnvInt("SOFT_BREAK_MINUTES", 2),
		LogsCacheLimit:   getEnvInt("LOGS_CACHE_LIMIT", 100),

		TaskQueuesInterval: getEnvDuration("TASK_QUEUES_INTERVAL", 5*time.Second),
		AutoUpdateInterval: getEnvDuration("AUTO_UPDATE_INTERVAL", 24*time.Hour),
		MatchesInterval:    getEnvDuration("MATCHES_INTERVAL", 30*time.Minute),
		StatsInterval:      getEnvDuration("STATS_INTERVAL", 3*7*24*time.Hour),
		RequestInterval:    getEnvDuration("REQUEST_INTERVAL", time.Second),

		envFile: envErr == nil,
	}
	return cfg, nil
}

func LogSummary(cfg *Config, logger zerolog.Logger) {
	if !cfg.envFile {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}
	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Str("redis_addr", cfg.RedisAddr).
		Bool("has_token", cfg.SSOCookie != "").
		Int("matches_limit", cfg.MatchesLimit).
		Dur("task_queues_interval", cfg.TaskQueuesInterval).
		Dur("auto_update_interval", cfg.AutoUpdateInterval).
		Msg("configuration loaded")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

// accepts Go durations ("90s", "24h") or plain seconds
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

var Module = fx.Provide(Load)
