package config // package config loads application configuration from environment variables

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env           string // application environment (e.g. "dev", "prod")
	Port          string // HTTP port to listen on
	DBDriver      string // "mysql" or "sqlite"
	DBUser        string // database username
	DBPass        string // database password (optional)
	DBHost        string // database host address
	DBPort        string // database port number
	DBName        string // database name
	SQLitePath    string // database file when DBDriver is sqlite
	JWTSecret     string // secret used to verify (and, from the CLI, sign) JWTs
	AccessTTLMin  int    // lifetime of tokens minted by the CLI, in minutes
	LogLevel      string // zap level name
	EconomyFile   string // optional YAML file with pricing and shield settings
	RabbitURL     string // AMQP broker; empty disables notification publishing
	SnowflakeNode int64  // node number for id generation, 0..1023

	OutboxInterval        time.Duration // relay period for undelivered notifications
	OutboxBatch           int           // rows per relay pass
	OutboxMaxAttempts     int           // give up on a notification after this many failures
	OutboxDeliverTimeout  time.Duration // bound on inline delivery after a commit
	DeadlineSweepInterval time.Duration // period of the ACTIVE -> CLOSED deadline sweep

	NotificationLog string // file the AMQP consumer appends delivered notifications to

	Redis RedisConfig
}

// Load reads an optional .env file and then the environment.  Missing
// required variables are reported together in one error.
func Load() (Config, error) {
	_ = godotenv.Load()

	var missing []string
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{
		Env:           envStr("APP_ENV", "dev"),
		Port:          envStr("APP_PORT", "8080"),
		DBDriver:      strings.ToLower(envStr("DB_DRIVER", "mysql")),
		DBPass:        os.Getenv("DB_PASS"),
		SQLitePath:    envStr("SQLITE_PATH", "data/scenarios.db"),
		JWTSecret:     must("JWT_SECRET"),
		AccessTTLMin:  envInt("ACCESS_TOKEN_TTL_MIN", 60),
		LogLevel:      envStr("LOG_LEVEL", "info"),
		EconomyFile:   os.Getenv("ECONOMY_FILE"),
		RabbitURL:     os.Getenv("RABBITMQ_URL"),
		SnowflakeNode: int64(envInt("SNOWFLAKE_NODE", 1)),

		OutboxInterval:        envDur("OUTBOX_INTERVAL", 10*time.Second),
		OutboxBatch:           envInt("OUTBOX_BATCH", 100),
		OutboxMaxAttempts:     envInt("OUTBOX_MAX_ATTEMPTS", 10),
		OutboxDeliverTimeout:  envDur("OUTBOX_DELIVER_TIMEOUT", 3*time.Second),
		DeadlineSweepInterval: envDur("DEADLINE_SWEEP_INTERVAL", 30*time.Second),

		NotificationLog: envStr("NOTIFICATION_LOG", "logs/notifications.log"),

		Redis: LoadRedisConfig(),
	}

	switch cfg.DBDriver {
	case "mysql":
		cfg.DBUser = must("DB_USER")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	case "sqlite":
	default:
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q: want mysql or sqlite", cfg.DBDriver)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if cfg.SnowflakeNode < 0 || cfg.SnowflakeNode > 1023 {
		return Config{}, fmt.Errorf("invalid SNOWFLAKE_NODE %d", cfg.SnowflakeNode)
	}
	return cfg, nil
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
