package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values. Each field corresponds
// to an environment variable. Connection targets and tuning knobs have
// sensible defaults; only the signing secret is mandatory because a
// guessable default would make private channel grants forgeable.
type Config struct {
	Env             string        // application environment (e.g. "dev", "prod")
	Port            string        // HTTP port to listen on
	AMQPURL         string        // broker URL for the realtime transport (empty disables it)
	AdminUsername   string        // the one username with moderation privileges
	JWTSecret       string        // secret used to sign channel grants
	SessionTTL      time.Duration // sliding lifetime of a session token
	GracePeriod     time.Duration // window after expiry during which the last token is still honored
	BcryptCost      int           // bcrypt cost for password hashing
	AdminRateLimit  int           // admin requests allowed per window
	AdminRateWindow time.Duration // admin rate limit window
	ScopePrefix     string        // key prefix separating this deployment's data
}

// Load reads configuration from the environment, consulting a local
// .env file first when one exists. The only hard requirement is
// JWT_SECRET; its absence exits with a fatal log message.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:             envStr("APP_ENV", "dev"),
		Port:            envStr("APP_PORT", "8080"),
		AMQPURL:         os.Getenv("AMQP_URL"),
		AdminUsername:   envStr("ADMIN_USERNAME", "admin"),
		JWTSecret:       must("JWT_SECRET"),
		SessionTTL:      time.Duration(envInt("SESSION_TTL_HOURS", 168)) * time.Hour,
		GracePeriod:     time.Duration(envInt("GRACE_PERIOD_MIN", 60)) * time.Minute,
		BcryptCost:      envInt("BCRYPT_COST", 10),
		AdminRateLimit:  envInt("ADMIN_RATE_LIMIT", 30),
		AdminRateWindow: time.Duration(envInt("ADMIN_RATE_WINDOW_SEC", 60)) * time.Second,
		ScopePrefix:     envStr("SCOPE_PREFIX", "chat"),
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
