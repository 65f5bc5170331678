// Package config reads process configuration from the environment after
// loading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jacksonlee411/statutory-payroll/pkg/authz"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	RedisAddr          string
	AuditEscalationKey string
	KafkaBrokers       []string
	AuditTopic         string
	LogLevel           string
	WriteTimeout       time.Duration
	AuditRetryAttempts int
	AuthzMode          authz.Mode
	AuthzModelPath     string
	AuthzPolicyPath    string
	GuardrailPolicy    string
	BatchConcurrency   int
}

// UsesPostgres reports whether a database was configured explicitly.
// Without one the CLI runs on in-memory stores.
func (c Config) UsesPostgres() bool { return c.DatabaseURL != "" }

// LoadDotenv reads path (".env" when empty) into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotenv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func FromEnv() (Config, error) {
	if err := LoadDotenv(os.Getenv("PAYROLL_ENV_FILE")); err != nil {
		return Config{}, err
	}

	mode, err := authz.ModeFromEnv()
	if err != nil {
		return Config{}, err
	}
	timeout, err := time.ParseDuration(getenvDefault("WRITE_TIMEOUT", "5s"))
	if err != nil {
		return Config{}, fmt.Errorf("config: WRITE_TIMEOUT: %w", err)
	}
	attempts, err := getenvInt("AUDIT_RETRY_ATTEMPTS", 5)
	if err != nil {
		return Config{}, err
	}
	concurrency, err := getenvInt("BATCH_CONCURRENCY", 8)
	if err != nil {
		return Config{}, err
	}

	return Config{
		DatabaseURL:        dbDSNFromEnv(),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		AuditEscalationKey: getenvDefault("AUDIT_ESCALATION_KEY", "payroll:audit:escalated"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		AuditTopic:         getenvDefault("AUDIT_TOPIC", "payroll.audit"),
		LogLevel:           getenvDefault("LOG_LEVEL", "info"),
		WriteTimeout:       timeout,
		AuditRetryAttempts: attempts,
		AuthzMode:          mode,
		AuthzModelPath:     os.Getenv("AUTHZ_MODEL_PATH"),
		AuthzPolicyPath:    os.Getenv("AUTHZ_POLICY_PATH"),
		GuardrailPolicy:    os.Getenv("GUARDRAIL_POLICY_PATH"),
		BatchConcurrency:   concurrency,
	}, nil
}

// dbDSNFromEnv prefers DATABASE_URL and otherwise assembles a DSN only when
// DB_HOST is set.
func dbDSNFromEnv() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}

	port := getenvDefault("DB_PORT", "5432")
	user := getenvDefault("DB_USER", "app")
	pass := getenvDefault("DB_PASSWORD", "app")
	name := getenvDefault("DB_NAME", "payroll")
	sslmode := getenvDefault("DB_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   host + ":" + port,
		Path:   "/" + name,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
