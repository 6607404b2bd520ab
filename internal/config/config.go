package config

import (
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	BasePath string        // directory whose children are services (BASE_PATH)
	Wait     time.Duration // debounce quiescence window (WAIT_SECONDS, may be 0)

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	Workers        int           // max concurrent compose invocations across services
	ShutdownGrace  time.Duration // how long to wait for in-flight actions on shutdown
	ComposeBin     string        // binary providing the "compose" subcommand (ex: docker)
	ComposeTimeout time.Duration // upper bound for a single compose invocation
	IgnoreSuffixes []string      // extra file suffixes never treated as a change

	// Status server (read-only). Empty StatusAddr disables it.
	StatusAddr   string   // ex: ":9180"
	AllowedCIDRS []string // optional, restrict access to the status endpoints
	TrustProxy   bool     // true => trust X-Forwarded-For headers

	// Redis status publisher. Empty RedisAddr disables it.
	RedisAddr           string        // ex: "localhost:6379"
	RedisUser           string        // optional
	RedisPassword       string        // optional
	RedisDB             int           // Redis DB number
	RedisDT             time.Duration // Redis dial timeout (ex: 5s)
	RedisRT             time.Duration // Redis read timeout (ex: 3s)
	RedisWT             time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait        time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout    time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize       int           // Redis connection pool size
	RedisConnectTimeout time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval  time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold  int           // warn after this many attempts
	StatusRefresh       time.Duration // period of the status refresh / cleanup job
	StatusTTL           time.Duration // TTL of published status entries
}

// source resolves a setting from the environment first, then from the
// optional YAML overlay file.
type source struct {
	file map[string]string
}

// Load reads the configuration once at startup. Invalid mandatory values
// panic with a FATAL message, like a missing required variable.
func Load() *Config {
	src := &source{}
	if path := os.Getenv("STACKWATCH_CONFIG_FILE"); path != "" {
		values, err := loadOverlay(path)
		if err != nil {
			panic(fmt.Sprintf("❌ FATAL: %v", err))
		}
		src.file = values
	}
	return src.load()
}

// LoadEnvFile loads a dotenv file into the process environment. Variables
// already set in the environment keep their value.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func (s *source) load() *Config {
	cfg := &Config{
		// Core
		BasePath: s.getenv("BASE_PATH", "/opt/stackwatch/services"),
		Wait:     s.mustSeconds("WAIT_SECONDS", time.Second),

		// Logging
		LogLevel:  strings.ToLower(s.getenv("LOG_LEVEL", "info")),
		PrettyLog: s.mustBool("STACKWATCH_PRETTY_LOG", false),

		// Executor
		Workers:        s.getenvInt("STACKWATCH_WORKERS", 4),
		ShutdownGrace:  s.mustDuration("STACKWATCH_SHUTDOWN_GRACE", 30*time.Second),
		ComposeBin:     s.getenv("STACKWATCH_COMPOSE_BIN", "docker"),
		ComposeTimeout: s.mustDuration("STACKWATCH_COMPOSE_TIMEOUT", 10*time.Minute),
		IgnoreSuffixes: splitAndTrim(s.getenv("STACKWATCH_IGNORE_SUFFIXES", "")),

		// Status server
		StatusAddr:   s.getenv("STACKWATCH_STATUS_ADDR", ""),
		AllowedCIDRS: parseAllowedIPs(s.getenv("STACKWATCH_ALLOWED_CIDRS", "")),
		TrustProxy:   s.mustBool("STACKWATCH_TRUST_PROXY", false),

		// Redis settings
		RedisAddr:           s.getenv("STACKWATCH_REDIS_ADDR", ""),
		RedisUser:           s.getenv("STACKWATCH_REDIS_USERNAME", ""),
		RedisPassword:       s.getenv("STACKWATCH_REDIS_PASSWORD", ""),
		RedisDB:             s.getenvInt("STACKWATCH_REDIS_DB", 0),
		RedisDT:             s.mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             s.mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             s.mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:        s.mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    s.mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:       s.getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: s.mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  s.mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:  s.getenvInt("REDIS_WARN_THRESHOLD", 3),
		StatusRefresh:       s.mustDuration("STACKWATCH_STATUS_REFRESH", time.Minute),
		StatusTTL:           s.mustDuration("STACKWATCH_STATUS_TTL", 48*time.Hour),
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BasePath == "" {
		panic("❌ FATAL: BASE_PATH must not be empty")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		if cfgCopy.RedisPassword != "" {
			cfgCopy.RedisPassword = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// loadOverlay reads a flat YAML mapping. Keys are matched case-insensitively
// against the environment variable names (base_path => BASE_PATH). Lists are
// joined with commas.
func loadOverlay(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch val := v.(type) {
		case nil:
			continue
		case []interface{}:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			values[key] = strings.Join(parts, ",")
		case map[string]interface{}:
			return nil, fmt.Errorf("config key %s: nested mappings are not supported", k)
		default:
			values[key] = fmt.Sprint(val)
		}
	}
	return values, nil
}

// helpers
func (s *source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if s.file != nil {
		return s.file[key]
	}
	return ""
}

func (s *source) getenv(key, def string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return def
}

func (s *source) getenvInt(key string, def int) int {
	if v := s.lookup(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (s *source) mustBool(key string, def bool) bool {
	if v := s.lookup(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func (s *source) mustDuration(key string, def time.Duration) time.Duration {
	if v := s.lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// mustSeconds parses a non-negative number of seconds ("1", "0.25", "0").
func (s *source) mustSeconds(key string, def time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		panic(fmt.Sprintf("❌ FATAL: Invalid number of seconds for %s: %s", key, v))
	}
	if f < 0 {
		panic(fmt.Sprintf("❌ FATAL: %s must be >= 0, got %s", key, v))
	}
	return time.Duration(f * float64(time.Second))
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
