// Package config loads licensegate configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// StoreDriver selects the storage backend.
type StoreDriver string

const (
	// StoreSQLite keeps both stores in a local SQLite file.
	StoreSQLite StoreDriver = "sqlite"
	// StorePostgres uses PostgreSQL via DATABASE_URL.
	StorePostgres StoreDriver = "postgres"
	// StoreMongo uses MongoDB via MONGO_URI.
	StoreMongo StoreDriver = "mongo"
)

// Defaults.
const (
	DefaultPort              = 10000
	DefaultDatabasePath      = "licenses.db"
	DefaultMongoDatabase     = "licensegate"
	DefaultRateLimitRequests = 600
	DefaultRateLimitPeriod   = time.Minute
	DefaultRefreshInterval   = 10 * time.Second
	DefaultEventWindow       = 200
	DefaultDBMaxConns        = 10
	DefaultDBMinConns        = 1
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment       Environment
	ListenAddr        string
	StoreDriver       StoreDriver
	DatabasePath      string // SQLite file (default: licenses.db)
	DatabaseURL       string // PostgreSQL connection string
	DBMaxConns        int    // PostgreSQL pool ceiling (default: 10)
	DBMinConns        int    // PostgreSQL warm connections (default: 1)
	MongoURI          string
	MongoDatabase     string
	RedisURL          string // shared rate limit store; in-memory when empty
	RateLimitRequests int64  // verify requests per client IP per period, 0 to disable
	RateLimitPeriod   time.Duration
	RefreshInterval   time.Duration // dashboard refresh (default: 10s)
	EventWindow       int           // events per dashboard snapshot (default: 200)
	SeedDefault       bool          // provision LIC-dev on start (default: true)
	SeedFile          string        // YAML licenses provisioned on start when set
	CORSOrigins       []string
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		port := getEnvInt("PORT", DefaultPort)
		if port <= 0 || port > 65535 {
			port = DefaultPort
		}
		listenAddr = fmt.Sprintf("0.0.0.0:%d", port)
	}

	driver := StoreDriver(strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER"))))
	if driver == "" {
		driver = StoreSQLite
	}

	rateLimit := getEnvInt("RATE_LIMIT_REQUESTS", DefaultRateLimitRequests)
	if rateLimit < 0 {
		rateLimit = DefaultRateLimitRequests
	}

	window := getEnvInt("DASHBOARD_EVENT_WINDOW", DefaultEventWindow)
	if window <= 0 {
		window = DefaultEventWindow
	}

	return ServerConfig{
		Environment:       env,
		ListenAddr:        listenAddr,
		StoreDriver:       driver,
		DatabasePath:      getEnvString("DATABASE_PATH", DefaultDatabasePath),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DBMaxConns:        getEnvInt("DB_MAX_CONNS", DefaultDBMaxConns),
		DBMinConns:        getEnvInt("DB_MIN_CONNS", DefaultDBMinConns),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDatabase:     getEnvString("MONGO_DATABASE", DefaultMongoDatabase),
		RedisURL:          os.Getenv("REDIS_URL"),
		RateLimitRequests: int64(rateLimit),
		RateLimitPeriod:   getEnvDuration("RATE_LIMIT_PERIOD", DefaultRateLimitPeriod),
		RefreshInterval:   getEnvDuration("DASHBOARD_REFRESH_INTERVAL", DefaultRefreshInterval),
		EventWindow:       window,
		SeedDefault:       getEnvBool("SEED_DEFAULT_LICENSE", true),
		SeedFile:          os.Getenv("LICENSE_SEED_FILE"),
		CORSOrigins:       getEnvList("CORS_ORIGINS"),
	}
}

// Validate checks that the selected backend has what it needs.
func (c ServerConfig) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreSQLite:
		if c.DatabasePath == "" {
			errs = append(errs, errors.New("DATABASE_PATH is required for the sqlite store"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
		if c.DBMaxConns <= 0 {
			errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns))
		}
		if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			errs = append(errs, fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got %d", c.DBMinConns))
		}
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q (want sqlite, postgres or mongo)", c.StoreDriver))
	}
	if c.RefreshInterval < time.Second {
		errs = append(errs, fmt.Errorf("DASHBOARD_REFRESH_INTERVAL must be at least 1s, got %s", c.RefreshInterval))
	}
	if c.RateLimitRequests > 0 && c.RateLimitPeriod <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PERIOD must be positive"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in production mode.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getEnvString(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
