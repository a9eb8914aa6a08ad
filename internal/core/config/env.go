package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file from dir into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: PACKT_[SECTION]_[KEY] (e.g., PACKT_BUILD_WORKERS).
// It must run before Finalize so overrides are anchored and validated like
// file values; LoadWithEnv does that.
func ApplyEnvOverrides(cfg *Config) {
	// Paths
	setEnvString(&cfg.Paths.ProjectRoot, "PACKT_PATHS_PROJECT_ROOT")
	setEnvString(&cfg.Paths.OutputDir, "PACKT_PATHS_OUTPUT_DIR")
	setEnvString(&cfg.Paths.CacheDir, "PACKT_PATHS_CACHE_DIR")
	setEnvString(&cfg.Paths.StateDir, "PACKT_PATHS_STATE_DIR")

	// Build
	setEnvInt(&cfg.Build.Workers, "PACKT_BUILD_WORKERS")
	setEnvBoolPtr(&cfg.Build.FailFast, "PACKT_BUILD_FAIL_FAST")
	setEnvList(&cfg.Build.Variants, "PACKT_BUILD_VARIANTS")

	// Cache
	setEnvBoolPtr(&cfg.Cache.Enabled, "PACKT_CACHE_ENABLED")
	setEnvInt(&cfg.Cache.MemoryEntries, "PACKT_CACHE_MEMORY_ENTRIES")

	// History
	setEnvBoolPtr(&cfg.History.Enabled, "PACKT_HISTORY_ENABLED")
	setEnvString(&cfg.History.Path, "PACKT_HISTORY_PATH")

	// Watch
	setEnvDuration(&cfg.Watch.Debounce, "PACKT_WATCH_DEBOUNCE")
	setEnvFloat64(&cfg.Watch.MaxRebuildsPerSecond, "PACKT_WATCH_MAX_REBUILDS_PER_SECOND")

	// Observability
	setEnvBool(&cfg.Observability.Enabled, "PACKT_OBSERVABILITY_ENABLED")
	setEnvString(&cfg.Observability.Address, "PACKT_OBSERVABILITY_ADDRESS")
	setEnvString(&cfg.Observability.OTLPEndpoint, "PACKT_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvBool(&cfg.Observability.EnableTracing, "PACKT_OBSERVABILITY_ENABLE_TRACING")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		log.Printf("Applying env override: %s=%s", key, val)
		*target = val
	}
}

func setEnvList(target *[]string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		log.Printf("Applying env override: %s=%s", key, val)
		*target = trimAll(strings.Split(val, ","))
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			log.Printf("Applying env override: %s=%s", key, val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			log.Printf("Applying env override: %s=%s", key, val)
			*target = b
		}
	}
}

func setEnvBoolPtr(target **bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			log.Printf("Applying env override: %s=%s", key, val)
			*target = &b
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			log.Printf("Applying env override: %s=%s", key, val)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			log.Printf("Applying env override: %s=%s", key, val)
			*target = d
		}
	}
}
