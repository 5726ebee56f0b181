// Package config defines service configuration and its loading.
//
// Keys are flat and map 1:1 to koanf tags so the same name works in the YAML
// file and, upper-cased with the ENCUESTA_ prefix, in the environment.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Control date bucketing modes.
const (
	BucketCloseDate      = "close_date"
	BucketProcessingDate = "processing_date"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	StoreDriver             string `koanf:"store_driver"`
	StoreDSN                string `koanf:"store_dsn"`
	StoreMaxOpenConns       int    `koanf:"store_max_open_conns"`
	StoreMaxIdleConns       int    `koanf:"store_max_idle_conns"`
	StoreConnMaxLifetimeSec int    `koanf:"store_conn_max_lifetime_sec"`
	// StoreEnsureSchema creates missing tables at startup.
	StoreEnsureSchema bool `koanf:"store_ensure_schema"`

	CRMBaseURL           string  `koanf:"crm_base_url"`
	CRMToken             string  `koanf:"crm_token"`
	CRMConceptProperty   string  `koanf:"crm_concept_property"`
	CRMCloseDateProperty string  `koanf:"crm_close_date_property"`
	CRMFlagProperty      string  `koanf:"crm_flag_property"`
	CRMTimeoutMS         int     `koanf:"crm_timeout_ms"`
	CRMRPS               float64 `koanf:"crm_rps"`
	CRMBurst             int     `koanf:"crm_burst"`

	// ChunkSize is the number of events started together.
	ChunkSize int `koanf:"chunk_size"`
	// Concurrency caps in-flight events inside a chunk; 0 means ChunkSize.
	Concurrency  int `koanf:"concurrency"`
	ChunkPauseMS int `koanf:"chunk_pause_ms"`

	// ConceptLimits maps upper-case concept labels to their daily quota. A table
	// set in the file or env replaces the defaults as a whole.
	ConceptLimits map[string]int `koanf:"concept_limits"`

	ContactGuard   bool   `koanf:"contact_guard"`
	RequireContact bool   `koanf:"require_contact"`
	Bucketing      string `koanf:"bucketing"`
	// Timezone is an IANA name used to derive calendar days.
	Timezone string `koanf:"timezone"`

	// RedisAddr enables the distributed quota lock when set.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	LockTTLMS     int    `koanf:"lock_ttl_ms"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":8080",
		StoreDriver:             DriverMemory,
		StoreMaxOpenConns:       10,
		StoreMaxIdleConns:       5,
		StoreConnMaxLifetimeSec: 300,
		StoreEnsureSchema:       true,
		CRMBaseURL:              "https://api.hubapi.com",
		CRMConceptProperty:      "concepto",
		CRMCloseDateProperty:    "closedate",
		CRMFlagProperty:         "enviar_encuesta",
		CRMTimeoutMS:            10_000,
		CRMRPS:                  10,
		CRMBurst:                10,
		ChunkSize:               10,
		Concurrency:             0,
		ChunkPauseMS:            1000,
		ConceptLimits: map[string]int{
			"MARATHON":    1000,
			"EXPLORER":    217,
			"BODEGA":      252,
			"OUTLET":      400,
			"TELESHOP":    197,
			"PUMA":        1300,
			"TAF":         1300,
			"UNDERARMOUR": 450,
		},
		ContactGuard:   true,
		RequireContact: false,
		Bucketing:      BucketCloseDate,
		Timezone:       "America/Guatemala",
		LockTTLMS:      5000,
	}
}

// Validate checks cross-field constraints. Errors wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.StoreDriver {
	case DriverMySQL, DriverPostgres:
		if c.StoreDSN == "" {
			return fmt.Errorf("%w: store_dsn is required for driver %q", ErrInvalidConfig, c.StoreDriver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}
	if c.CRMBaseURL == "" {
		return fmt.Errorf("%w: crm_base_url must not be empty", ErrInvalidConfig)
	}
	if c.CRMFlagProperty == "" || c.CRMConceptProperty == "" {
		return fmt.Errorf("%w: crm property names must not be empty", ErrInvalidConfig)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.Concurrency < 0 || c.ChunkPauseMS < 0 {
		return fmt.Errorf("%w: concurrency and chunk_pause_ms must not be negative", ErrInvalidConfig)
	}
	if c.CRMRPS < 0 || c.CRMBurst < 0 || c.CRMTimeoutMS <= 0 {
		return fmt.Errorf("%w: invalid crm throttling or timeout", ErrInvalidConfig)
	}
	switch c.Bucketing {
	case BucketCloseDate, BucketProcessingDate:
	default:
		return fmt.Errorf("%w: unknown bucketing %q", ErrInvalidConfig, c.Bucketing)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	for concept, limit := range c.ConceptLimits {
		if strings.TrimSpace(concept) == "" || limit < 0 {
			return fmt.Errorf("%w: bad concept limit %q=%d", ErrInvalidConfig, concept, limit)
		}
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ChunkPause returns ChunkPauseMS as a duration.
func (c *Config) ChunkPause() time.Duration {
	return time.Duration(c.ChunkPauseMS) * time.Millisecond
}

// CRMTimeout returns CRMTimeoutMS as a duration.
func (c *Config) CRMTimeout() time.Duration {
	return time.Duration(c.CRMTimeoutMS) * time.Millisecond
}

// LockTTL returns LockTTLMS as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMS) * time.Millisecond
}

// StoreConnMaxLifetime returns StoreConnMaxLifetimeSec as a duration.
func (c *Config) StoreConnMaxLifetime() time.Duration {
	return time.Duration(c.StoreConnMaxLifetimeSec) * time.Second
}
