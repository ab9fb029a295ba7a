// Package config provides Viper-based configuration loading for the game server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server modes.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// Position validation policies.
const (
	ValidationStrict     = "strict"
	ValidationBoundsOnly = "bounds_only"
)

// Store backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Mode is the deployment mode: "production" or "development".
	Mode string `mapstructure:"mode"`
	// Validation selects the position validation policy: "strict" or
	// "bounds_only". bounds_only is only accepted in development mode.
	Validation string `mapstructure:"validation"`
}

// HTTPConfig holds the HTTP/WebSocket listener settings.
type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PongWait is how long a WebSocket may stay silent before it is dropped.
	PongWait time.Duration `mapstructure:"pong_wait"`
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int `mapstructure:"send_buffer"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	// SweepInterval is how often the postgres backend deletes expired rows.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// GameConfig holds gameplay timing and cache settings.
type GameConfig struct {
	// PlayerTTL is the lifetime of a player record. Only a (re)join
	// refreshes it unless RefreshOnActivity is set.
	PlayerTTL time.Duration `mapstructure:"player_ttl"`
	// RefreshOnActivity also refreshes PlayerTTL on every valid position update.
	RefreshOnActivity bool `mapstructure:"refresh_on_activity"`
	// GroundItemTTL is the lifetime of a dropped item.
	GroundItemTTL time.Duration `mapstructure:"ground_item_ttl"`
	// HarvestTTL is the lifetime of a pending harvest record.
	HarvestTTL time.Duration `mapstructure:"harvest_ttl"`
	// ConnectionCacheTTL is the lifetime of a cached room connection list.
	ConnectionCacheTTL time.Duration `mapstructure:"connection_cache_ttl"`
	// ConnectionCacheSize bounds the number of cached rooms.
	ConnectionCacheSize int `mapstructure:"connection_cache_size"`
	// StaleSetSize bounds the number of remembered gone connection ids.
	StaleSetSize int `mapstructure:"stale_set_size"`
	// PickupRange is the maximum distance between a player and a ground item
	// it picks up.
	PickupRange float64 `mapstructure:"pickup_range"`
	// BroadcastConcurrency bounds the parallel sends of one broadcast.
	BroadcastConcurrency int `mapstructure:"broadcast_concurrency"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Game     GameConfig     `mapstructure:"game"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateHTTP(c.HTTP); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateStore(c.Store, c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	switch c.Store.Backend {
	case BackendRedis:
		if c.Redis.Address == "" {
			errs = append(errs, "redis.address must not be empty")
		}
	case BackendPostgres:
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGame(c.Game); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	validModes := map[string]bool{ModeProduction: true, ModeDevelopment: true}
	if !validModes[s.Mode] {
		return fmt.Errorf("server.mode must be one of [production, development], got %q", s.Mode)
	}
	validPolicies := map[string]bool{ValidationStrict: true, ValidationBoundsOnly: true}
	if !validPolicies[s.Validation] {
		return fmt.Errorf("server.validation must be one of [strict, bounds_only], got %q", s.Validation)
	}
	if s.Validation == ValidationBoundsOnly && s.Mode != ModeDevelopment {
		return errors.New("server.validation bounds_only is only allowed in development mode")
	}
	return nil
}

func validateHTTP(h HTTPConfig) error {
	var errs []string
	if h.Port < 1 || h.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be 1-65535, got %d", h.Port))
	}
	if h.ReadTimeout < 0 {
		errs = append(errs, "http.read_timeout must not be negative")
	}
	if h.WriteTimeout < 0 {
		errs = append(errs, "http.write_timeout must not be negative")
	}
	if h.PongWait <= 0 {
		errs = append(errs, "http.pong_wait must be positive")
	}
	if h.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("http.send_buffer must be >= 1, got %d", h.SendBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateStore(s StoreConfig, srv ServerConfig) error {
	validBackends := map[string]bool{BackendRedis: true, BackendPostgres: true, BackendMemory: true}
	if !validBackends[s.Backend] {
		return fmt.Errorf("store.backend must be one of [redis, postgres, memory], got %q", s.Backend)
	}
	if s.Backend == BackendMemory && srv.Mode != ModeDevelopment {
		return errors.New("store.backend memory is only allowed in development mode")
	}
	if s.Backend == BackendPostgres && s.SweepInterval <= 0 {
		return errors.New("store.sweep_interval must be positive for the postgres backend")
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateGame(g GameConfig) error {
	var errs []string
	durations := map[string]time.Duration{
		"game.player_ttl":           g.PlayerTTL,
		"game.ground_item_ttl":      g.GroundItemTTL,
		"game.harvest_ttl":          g.HarvestTTL,
		"game.connection_cache_ttl": g.ConnectionCacheTTL,
	}
	for _, name := range []string{"game.player_ttl", "game.ground_item_ttl", "game.harvest_ttl", "game.connection_cache_ttl"} {
		if durations[name] <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive", name))
		}
	}
	if g.ConnectionCacheSize < 1 {
		errs = append(errs, fmt.Sprintf("game.connection_cache_size must be >= 1, got %d", g.ConnectionCacheSize))
	}
	if g.StaleSetSize < 1 {
		errs = append(errs, fmt.Sprintf("game.stale_set_size must be >= 1, got %d", g.StaleSetSize))
	}
	if g.PickupRange <= 0 {
		errs = append(errs, "game.pickup_range must be positive")
	}
	if g.BroadcastConcurrency < 1 {
		errs = append(errs, fmt.Sprintf("game.broadcast_concurrency must be >= 1, got %d", g.BroadcastConcurrency))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with GROVE_ prefix
	v.SetEnvPrefix("GROVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", ModeProduction)
	v.SetDefault("server.validation", ValidationStrict)

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.pong_wait", "60s")
	v.SetDefault("http.send_buffer", 256)

	v.SetDefault("store.backend", BackendRedis)
	v.SetDefault("store.sweep_interval", "1m")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "grove")
	v.SetDefault("database.password", "grove")
	v.SetDefault("database.name", "grove")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("game.player_ttl", "2m")
	v.SetDefault("game.refresh_on_activity", false)
	v.SetDefault("game.ground_item_ttl", "1h")
	v.SetDefault("game.harvest_ttl", "10m")
	v.SetDefault("game.connection_cache_ttl", "30s")
	v.SetDefault("game.connection_cache_size", 1024)
	v.SetDefault("game.stale_set_size", 4096)
	v.SetDefault("game.pickup_range", 3.0)
	v.SetDefault("game.broadcast_concurrency", 32)
}
