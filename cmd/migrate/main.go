// Package main applies the embedded kv_items schema migrations to the
// configured PostgreSQL database.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/viper"

	"github.com/cory-johannsen/grove/internal/config"
	"github.com/cory-johannsen/grove/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	direction := flag.String("direction", "up", "up, down, or version")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	force := flag.Int("force", -1, "set the schema version without migrating, clearing the dirty flag")
	flag.Parse()

	if err := run(*configPath, *direction, *steps, *force); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}

func run(configPath, direction string, steps, force int) error {
	start := time.Now()

	dbCfg, err := loadDatabaseConfig(configPath)
	if err != nil {
		return err
	}
	m, err := postgres.NewMigrator(dbCfg.DSN())
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if force >= 0 {
		if err := m.Force(force); err != nil {
			return fmt.Errorf("forcing version %d: %w", force, err)
		}
		return report(m, "forced", start)
	}

	switch direction {
	case "up":
		err = migrateBy(m.Up, m.Steps, steps)
	case "down":
		err = migrateBy(m.Down, m.Steps, -steps)
	case "version":
		return report(m, "current", start)
	default:
		return fmt.Errorf("invalid direction %q: must be up, down, or version", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return report(m, "no changes", start)
	}
	if err != nil {
		return fmt.Errorf("migrating %s: %w", direction, err)
	}
	return report(m, "migrated "+direction, start)
}

// migrateBy runs all when steps is zero, otherwise stepFn(steps).
func migrateBy(all func() error, stepFn func(int) error, steps int) error {
	if steps == 0 {
		return all()
	}
	return stepFn(steps)
}

func report(m *migrate.Migrate, what string, start time.Time) error {
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading schema version: %w", err)
	}
	fmt.Fprintf(os.Stdout, "%s: version=%d dirty=%v [%s]\n", what, version, dirty, time.Since(start))
	return nil
}

func loadDatabaseConfig(path string) (config.DatabaseConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GROVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	config.SetDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return config.DatabaseConfig{}, fmt.Errorf("reading config: %w", err)
	}
	var dbCfg config.DatabaseConfig
	if err := v.UnmarshalKey("database", &dbCfg); err != nil {
		return config.DatabaseConfig{}, fmt.Errorf("parsing database config: %w", err)
	}
	return dbCfg, nil
}
