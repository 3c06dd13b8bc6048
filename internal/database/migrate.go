package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	Up      func(tx *gorm.DB) error
}

// SchemaMigration records an applied migration.
type SchemaMigration struct {
	Version   int `gorm:"primaryKey;autoIncrement:false"`
	Name      string
	AppliedAt time.Time
}

func (SchemaMigration) TableName() string { return "schema_migrations" }

// Migrate applies every migration newer than the recorded version, each in
// its own transaction. A database newer than the known migrations is an error.
func Migrate(ctx context.Context, db *gorm.DB, migrations []Migration, log logrus.FieldLogger) (int, error) {
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	db = db.WithContext(ctx)
	if err := db.AutoMigrate(&SchemaMigration{}); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return 0, err
	}
	if len(sorted) > 0 && current > sorted[len(sorted)-1].Version {
		return 0, fmt.Errorf("database schema version %d is newer than supported version %d", current, sorted[len(sorted)-1].Version)
	}

	applied := 0
	for _, m := range sorted {
		if m.Version <= current {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Create(&SchemaMigration{Version: m.Version, Name: m.Name, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return applied, fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if log != nil {
			log.WithFields(logrus.Fields{"version": m.Version, "name": m.Name}).Info("applied migration")
		}
		applied++
	}
	return applied, nil
}

// SchemaVersion returns the highest applied migration, or 0.
func SchemaVersion(db *gorm.DB) (int, error) {
	var version int
	err := db.Model(&SchemaMigration{}).Select("COALESCE(MAX(version), 0)").Scan(&version).Error
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// RequireColumns fails when table lacks any of the named columns.
func RequireColumns(db *gorm.DB, table string, columns []string) error {
	types, err := db.Migrator().ColumnTypes(table)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	have := make(map[string]bool, len(types))
	for _, ct := range types {
		have[strings.ToLower(ct.Name())] = true
	}

	var missing []string
	for _, c := range columns {
		if !have[strings.ToLower(c)] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("table %s is missing columns: %s", table, strings.Join(missing, ", "))
	}
	return nil
}
