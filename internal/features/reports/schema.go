package reports

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/xyz-asif/floodreport/internal/database"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// Migrations is the SQLite schema history for the ledger.
var Migrations = []database.Migration{
	{
		Version: 1,
		Name:    "create flood_reports",
		Up: func(tx *gorm.DB) error {
			stmts := []string{
				`CREATE TABLE IF NOT EXISTS flood_reports (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					submitted_at DATETIME NOT NULL,
					address TEXT NOT NULL,
					flood_height TEXT NOT NULL,
					reporter_name TEXT NOT NULL,
					reporter_phone TEXT,
					photo_ref TEXT,
					submitter_id TEXT NOT NULL,
					report_date TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending'
				)`,
				`CREATE INDEX IF NOT EXISTS idx_flood_reports_submitter_date ON flood_reports (submitter_id, report_date)`,
				`CREATE INDEX IF NOT EXISTS idx_flood_reports_report_date ON flood_reports (report_date)`,
				`CREATE INDEX IF NOT EXISTS idx_flood_reports_submitted_at ON flood_reports (submitted_at)`,
			}
			return execAll(tx, stmts)
		},
	},
	{
		Version: 2,
		Name:    "track mirror status",
		Up: func(tx *gorm.DB) error {
			stmts := []string{
				`ALTER TABLE flood_reports ADD COLUMN mirror_status TEXT NOT NULL DEFAULT 'not_attempted'`,
				`ALTER TABLE flood_reports ADD COLUMN mirror_attempts INTEGER NOT NULL DEFAULT 0`,
				`ALTER TABLE flood_reports ADD COLUMN mirror_error TEXT NOT NULL DEFAULT ''`,
				`ALTER TABLE flood_reports ADD COLUMN mirrored_at DATETIME`,
				`CREATE INDEX IF NOT EXISTS idx_flood_reports_mirror_status ON flood_reports (mirror_status, submitted_at)`,
			}
			return execAll(tx, stmts)
		},
	},
}

// RequiredColumns must exist before the service accepts submissions.
var RequiredColumns = []string{
	"id", "submitted_at", "address", "flood_height", "reporter_name",
	"reporter_phone", "photo_ref", "submitter_id", "report_date", "status",
	"mirror_status", "mirror_attempts", "mirror_error", "mirrored_at",
}

func execAll(tx *gorm.DB, stmts []string) error {
	for _, s := range stmts {
		if err := tx.Exec(s).Error; err != nil {
			return err
		}
	}
	return nil
}

// MongoMigrations is the index history for the Mongo ledger.
var MongoMigrations = []database.MongoMigration{
	{
		Version: 1,
		Name:    "report indexes",
		Up: func(ctx context.Context, db *mongo.Database) error {
			_, err := db.Collection(reportsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
				{Keys: bson.D{{Key: "submitterId", Value: 1}, {Key: "reportDate", Value: 1}}},
				{Keys: bson.D{{Key: "reportDate", Value: 1}, {Key: "submittedAt", Value: -1}}},
				{Keys: bson.D{{Key: "submittedAt", Value: -1}}},
			})
			return err
		},
	},
	{
		Version: 2,
		Name:    "mirror status index",
		Up: func(ctx context.Context, db *mongo.Database) error {
			_, err := db.Collection(reportsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
				Keys: bson.D{{Key: "mirrorStatus", Value: 1}, {Key: "submittedAt", Value: 1}},
			})
			return err
		},
	},
}

// PrepareSQLite brings the schema up to date and verifies the columns the
// ledger relies on.
func PrepareSQLite(ctx context.Context, db *gorm.DB, log logrus.FieldLogger) (int, error) {
	applied, err := database.Migrate(ctx, db, Migrations, log)
	if err != nil {
		return applied, err
	}
	if err := database.RequireColumns(db.WithContext(ctx), Report{}.TableName(), RequiredColumns); err != nil {
		return applied, err
	}
	return applied, nil
}
