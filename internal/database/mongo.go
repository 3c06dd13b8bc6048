// ================== internal/database/mongo.go ==================
package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// MongoOptions tunes the client pool.
type MongoOptions struct {
	Timeout time.Duration
	MaxPool uint64
	MinPool uint64
}

func DefaultMongoOptions() MongoOptions {
	return MongoOptions{
		Timeout: 10 * time.Second,
		MaxPool: 50,
		MinPool: 2,
	}
}

func Connect(ctx context.Context, uri, dbName string, opts MongoOptions) (*MongoDB, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	if opts.MaxPool > 0 {
		clientOptions.SetMaxPoolSize(opts.MaxPool)
	}
	clientOptions.SetMinPoolSize(opts.MinPool)
	clientOptions.SetMaxConnIdleTime(30 * time.Second)
	clientOptions.SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoDB{
		Client:   client,
		Database: client.Database(dbName),
	}, nil
}

func (m *MongoDB) Disconnect(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// HealthCheck pings the primary.
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.Client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	return nil
}

// MongoMigration is one forward-only schema step for a Mongo database.
type MongoMigration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, db *mongo.Database) error
}

const schemaInfoCollection = "schema_info"

// MigrateMongo applies migrations newer than the version stored in
// schema_info. Each step records its version once it succeeds.
func MigrateMongo(ctx context.Context, db *mongo.Database, migrations []MongoMigration) (int, error) {
	info := db.Collection(schemaInfoCollection)

	var doc struct {
		Version int `bson:"version"`
	}
	err := info.FindOne(ctx, bson.M{"_id": "schema"}).Decode(&doc)
	if err != nil && err != mongo.ErrNoDocuments {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	latest := 0
	for _, m := range migrations {
		if m.Version > latest {
			latest = m.Version
		}
	}
	if doc.Version > latest {
		return 0, fmt.Errorf("database schema version %d is newer than supported version %d", doc.Version, latest)
	}

	applied := 0
	for v := doc.Version + 1; v <= latest; v++ {
		for _, m := range migrations {
			if m.Version != v {
				continue
			}
			if err := m.Up(ctx, db); err != nil {
				return applied, fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
			_, err := info.UpdateOne(ctx, bson.M{"_id": "schema"},
				bson.M{"$set": bson.M{"version": m.Version, "name": m.Name, "appliedAt": time.Now().UTC()}},
				options.Update().SetUpsert(true))
			if err != nil {
				return applied, fmt.Errorf("record schema version %d: %w", m.Version, err)
			}
			applied++
		}
	}
	return applied, nil
}
