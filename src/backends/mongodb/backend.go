// Package mongodb implements the document storage engine: one
// collection per dictionary guarded by a JSON-schema validator, and the
// dict/version_scheme metadata collections.
package mongodb

import (
	"context"
	"fmt"

	"dictstore/src/backends"
	"dictstore/src/settings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Backend is the Mongo engine. It carries the database handle, the DDL
// transaction registrar and the ambient logger/settings.
type Backend struct {
	db        *mongo.Database
	registrar backends.TransactionRegistrar
	logger    *zap.SugaredLogger
	settings  *settings.Arguments
}

func NewBackend(db *mongo.Database, registrar backends.TransactionRegistrar,
	logger *zap.SugaredLogger, args *settings.Arguments) *Backend {
	return &Backend{
		db:        db,
		registrar: registrar,
		logger:    logger,
		settings:  args,
	}
}

// Connect opens the configured database.
func Connect(ctx context.Context, args *settings.Arguments) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(args.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to reach mongo: %w", err)
	}
	return client.Database(args.MongoDatabase), nil
}

func (b *Backend) EngineName() string { return "mongo" }

func (b *Backend) SchemaBackend() backends.SchemaBackend { return b }
func (b *Backend) DataBackend() backends.DataBackend     { return b }
