package mongodb

import (
	"context"
	"errors"
	"fmt"

	"dictstore/src/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	dictCollection    = "dict"
	versionCollection = "version_scheme"
)

// MetaStore persists Dict metadata and applied-migration records in two
// fixed collections.
type MetaStore struct {
	db     *mongo.Database
	logger *zap.SugaredLogger
}

func NewMetaStore(db *mongo.Database, logger *zap.SugaredLogger) *MetaStore {
	return &MetaStore{db: db, logger: logger}
}

// DictStore exposes the Dict metadata contract.
func (m *MetaStore) DictStore() DictStoreAdapter { return DictStoreAdapter{m} }

// VersionStore exposes the migration-log contract.
func (m *MetaStore) VersionStore() VersionStoreAdapter { return VersionStoreAdapter{m} }

func (m *MetaStore) Get(ctx context.Context, id string) (*models.Dict, error) {
	var dict models.Dict
	err := m.db.Collection(dictCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&dict)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("dictionary '%s': %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary '%s': %w", id, err)
	}
	return &dict, nil
}

func (m *MetaStore) GetAll(ctx context.Context) ([]*models.Dict, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := m.db.Collection(dictCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionaries: %w", err)
	}
	defer cursor.Close(ctx)
	var dicts []*models.Dict
	for cursor.Next(ctx) {
		var dict models.Dict
		if err := cursor.Decode(&dict); err != nil {
			return nil, fmt.Errorf("failed to read dictionaries: %w", err)
		}
		dicts = append(dicts, &dict)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dictionaries: %w", err)
	}
	return dicts, nil
}

func (m *MetaStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := m.db.Collection(dictCollection).CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check dictionary '%s': %w", id, err)
	}
	return n > 0, nil
}

func (m *MetaStore) Create(ctx context.Context, dict *models.Dict) error {
	exists, err := m.Exists(ctx, dict.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("dictionary '%s': %w", dict.ID, models.ErrAlreadyExists)
	}
	if _, err := m.db.Collection(dictCollection).InsertOne(ctx, dict); err != nil {
		return fmt.Errorf("failed to store dictionary '%s': %w", dict.ID, err)
	}
	return nil
}

func (m *MetaStore) Update(ctx context.Context, dict *models.Dict) error {
	result, err := m.db.Collection(dictCollection).ReplaceOne(ctx, bson.M{"_id": dict.ID}, dict)
	if err != nil {
		return fmt.Errorf("failed to store dictionary '%s': %w", dict.ID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("dictionary '%s': %w", dict.ID, models.ErrNotFound)
	}
	return nil
}

func (m *MetaStore) Delete(ctx context.Context, id string) error {
	result, err := m.db.Collection(dictCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete dictionary '%s': %w", id, err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("dictionary '%s': %w", id, models.ErrNotFound)
	}
	return nil
}

func (m *MetaStore) GetAllVersions(ctx context.Context) ([]*models.VersionScheme, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})
	cursor, err := m.db.Collection(versionCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read version log: %w", err)
	}
	defer cursor.Close(ctx)
	var schemes []*models.VersionScheme
	for cursor.Next(ctx) {
		var vs models.VersionScheme
		if err := cursor.Decode(&vs); err != nil {
			return nil, fmt.Errorf("failed to read version log: %w", err)
		}
		schemes = append(schemes, &vs)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read version log: %w", err)
	}
	return schemes, nil
}

func (m *MetaStore) ExistsChecksum(ctx context.Context, checksum string) (bool, error) {
	n, err := m.db.Collection(versionCollection).CountDocuments(ctx,
		bson.M{"checksum": checksum}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check version log: %w", err)
	}
	return n > 0, nil
}

func (m *MetaStore) CreateVersion(ctx context.Context, scheme *models.VersionScheme) error {
	n, err := m.db.Collection(versionCollection).CountDocuments(ctx, bson.M{"$or": bson.A{
		bson.M{"checksum": scheme.Checksum},
		bson.M{"version": scheme.Version},
	}}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("failed to check version log: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("version %d already applied: %w", scheme.Version, models.ErrAlreadyExists)
	}
	if _, err := m.db.Collection(versionCollection).InsertOne(ctx, scheme); err != nil {
		return fmt.Errorf("failed to append to version log: %w", err)
	}
	return nil
}

type DictStoreAdapter struct{ m *MetaStore }

func (a DictStoreAdapter) Get(ctx context.Context, id string) (*models.Dict, error) {
	return a.m.Get(ctx, id)
}
func (a DictStoreAdapter) GetAll(ctx context.Context) ([]*models.Dict, error) {
	return a.m.GetAll(ctx)
}
func (a DictStoreAdapter) Exists(ctx context.Context, id string) (bool, error) {
	return a.m.Exists(ctx, id)
}
func (a DictStoreAdapter) Create(ctx context.Context, dict *models.Dict) error {
	return a.m.Create(ctx, dict)
}
func (a DictStoreAdapter) Update(ctx context.Context, dict *models.Dict) error {
	return a.m.Update(ctx, dict)
}
func (a DictStoreAdapter) Delete(ctx context.Context, id string) error {
	return a.m.Delete(ctx, id)
}

type VersionStoreAdapter struct{ m *MetaStore }

func (a VersionStoreAdapter) GetAll(ctx context.Context) ([]*models.VersionScheme, error) {
	return a.m.GetAllVersions(ctx)
}
func (a VersionStoreAdapter) ExistsChecksum(ctx context.Context, checksum string) (bool, error) {
	return a.m.ExistsChecksum(ctx, checksum)
}
func (a VersionStoreAdapter) Create(ctx context.Context, scheme *models.VersionScheme) error {
	return a.m.CreateVersion(ctx, scheme)
}
