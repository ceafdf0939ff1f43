package mongodb

import (
	"context"
	"fmt"

	"dictstore/src/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (b *Backend) CreateDictScheme(ctx context.Context, dict *models.Dict) (*models.Dict, error) {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return nil, err
	}
	exists, err := b.ExistsDictSchemeByID(ctx, dict.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("collection '%s': %w", dict.ID, models.ErrAlreadyExists)
	}
	opts := options.CreateCollection().SetValidator(BuildValidator(dict))
	if err := b.db.CreateCollection(ctx, dict.ID, opts); err != nil {
		return nil, fmt.Errorf("failed to create collection '%s': %w", dict.ID, err)
	}
	return dict, nil
}

// UpdateDictScheme recomputes the validator from the declared fields and
// swaps it in via collMod. The documents themselves are untouched;
// dropped fields linger in existing documents until rewritten.
func (b *Backend) UpdateDictScheme(ctx context.Context, dict *models.Dict) (*models.Dict, error) {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return nil, err
	}
	if err := b.applyValidator(ctx, dict.ID, dict); err != nil {
		return nil, err
	}
	return dict, nil
}

func (b *Backend) applyValidator(ctx context.Context, collection string, dict *models.Dict) error {
	cmd := bson.D{
		{Key: "collMod", Value: collection},
		{Key: "validator", Value: BuildValidator(dict)},
	}
	if err := b.db.RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("failed to update validator of '%s': %w", collection, err)
	}
	return nil
}

func (b *Backend) RenameDictSchemeByID(ctx context.Context, dict *models.Dict, newID string) error {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return err
	}
	// renameCollection is an admin-database command.
	cmd := bson.D{
		{Key: "renameCollection", Value: b.db.Name() + "." + dict.ID},
		{Key: "to", Value: b.db.Name() + "." + newID},
	}
	if err := b.db.Client().Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("failed to rename collection '%s' to '%s': %w", dict.ID, newID, err)
	}
	return nil
}

func (b *Backend) DeleteDictSchemeByID(ctx context.Context, dict *models.Dict) error {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return err
	}
	if err := b.db.Collection(dict.ID).Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop collection '%s': %w", dict.ID, err)
	}
	return nil
}

func (b *Backend) ExistsDictSchemeByID(ctx context.Context, id string) (bool, error) {
	names, err := b.db.ListCollectionNames(ctx, bson.M{"name": id})
	if err != nil {
		return false, fmt.Errorf("failed to check collection '%s': %w", id, err)
	}
	return len(names) > 0, nil
}

// RenameDictField renames the property in every document, then refreshes
// the validator so the new name is enforced.
func (b *Backend) RenameDictField(ctx context.Context, dict *models.Dict, oldFieldID, newFieldID string) error {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return err
	}
	update := bson.M{"$rename": bson.M{documentField(oldFieldID): documentField(newFieldID)}}
	if _, err := b.db.Collection(dict.ID).UpdateMany(ctx, bson.M{}, update); err != nil {
		return fmt.Errorf("failed to rename field '%s' on '%s': %w", oldFieldID, dict.ID, err)
	}

	renamed := dict.Clone()
	for i, f := range renamed.Fields {
		if f.ID == oldFieldID {
			renamed.Fields[i].ID = newFieldID
		}
	}
	return b.applyValidator(ctx, dict.ID, renamed)
}

func (b *Backend) CreateConstraint(ctx context.Context, dict *models.Dict, constraint models.DictConstraint) error {
	if err := b.registrar.RegisterAffected(ctx, dict, false); err != nil {
		return err
	}
	keys := bson.D{}
	for _, fieldID := range constraint.Fields {
		keys = append(keys, bson.E{Key: documentField(fieldID), Value: 1})
	}
	model := mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetName(constraint.ID).SetUnique(true),
	}
	if _, err := b.db.Collection(dict.ID).Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("failed to create constraint '%s' on '%s': %w", constraint.ID, dict.ID, err)
	}
	return nil
}

func (b *Backend) DeleteConstraint(ctx context.Context, dict *models.Dict, constraintID string) error {
	if err := b.registrar.RegisterAffected(ctx, dict, false); err != nil {
		return err
	}
	if _, err := b.db.Collection(dict.ID).Indexes().DropOne(ctx, constraintID); err != nil {
		return fmt.Errorf("failed to drop constraint '%s' on '%s': %w", constraintID, dict.ID, err)
	}
	return nil
}

func (b *Backend) CreateIndex(ctx context.Context, dict *models.Dict, index models.DictIndex) error {
	if err := b.registrar.RegisterAffected(ctx, dict, false); err != nil {
		return err
	}
	keys := bson.D{}
	for _, f := range index.Fields {
		dir := 1
		if f.Desc {
			dir = -1
		}
		keys = append(keys, bson.E{Key: documentField(f.FieldID), Value: dir})
	}
	model := mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetName(index.ID),
	}
	if _, err := b.db.Collection(dict.ID).Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("failed to create index '%s' on '%s': %w", index.ID, dict.ID, err)
	}
	return nil
}

func (b *Backend) DeleteIndex(ctx context.Context, dict *models.Dict, indexID string) error {
	if err := b.registrar.RegisterAffected(ctx, dict, false); err != nil {
		return err
	}
	if _, err := b.db.Collection(dict.ID).Indexes().DropOne(ctx, indexID); err != nil {
		return fmt.Errorf("failed to drop index '%s' on '%s': %w", indexID, dict.ID, err)
	}
	return nil
}
