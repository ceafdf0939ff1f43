package directors

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"dictstore/src/backends"
	"dictstore/src/models"
	"dictstore/src/settings"

	"go.uber.org/zap"
)

// Collection/table names the metadata stores own; a dictionary may not
// shadow them.
var reservedDictIDs = map[string]bool{
	"dict":           true,
	"version_scheme": true,
}

// StorageMigrator moves a dictionary's physical schema and data between
// engines. The migration package implements it; the indirection keeps
// this package from depending on it.
type StorageMigrator interface {
	Migrate(ctx context.Context, dict *models.Dict, sourceEngine, targetEngine string) error
}

// DictService owns dictionary metadata: scheme CRUD, field renames,
// constraints, indexes and enums. Physical changes go through the
// engine's schema backend, metadata changes through the dict store.
type DictService struct {
	store    backends.DictStore
	provider *backends.Provider
	migrator StorageMigrator
	logger   *zap.SugaredLogger
	settings *settings.Arguments
}

func NewDictService(store backends.DictStore, provider *backends.Provider,
	migrator StorageMigrator, logger *zap.SugaredLogger,
	args *settings.Arguments) *DictService {
	return &DictService{
		store:    store,
		provider: provider,
		migrator: migrator,
		logger:   logger,
		settings: args,
	}
}

// GetDict returns the dictionary metadata, soft-deleted included.
func (s *DictService) GetDict(ctx context.Context, id string) (*models.Dict, error) {
	return s.store.Get(ctx, id)
}

// GetAllDicts returns all dictionaries, soft-deleted included.
func (s *DictService) GetAllDicts(ctx context.Context) ([]*models.Dict, error) {
	return s.store.GetAll(ctx)
}

// resolveActive loads a dictionary and rejects soft-deleted ones.
func (s *DictService) resolveActive(ctx context.Context, id string) (*models.Dict, error) {
	dict, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if dict.Deleted != nil {
		return nil, fmt.Errorf("dictionary '%s': %w", id, models.ErrDeleted)
	}
	return dict, nil
}

func (s *DictService) schemaBackend(dict *models.Dict) (backends.SchemaBackend, error) {
	backend, err := s.provider.GetBackendByEngineName(dict.Engine)
	if err != nil {
		return nil, err
	}
	return backend.SchemaBackend(), nil
}

// CreateDict validates the declared scheme, appends the service fields,
// stores the metadata and creates the physical scheme plus any declared
// constraints and indexes.
func (s *DictService) CreateDict(ctx context.Context, dict *models.Dict) (*models.Dict, error) {
	dict = dict.Clone()
	if dict.Engine == "" {
		dict.Engine = s.settings.DefaultEngine
	}
	if err := s.validateScheme(dict); err != nil {
		return nil, err
	}
	exists, err := s.store.Exists(ctx, dict.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("dictionary '%s': %w", dict.ID, models.ErrAlreadyExists)
	}

	dict.Fields = append(dict.DataFields(), models.ServiceFields()...)

	schema, err := s.schemaBackend(dict)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, dict); err != nil {
		return nil, err
	}
	if _, err := schema.CreateDictScheme(ctx, dict); err != nil {
		return nil, err
	}
	for _, c := range dict.Constraints {
		if err := schema.CreateConstraint(ctx, dict, c); err != nil {
			return nil, err
		}
	}
	for _, ix := range dict.Indexes {
		if err := schema.CreateIndex(ctx, dict, ix); err != nil {
			return nil, err
		}
	}
	s.logger.Infow("dictionary created", "dict", dict.ID, "engine", dict.Engine)
	return dict, nil
}

// UpdateDict applies a scheme change. An engine change triggers a full
// storage migration before the schema update. Afterwards any index or
// constraint whose field list no longer matches the scheme is dropped
// from the metadata only; its physical counterpart is left behind.
func (s *DictService) UpdateDict(ctx context.Context, dict *models.Dict) (*models.Dict, error) {
	stored, err := s.resolveActive(ctx, dict.ID)
	if err != nil {
		return nil, err
	}

	dict = dict.Clone()
	if dict.Engine == "" {
		dict.Engine = stored.Engine
	}
	if err := s.validateScheme(dict); err != nil {
		return nil, err
	}
	dict.Fields = append(dict.DataFields(), models.ServiceFields()...)

	if dict.Engine != stored.Engine {
		if err := s.migrator.Migrate(ctx, stored, stored.Engine, dict.Engine); err != nil {
			return nil, err
		}
	}

	schema, err := s.schemaBackend(dict)
	if err != nil {
		return nil, err
	}
	if _, err := schema.UpdateDictScheme(ctx, dict); err != nil {
		return nil, err
	}

	s.pruneStaleMetadata(dict)

	if err := s.store.Update(ctx, dict); err != nil {
		return nil, err
	}
	return dict, nil
}

// pruneStaleMetadata drops index/constraint records whose field lists
// no longer resolve against the scheme. The physical index stays; it is
// harmless at worst and recreating it is the caller's decision.
func (s *DictService) pruneStaleMetadata(dict *models.Dict) {
	fieldIDs := make(map[string]bool, len(dict.Fields))
	for _, f := range dict.Fields {
		fieldIDs[f.ID] = true
	}

	var indexes []models.DictIndex
	for _, ix := range dict.Indexes {
		stale := false
		for _, f := range ix.Fields {
			if !fieldIDs[f.FieldID] {
				stale = true
			}
		}
		if stale {
			s.logger.Warnw("dropping stale index metadata", "dict", dict.ID, "index", ix.ID)
			continue
		}
		indexes = append(indexes, ix)
	}
	dict.Indexes = indexes

	var constraints []models.DictConstraint
	for _, c := range dict.Constraints {
		stale := false
		for _, fieldID := range c.Fields {
			if !fieldIDs[fieldID] {
				stale = true
			}
		}
		if stale {
			s.logger.Warnw("dropping stale constraint metadata", "dict", dict.ID, "constraint", c.ID)
			continue
		}
		constraints = append(constraints, c)
	}
	dict.Constraints = constraints
}

// RenameDict moves the physical scheme and the metadata record to a new
// identifier.
func (s *DictService) RenameDict(ctx context.Context, id, newID string) (*models.Dict, error) {
	dict, err := s.resolveActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if reservedDictIDs[newID] {
		return nil, fmt.Errorf("dictionary id '%s' is reserved: %w", newID, models.ErrValidation)
	}
	exists, err := s.store.Exists(ctx, newID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("dictionary '%s': %w", newID, models.ErrAlreadyExists)
	}
	schema, err := s.schemaBackend(dict)
	if err != nil {
		return nil, err
	}
	if err := schema.RenameDictSchemeByID(ctx, dict, newID); err != nil {
		return nil, err
	}
	renamed := dict.Clone()
	renamed.ID = newID
	if err := s.store.Create(ctx, renamed); err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	return renamed, nil
}

// DeleteDict soft-deletes the dictionary. The physical scheme and data
// survive until PurgeDict.
func (s *DictService) DeleteDict(ctx context.Context, id string) error {
	dict, err := s.resolveActive(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	dict.Deleted = &now
	return s.store.Update(ctx, dict)
}

// PurgeDict drops the physical scheme and removes the metadata record.
func (s *DictService) PurgeDict(ctx context.Context, id string) error {
	dict, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	schema, err := s.schemaBackend(dict)
	if err != nil {
		return err
	}
	if err := schema.DeleteDictSchemeByID(ctx, dict); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// RenameField renames a data field physically and updates every index
// and constraint referring to it.
func (s *DictService) RenameField(ctx context.Context, dictID, oldFieldID, newFieldID string) (*models.Dict, error) {
	dict, err := s.resolveActive(ctx, dictID)
	if err != nil {
		return nil, err
	}
	if models.IsServiceField(oldFieldID) || models.IsServiceField(newFieldID) {
		return nil, fmt.Errorf("service fields cannot be renamed: %w", models.ErrValidation)
	}
	if _, ok := dict.FieldByID(oldFieldID); !ok {
		return nil, fmt.Errorf("field '%s' in '%s': %w", oldFieldID, dictID, models.ErrNotFound)
	}
	if _, ok := dict.FieldByID(newFieldID); ok {
		return nil, fmt.Errorf("field '%s' in '%s': %w", newFieldID, dictID, models.ErrAlreadyExists)
	}

	schema, err := s.schemaBackend(dict)
	if err != nil {
		return nil, err
	}
	if err := schema.RenameDictField(ctx, dict, oldFieldID, newFieldID); err != nil {
		return nil, err
	}

	for i, f := range dict.Fields {
		if f.ID == oldFieldID {
			dict.Fields[i].ID = newFieldID
		}
	}
	for i, ix := range dict.Indexes {
		for j, f := range ix.Fields {
			if f.FieldID == oldFieldID {
				dict.Indexes[i].Fields[j].FieldID = newFieldID
			}
		}
	}
	for i, c := range dict.Constraints {
		for j, fieldID := range c.Fields {
			if fieldID == oldFieldID {
				dict.Constraints[i].Fields[j] = newFieldID
			}
		}
	}
	if err := s.store.Update(ctx, dict); err != nil {
		return nil, err
	}
	return dict, nil
}

// CreateConstraint adds a uniqueness constraint. Constraints and indexes
// share one id namespace, since both materialize as physical indexes.
func (s *DictService) CreateConstraint(ctx context.Context, dictID string, constraint models.DictConstraint) (*models.Dict, error) {
	dict, err := s.resolveActive(ctx, dictID)
	if err != nil {
		return nil, err
	}
	if err := s.checkIndexID(dict, constraint.ID); err != nil {
		return nil, err
	}
	for _, fieldID := range constraint.Fields {
		if _, ok := dict.FieldByID(fieldID); !ok {
			return nil, fmt.Errorf("field '%s' in '%s': %w", fieldID, dictID, models.ErrNotFound)
		}
	}
	schema, err := s.schemaBackend(dict)
	if err != nil {
		return nil, err
	}
	if err := schema.CreateConstraint(ctx, dict, constraint); err != nil {
		return nil, err
	}
	dict.Constraints = append(dict.Constraints, constraint)
	if err := s.store.Update(ctx, dict); err != nil {
		return nil, err
	}
	return dict, nil
}

func (s *DictService) DeleteConstraint(ctx context.Context, dictID, constraintID string) (*models.Dict, error) {
	dict, err := s.resolveActive(ctx, dictID)
	if err != nil {
		return nil, err
	}
	if _, ok := dict.ConstraintByID(constraintID); !ok {
		return nil, fmt.Errorf("constraint '%s' in '%s': %w", constraintID, dictID, models.ErrNotFound)
	}
	schema, err := s.schemaBackend(dict)
	if err != nil {
		return nil, err
	}
	if err := schema.DeleteConstraint(ctx, dict, constraintID); err != nil {
		return nil, err
	}
	kept := dict.Constraints[:0]
	for _, c := range dict.Constraints {
		if c.ID != constraintID {
			kept = append(kept, c)
		}
	}
	dict.Constraints = kept
	if err := s.store.Update(ctx, dict); err != nil {
		return nil, err
	}
	return dict, nil
}

func (s *DictService) CreateIndex(ctx context.Context, dictID string, index models.DictIndex) (*models.Dict, error) {
	dict, err := s.resolveActive(ctx, dictID)
	if err != nil {
		return nil, err
	}
	if err := s.checkIndexID(dict, index.ID); err != nil {
		return nil, err
	}
	for _, f := range index.Fields {
		if _, ok := dict.FieldByID(f.FieldID); !ok {
			return nil, fmt.Errorf("field '%s' in '%s': %w", f.FieldID, dictID, models.ErrNotFound)
		}
	}
	schema, err := s.schemaBackend(dict)
	if err != nil {
		return nil, err
	}
	if err := schema.CreateIndex(ctx, dict, index); err != nil {
		return nil, err
	}
	dict.Indexes = append(dict.Indexes, index)
	if err := s.store.Update(ctx, dict); err != nil {
		return nil, err
	}
	return dict, nil
}

func (s *DictService) DeleteIndex(ctx context.Context, dictID, indexID string) (*models.Dict, error) {
	dict, err := s.resolveActive(ctx, dictID)
	if err != nil {
		return nil, err
	}
	if _, ok := dict.IndexByID(indexID); !ok {
		return nil, fmt.Errorf("index '%s' in '%s': %w", indexID, dictID, models.ErrNotFound)
	}
	schema, err := s.schemaBackend(dict)
	if err != nil {
		return nil, err
	}
	if err := schema.DeleteIndex(ctx, dict, indexID); err != nil {
		return nil, err
	}
	kept := dict.Indexes[:0]
	for _, ix := range dict.Indexes {
		if ix.ID != indexID {
			kept = append(kept, ix)
		}
	}
	dict.Indexes = kept
	if err := s.store.Update(ctx, dict); err != nil {
		return nil, err
	}
	return dict, nil
}

func (s *DictService) checkIndexID(dict *models.Dict, id string) error {
	if id == "" {
		return fmt.Errorf("index id must not be empty: %w", models.ErrValidation)
	}
	if _, ok := dict.IndexByID(id); ok {
		return fmt.Errorf("index '%s' in '%s': %w", id, dict.ID, models.ErrAlreadyExists)
	}
	if _, ok := dict.ConstraintByID(id); ok {
		return fmt.Errorf("constraint '%s' in '%s': %w", id, dict.ID, models.ErrAlreadyExists)
	}
	return nil
}

func (s *DictService) CreateEnum(ctx context.Context, dictID string, enum models.DictEnum) (*models.Dict, error) {
	dict, err := s.resolveActive(ctx, dictID)
	if err != nil {
		return nil, err
	}
	if _, ok := dict.EnumByID(enum.ID); ok {
		return nil, fmt.Errorf("enum '%s' in '%s': %w", enum.ID, dictID, models.ErrAlreadyExists)
	}
	dict.Enums = append(dict.Enums, enum)
	if err := s.store.Update(ctx, dict); err != nil {
		return nil, err
	}
	return dict, nil
}

func (s *DictService) UpdateEnum(ctx context.Context, dictID string, enum models.DictEnum) (*models.Dict, error) {
	dict, err := s.resolveActive(ctx, dictID)
	if err != nil {
		return nil, err
	}
	found := false
	for i, e := range dict.Enums {
		if e.ID == enum.ID {
			dict.Enums[i] = enum
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("enum '%s' in '%s': %w", enum.ID, dictID, models.ErrNotFound)
	}
	if err := s.store.Update(ctx, dict); err != nil {
		return nil, err
	}
	return dict, nil
}

func (s *DictService) DeleteEnum(ctx context.Context, dictID, enumID string) (*models.Dict, error) {
	dict, err := s.resolveActive(ctx, dictID)
	if err != nil {
		return nil, err
	}
	if _, ok := dict.EnumByID(enumID); !ok {
		return nil, fmt.Errorf("enum '%s' in '%s': %w", enumID, dictID, models.ErrNotFound)
	}
	for _, f := range dict.Fields {
		if f.Type == models.FieldTypeEnum && f.EnumID == enumID {
			return nil, fmt.Errorf("enum '%s' is referenced by field '%s': %w", enumID, f.ID, models.ErrValidation)
		}
	}
	kept := dict.Enums[:0]
	for _, e := range dict.Enums {
		if e.ID != enumID {
			kept = append(kept, e)
		}
	}
	dict.Enums = kept
	if err := s.store.Update(ctx, dict); err != nil {
		return nil, err
	}
	return dict, nil
}

// validateScheme checks the structural rules of a declared scheme.
func (s *DictService) validateScheme(dict *models.Dict) error {
	if strings.TrimSpace(dict.ID) == "" {
		return fmt.Errorf("dictionary id must not be empty: %w", models.ErrValidation)
	}
	if reservedDictIDs[dict.ID] {
		return fmt.Errorf("dictionary id '%s' is reserved: %w", dict.ID, models.ErrValidation)
	}
	seen := make(map[string]bool)
	for _, f := range dict.DataFields() {
		if strings.TrimSpace(f.ID) == "" {
			return fmt.Errorf("field id must not be empty: %w", models.ErrValidation)
		}
		if models.IsServiceField(f.ID) {
			return fmt.Errorf("field id '%s' is a service field name: %w", f.ID, models.ErrValidation)
		}
		if seen[f.ID] {
			return fmt.Errorf("duplicate field id '%s': %w", f.ID, models.ErrValidation)
		}
		seen[f.ID] = true
		if err := validateField(dict, f); err != nil {
			return err
		}
	}
	return nil
}

func validateField(dict *models.Dict, f models.DictField) error {
	switch f.Type {
	case models.FieldTypeString, models.FieldTypeInteger, models.FieldTypeDecimal,
		models.FieldTypeBoolean, models.FieldTypeDate, models.FieldTypeTimestamp,
		models.FieldTypeJSON, models.FieldTypeGeoJSON, models.FieldTypeEnum,
		models.FieldTypeDict, models.FieldTypeAttachment:
	default:
		return fmt.Errorf("field '%s' has unknown type '%s': %w", f.ID, f.Type, models.ErrValidation)
	}

	switch f.Type {
	case models.FieldTypeString, models.FieldTypeInteger:
		// Length/value bounds must be whole numbers for these types.
		for _, bound := range []*float64{f.MinSize, f.MaxSize} {
			if bound != nil && math.Trunc(*bound) != *bound {
				return fmt.Errorf("field '%s' has a fractional bound: %w", f.ID, models.ErrValidation)
			}
		}
	case models.FieldTypeDecimal:
		// Fractional bounds allowed.
	default:
		if f.MinSize != nil || f.MaxSize != nil {
			return fmt.Errorf("field '%s' of type %s does not take size bounds: %w", f.ID, f.Type, models.ErrValidation)
		}
	}
	if f.MinSize != nil && f.MaxSize != nil && *f.MinSize > *f.MaxSize {
		return fmt.Errorf("field '%s' bounds are inverted: %w", f.ID, models.ErrValidation)
	}

	if f.Type == models.FieldTypeDict {
		if f.DictRef == nil || f.DictRef.DictID == "" {
			return fmt.Errorf("field '%s' of type DICT needs a dictionary reference: %w", f.ID, models.ErrValidation)
		}
	}
	if f.Type == models.FieldTypeEnum {
		if f.EnumID == "" {
			return fmt.Errorf("field '%s' of type ENUM needs an enum reference: %w", f.ID, models.ErrValidation)
		}
		if _, ok := dict.EnumByID(f.EnumID); !ok {
			return fmt.Errorf("field '%s' references unknown enum '%s': %w", f.ID, f.EnumID, models.ErrValidation)
		}
	}
	return nil
}
