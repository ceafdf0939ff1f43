package migration

import (
	"context"
	"fmt"

	"dictstore/src/backends"
	"dictstore/src/models"
	"dictstore/src/query"

	"go.uber.org/zap"
)

// StorageMigrationService moves one dictionary between storage engines:
// full read from the source, schema creation and bulk import on the
// target, engine flip in the metadata, then source drop. The whole move
// runs inside a DDL transaction so a mid-migration failure restores the
// pre-migration physical state.
type StorageMigrationService struct {
	provider  *backends.Provider
	dictStore backends.DictStore
	tx        *TransactionProvider
	logger    *zap.SugaredLogger
}

func NewStorageMigrationService(provider *backends.Provider, dictStore backends.DictStore,
	tx *TransactionProvider, logger *zap.SugaredLogger) *StorageMigrationService {
	return &StorageMigrationService{
		provider:  provider,
		dictStore: dictStore,
		tx:        tx,
		logger:    logger,
	}
}

func (s *StorageMigrationService) Migrate(ctx context.Context, dict *models.Dict, sourceEngine, targetEngine string) error {
	if sourceEngine == targetEngine {
		return fmt.Errorf("source and target engine are both '%s': %w", sourceEngine, models.ErrStorageMigration)
	}

	// Reuse a surrounding transaction when one is open; otherwise the
	// migration runs in its own.
	var ownTx *DDLTransaction
	if !s.tx.Active() {
		var err error
		ownTx, err = s.tx.BeginDDL(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrStorageMigration, err)
		}
	}

	err := s.migrate(ctx, dict, sourceEngine, targetEngine)
	if ownTx != nil {
		if err != nil {
			if rbErr := ownTx.Rollback(ctx); rbErr != nil {
				s.logger.Errorw("rollback after failed migration", "dict", dict.ID, "error", rbErr)
			}
			return err
		}
		return ownTx.Commit(ctx)
	}
	return err
}

func (s *StorageMigrationService) migrate(ctx context.Context, dict *models.Dict, sourceEngine, targetEngine string) error {
	source, err := s.provider.GetBackendByEngineName(sourceEngine)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageMigration, err)
	}
	target, err := s.provider.GetBackendByEngineName(targetEngine)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageMigration, err)
	}

	// The snapshot has to happen before anything mutates, under the
	// source engine the dictionary still lives on.
	if err := s.tx.RegisterAffected(ctx, dict, true); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageMigration, err)
	}

	page, err := source.DataBackend().GetByFilter(ctx, dict, query.Empty{}, backends.Unpaged())
	if err != nil {
		return fmt.Errorf("failed to read '%s' from '%s': %w: %v", dict.ID, sourceEngine, models.ErrStorageMigration, err)
	}

	targetDict := dict.Clone()
	targetDict.Engine = targetEngine
	if _, err := target.SchemaBackend().CreateDictScheme(ctx, targetDict); err != nil {
		return fmt.Errorf("failed to create '%s' on '%s': %w: %v", dict.ID, targetEngine, models.ErrStorageMigration, err)
	}
	// From here on a failure leaves a half-built target scheme; drop it
	// before surfacing, the DDL rollback only knows the source side.
	fail := func(err error) error {
		if dropErr := target.SchemaBackend().DeleteDictSchemeByID(ctx, targetDict); dropErr != nil {
			s.logger.Errorw("failed to drop half-migrated target scheme", "dict", dict.ID, "engine", targetEngine, "error", dropErr)
		}
		return err
	}
	for _, c := range targetDict.Constraints {
		if err := target.SchemaBackend().CreateConstraint(ctx, targetDict, c); err != nil {
			return fail(fmt.Errorf("%w: %v", models.ErrStorageMigration, err))
		}
	}
	for _, ix := range targetDict.Indexes {
		if err := target.SchemaBackend().CreateIndex(ctx, targetDict, ix); err != nil {
			return fail(fmt.Errorf("%w: %v", models.ErrStorageMigration, err))
		}
	}

	if err := target.DataBackend().ImportMany(ctx, targetDict, page.Items); err != nil {
		return fail(fmt.Errorf("failed to import '%s' into '%s': %w: %v", dict.ID, targetEngine, models.ErrStorageMigration, err))
	}

	if err := s.dictStore.Update(ctx, targetDict); err != nil {
		return fail(fmt.Errorf("%w: %v", models.ErrStorageMigration, err))
	}

	sourceDict := dict.Clone()
	sourceDict.Engine = sourceEngine
	if err := source.SchemaBackend().DeleteDictSchemeByID(ctx, sourceDict); err != nil {
		return fmt.Errorf("failed to drop '%s' from '%s': %w: %v", dict.ID, sourceEngine, models.ErrStorageMigration, err)
	}

	s.logger.Infow("dictionary migrated", "dict", dict.ID, "from", sourceEngine, "to", targetEngine, "items", len(page.Items))
	return nil
}
