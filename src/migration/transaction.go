// Package migration holds the cross-engine mechanics of schema change:
// the copy-before-mutate DDL transaction, cross-engine storage
// migration, and the migration-script parser, interpreter and runner.
package migration

import (
	"context"
	"fmt"
	"sync"

	"dictstore/src/backends"
	"dictstore/src/helpers"
	"dictstore/src/models"
	"dictstore/src/query"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// snapshotSkipKey marks contexts of the provider's own housekeeping
// operations, so copying a dictionary does not recursively register it.
type snapshotSkipKey struct{}

func withoutSnapshot(ctx context.Context) context.Context {
	return context.WithValue(ctx, snapshotSkipKey{}, true)
}

func skipSnapshot(ctx context.Context) bool {
	v, _ := ctx.Value(snapshotSkipKey{}).(bool)
	return v
}

// TransactionProvider implements the copy-before-mutate DDL transaction.
// At most one transaction is active at a time; schema backends announce
// every mutation through RegisterAffected, and the first time a
// dictionary is touched inside an active transaction a full physical
// snapshot of it is taken under a derived name. Commit drops the
// snapshots, rollback restores from them. The scheme is engine-neutral:
// it compensates for engines without transactional DDL.
type TransactionProvider struct {
	mu        sync.Mutex
	active    *DDLTransaction
	provider  *backends.Provider
	dictStore backends.DictStore
	logger    *zap.SugaredLogger
}

func NewTransactionProvider(provider *backends.Provider, dictStore backends.DictStore,
	logger *zap.SugaredLogger) *TransactionProvider {
	return &TransactionProvider{
		provider:  provider,
		dictStore: dictStore,
		logger:    logger,
	}
}

// DDLTransaction is one active DDL transaction: the snapshot record per
// touched dictionary, in registration order.
type DDLTransaction struct {
	provider *TransactionProvider

	items  []*models.DictTransactionItem
	byDict map[string]*models.DictTransactionItem

	// Pre-mutation metadata per original dictionary id. A dictionary
	// created inside the transaction has no entry.
	originalMeta map[string]*models.Dict
	done         bool
}

// BeginDDL opens a transaction. Nesting is transaction misuse.
func (p *TransactionProvider) BeginDDL(ctx context.Context) (*DDLTransaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return nil, fmt.Errorf("a ddl transaction is already active: %w", models.ErrTransaction)
	}
	p.active = &DDLTransaction{
		provider:     p,
		byDict:       make(map[string]*models.DictTransactionItem),
		originalMeta: make(map[string]*models.Dict),
	}
	p.logger.Debugw("ddl transaction started")
	return p.active, nil
}

// Active reports whether a transaction is currently open.
func (p *TransactionProvider) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

// RegisterAffected snapshots a dictionary the first time it is touched
// inside the active transaction. Without an active transaction the call
// is a no-op, as is any call from the provider's own copy operations.
func (p *TransactionProvider) RegisterAffected(ctx context.Context, dict *models.Dict, schemeAffected bool) error {
	p.mu.Lock()
	tx := p.active
	p.mu.Unlock()
	if tx == nil || skipSnapshot(ctx) {
		return nil
	}
	return tx.register(ctx, dict, schemeAffected)
}

func (tx *DDLTransaction) register(ctx context.Context, dict *models.Dict, schemeAffected bool) error {
	// A storage migration touches the same dictionary id on two
	// engines; each side gets its own snapshot entry.
	key := dict.Engine + "/" + dict.ID
	if item, seen := tx.byDict[key]; seen {
		item.SchemeAffected = item.SchemeAffected || schemeAffected
		return nil
	}

	ctx = withoutSnapshot(ctx)
	backend, err := tx.provider.provider.GetBackendByEngineName(dict.Engine)
	if err != nil {
		return err
	}

	item := &models.DictTransactionItem{
		OriginalDictID: dict.ID,
		Engine:         dict.Engine,
		SchemeAffected: schemeAffected,
	}

	exists, err := backend.SchemaBackend().ExistsDictSchemeByID(ctx, dict.ID)
	if err != nil {
		return err
	}
	if exists {
		// The dict a backend op receives may already carry the new shape;
		// the stored record is the pre-mutation state to restore to.
		original := dict.Clone()
		if stored, serr := tx.provider.dictStore.Get(ctx, dict.ID); serr == nil {
			original = stored
		}

		// Copy schema and data under a derived name. The copy carries no
		// indexes or constraints; they are re-applied from the metadata
		// snapshot on rollback.
		copyID := dict.ID + "_ddl_" + helpers.ShortID()
		copyDict := original.Clone()
		copyDict.ID = copyID
		copyDict.Indexes = nil
		copyDict.Constraints = nil

		if _, err := backend.SchemaBackend().CreateDictScheme(ctx, copyDict); err != nil {
			return fmt.Errorf("failed to snapshot '%s': %w", dict.ID, err)
		}
		page, err := backend.DataBackend().GetByFilter(ctx, dict, query.Empty{}, backends.Unpaged())
		if err != nil {
			return fmt.Errorf("failed to snapshot '%s': %w", dict.ID, err)
		}
		if err := backend.DataBackend().ImportMany(ctx, copyDict, page.Items); err != nil {
			return fmt.Errorf("failed to snapshot '%s': %w", dict.ID, err)
		}
		item.CopiedDictID = copyID
		tx.originalMeta[dict.ID] = original
		tx.provider.logger.Debugw("dictionary snapshotted", "dict", dict.ID, "copy", copyID)
	}

	tx.byDict[key] = item
	tx.items = append(tx.items, item)
	return nil
}

// Commit drops all snapshot copies and closes the transaction.
func (tx *DDLTransaction) Commit(ctx context.Context) error {
	if err := tx.close(); err != nil {
		return err
	}
	ctx = withoutSnapshot(ctx)
	var errs error
	for _, item := range tx.items {
		if item.CopiedDictID == "" {
			continue
		}
		backend, err := tx.provider.provider.GetBackendByEngineName(item.Engine)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		copyDict := tx.originalMeta[item.OriginalDictID].Clone()
		copyDict.ID = item.CopiedDictID
		if err := backend.SchemaBackend().DeleteDictSchemeByID(ctx, copyDict); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	tx.provider.logger.Debugw("ddl transaction committed", "dicts", len(tx.items))
	return errs
}

// Rollback restores every affected dictionary from its snapshot, in
// reverse registration order, then closes the transaction.
func (tx *DDLTransaction) Rollback(ctx context.Context) error {
	if err := tx.close(); err != nil {
		return err
	}
	ctx = withoutSnapshot(ctx)
	var errs error
	for i := len(tx.items) - 1; i >= 0; i-- {
		if err := tx.restore(ctx, tx.items[i]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to restore '%s': %w", tx.items[i].OriginalDictID, err))
		}
	}
	tx.provider.logger.Warnw("ddl transaction rolled back", "dicts", len(tx.items))
	return errs
}

func (tx *DDLTransaction) restore(ctx context.Context, item *models.DictTransactionItem) error {
	backend, err := tx.provider.provider.GetBackendByEngineName(item.Engine)
	if err != nil {
		return err
	}
	schema := backend.SchemaBackend()
	original := tx.originalMeta[item.OriginalDictID]

	// Drop whatever the transaction left under the original name.
	exists, err := schema.ExistsDictSchemeByID(ctx, item.OriginalDictID)
	if err != nil {
		return err
	}
	if exists {
		dropDict := &models.Dict{ID: item.OriginalDictID, Engine: item.Engine}
		if err := schema.DeleteDictSchemeByID(ctx, dropDict); err != nil {
			return err
		}
	}

	if item.CopiedDictID == "" {
		// Created inside the transaction: dropping it and removing the
		// metadata record is the whole restore.
		if _, err := tx.provider.dictStore.Get(ctx, item.OriginalDictID); err == nil {
			return tx.provider.dictStore.Delete(ctx, item.OriginalDictID)
		}
		return nil
	}

	copyDict := original.Clone()
	copyDict.ID = item.CopiedDictID
	copyDict.Indexes = nil
	copyDict.Constraints = nil
	if err := schema.RenameDictSchemeByID(ctx, copyDict, item.OriginalDictID); err != nil {
		return err
	}
	for _, c := range original.Constraints {
		if err := schema.CreateConstraint(ctx, original, c); err != nil {
			return err
		}
	}
	for _, ix := range original.Indexes {
		if err := schema.CreateIndex(ctx, original, ix); err != nil {
			return err
		}
	}

	// Constraint and index changes update the metadata record too, so
	// the record is put back regardless of what kind of change it was.
	if _, err := tx.provider.dictStore.Get(ctx, item.OriginalDictID); err != nil {
		return tx.provider.dictStore.Create(ctx, original.Clone())
	}
	return tx.provider.dictStore.Update(ctx, original.Clone())
}

// close detaches the transaction from the provider exactly once.
func (tx *DDLTransaction) close() error {
	tx.provider.mu.Lock()
	defer tx.provider.mu.Unlock()
	if tx.done || tx.provider.active != tx {
		return fmt.Errorf("ddl transaction is not active: %w", models.ErrTransaction)
	}
	tx.done = true
	tx.provider.active = nil
	return nil
}
