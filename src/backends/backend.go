package backends

import (
	"context"

	"dictstore/src/models"
	"dictstore/src/query"
)

// SortOrder is one ORDER BY member.
type SortOrder struct {
	FieldID string
	Desc    bool
}

// Pageable describes the page of a filtered read. A Size of zero means
// unpaged: the whole result set in one page.
type Pageable struct {
	Page int
	Size int
	Sort []SortOrder
}

// Unpaged requests the entire result set.
func Unpaged() Pageable {
	return Pageable{}
}

// Page is one page of items plus the unpaginated total.
type Page struct {
	Items         []*models.DictItem
	TotalElements int64
	Page          int
	Size          int
}

// SchemaBackend creates, alters and drops the physical representation
// of a dictionary's schema in one engine. Every mutating operation
// registers the affected dictionary with the transaction registrar
// before touching physical state.
type SchemaBackend interface {
	EngineName() string

	// CreateDictScheme fails if the physical object already exists.
	CreateDictScheme(ctx context.Context, dict *models.Dict) (*models.Dict, error)

	// UpdateDictScheme diffs the declared fields against the stored
	// scheme and applies additions and removals. Type changes of an
	// existing field are not applied.
	UpdateDictScheme(ctx context.Context, dict *models.Dict) (*models.Dict, error)

	RenameDictSchemeByID(ctx context.Context, dict *models.Dict, newID string) error
	DeleteDictSchemeByID(ctx context.Context, dict *models.Dict) error
	ExistsDictSchemeByID(ctx context.Context, id string) (bool, error)

	RenameDictField(ctx context.Context, dict *models.Dict, oldFieldID, newFieldID string) error

	// Constraints are backend-level uniqueness; they share an id
	// namespace with indexes.
	CreateConstraint(ctx context.Context, dict *models.Dict, constraint models.DictConstraint) error
	DeleteConstraint(ctx context.Context, dict *models.Dict, constraintID string) error
	CreateIndex(ctx context.Context, dict *models.Dict, index models.DictIndex) error
	DeleteIndex(ctx context.Context, dict *models.Dict, indexID string) error
}

// DataBackend is the CRUD and filtered-retrieval contract of one engine.
// DICT-typed values travel as bare reference ids; resolution to nested
// items happens in the service layer, which alone can reach a referenced
// dictionary living on another engine.
type DataBackend interface {
	EngineName() string

	GetByID(ctx context.Context, dict *models.Dict, id string) (*models.DictItem, error)

	// GetByIDs preserves the order of the input id list. Missing ids
	// are skipped, not errors.
	GetByIDs(ctx context.Context, dict *models.Dict, ids []string) ([]*models.DictItem, error)

	GetByFilter(ctx context.Context, dict *models.Dict, expr query.Expression, pageable Pageable) (*Page, error)
	ExistsByID(ctx context.Context, dict *models.Dict, id string) (bool, error)
	ExistsByFilter(ctx context.Context, dict *models.Dict, expr query.Expression) (bool, error)
	CountByFilter(ctx context.Context, dict *models.Dict, expr query.Expression) (int64, error)

	Create(ctx context.Context, dict *models.Dict, item *models.DictItem) (*models.DictItem, error)
	CreateMany(ctx context.Context, dict *models.Dict, items []*models.DictItem) ([]*models.DictItem, error)

	// ImportMany inserts items verbatim, preserving ids, versions and
	// history. Used by storage migration and DDL snapshot copies.
	ImportMany(ctx context.Context, dict *models.Dict, items []*models.DictItem) error

	// Update enforces the optimistic lock first: a stale version fails
	// with a concurrency error before anything else. An empty diff
	// writes nothing.
	Update(ctx context.Context, dict *models.Dict, itemID string, item *models.DictItem, version int64) (*models.DictItem, error)

	// Delete is a soft delete: sets the deleted timestamp and reason,
	// versioned and historied like any other mutation.
	Delete(ctx context.Context, dict *models.Dict, itemID string, version int64, reason *string) error

	DeleteAll(ctx context.Context, dict *models.Dict) error
}

// Backend couples the schema and data contracts of one engine.
type Backend interface {
	EngineName() string
	SchemaBackend() SchemaBackend
	DataBackend() DataBackend
}

// DictStore persists the Dict metadata records themselves.
type DictStore interface {
	Get(ctx context.Context, id string) (*models.Dict, error)
	GetAll(ctx context.Context) ([]*models.Dict, error)
	Exists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, dict *models.Dict) error
	Update(ctx context.Context, dict *models.Dict) error
	Delete(ctx context.Context, id string) error
}

// VersionStore persists applied-migration records. Append-only.
type VersionStore interface {
	GetAll(ctx context.Context) ([]*models.VersionScheme, error)
	ExistsChecksum(ctx context.Context, checksum string) (bool, error)
	Create(ctx context.Context, scheme *models.VersionScheme) error
}

// TransactionRegistrar is how schema backends announce an imminent
// mutation. The DDL transaction provider implements it; when no
// transaction is active the call is a no-op.
type TransactionRegistrar interface {
	RegisterAffected(ctx context.Context, dict *models.Dict, schemeAffected bool) error
}

// NoopRegistrar satisfies TransactionRegistrar for wirings that run
// without DDL transactions.
type NoopRegistrar struct{}

func (NoopRegistrar) RegisterAffected(context.Context, *models.Dict, bool) error { return nil }
