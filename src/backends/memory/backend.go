// Package memory is a complete in-process storage engine implementing
// the schema and data backend contracts. It backs the test suite and is
// usable as an embedded engine; registration works like any other
// engine, so it also exercises the provider extension point.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dictstore/src/backends"
	"dictstore/src/helpers"
	"dictstore/src/models"
	"dictstore/src/query"

	"go.uber.org/zap"
)

type scheme struct {
	dict        *models.Dict
	items       map[string]*models.DictItem
	order       []string
	indexes     map[string]models.DictIndex
	constraints map[string]models.DictConstraint
}

func newScheme(dict *models.Dict) *scheme {
	return &scheme{
		dict:        dict.Clone(),
		items:       make(map[string]*models.DictItem),
		indexes:     make(map[string]models.DictIndex),
		constraints: make(map[string]models.DictConstraint),
	}
}

// Backend is the in-memory engine. The engine name is taken at
// construction so tests can register independent instances under
// distinct names.
type Backend struct {
	name      string
	mu        sync.RWMutex
	schemes   map[string]*scheme
	registrar backends.TransactionRegistrar
	logger    *zap.SugaredLogger
}

func NewBackend(name string, registrar backends.TransactionRegistrar, logger *zap.SugaredLogger) *Backend {
	if name == "" {
		name = models.EngineMemory
	}
	return &Backend{
		name:      name,
		schemes:   make(map[string]*scheme),
		registrar: registrar,
		logger:    logger,
	}
}

func (b *Backend) EngineName() string                    { return b.name }
func (b *Backend) SchemaBackend() backends.SchemaBackend { return b }
func (b *Backend) DataBackend() backends.DataBackend     { return b }

func (b *Backend) scheme(id string) (*scheme, error) {
	s, ok := b.schemes[id]
	if !ok {
		return nil, fmt.Errorf("scheme '%s': %w", id, models.ErrNotFound)
	}
	return s, nil
}

// ---------------------------------------- schema operations ----------------------------------------

func (b *Backend) CreateDictScheme(ctx context.Context, dict *models.Dict) (*models.Dict, error) {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.schemes[dict.ID]; exists {
		return nil, fmt.Errorf("scheme '%s': %w", dict.ID, models.ErrAlreadyExists)
	}
	b.schemes[dict.ID] = newScheme(dict)
	return dict, nil
}

func (b *Backend) UpdateDictScheme(ctx context.Context, dict *models.Dict) (*models.Dict, error) {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return nil, err
	}
	// Dropped fields lose their stored values; added fields appear
	// empty. Type changes of a surviving field are not applied.
	current := make(map[string]bool)
	for _, f := range dict.Fields {
		current[f.ID] = true
	}
	for _, f := range s.dict.Fields {
		if !current[f.ID] {
			for _, it := range s.items {
				delete(it.Data, f.ID)
			}
		}
	}
	s.dict = dict.Clone()
	return dict, nil
}

func (b *Backend) RenameDictSchemeByID(ctx context.Context, dict *models.Dict, newID string) error {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return err
	}
	if _, exists := b.schemes[newID]; exists {
		return fmt.Errorf("scheme '%s': %w", newID, models.ErrAlreadyExists)
	}
	delete(b.schemes, dict.ID)
	s.dict.ID = newID
	b.schemes[newID] = s
	return nil
}

func (b *Backend) DeleteDictSchemeByID(ctx context.Context, dict *models.Dict) error {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.scheme(dict.ID); err != nil {
		return err
	}
	delete(b.schemes, dict.ID)
	return nil
}

func (b *Backend) ExistsDictSchemeByID(_ context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.schemes[id]
	return exists, nil
}

func (b *Backend) RenameDictField(ctx context.Context, dict *models.Dict, oldFieldID, newFieldID string) error {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return err
	}
	for i := range s.dict.Fields {
		if s.dict.Fields[i].ID == oldFieldID {
			s.dict.Fields[i].ID = newFieldID
		}
	}
	for _, it := range s.items {
		if v, ok := it.Data[oldFieldID]; ok {
			it.Data[newFieldID] = v
			delete(it.Data, oldFieldID)
		}
	}
	return nil
}

func (b *Backend) CreateConstraint(ctx context.Context, dict *models.Dict, constraint models.DictConstraint) error {
	if err := b.registrar.RegisterAffected(ctx, dict, false); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return err
	}
	if _, exists := s.constraints[constraint.ID]; exists {
		return fmt.Errorf("constraint '%s': %w", constraint.ID, models.ErrAlreadyExists)
	}
	if _, exists := s.indexes[constraint.ID]; exists {
		return fmt.Errorf("constraint '%s': %w", constraint.ID, models.ErrAlreadyExists)
	}
	s.constraints[constraint.ID] = constraint
	return nil
}

func (b *Backend) DeleteConstraint(ctx context.Context, dict *models.Dict, constraintID string) error {
	if err := b.registrar.RegisterAffected(ctx, dict, false); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return err
	}
	if _, exists := s.constraints[constraintID]; !exists {
		return fmt.Errorf("constraint '%s': %w", constraintID, models.ErrNotFound)
	}
	delete(s.constraints, constraintID)
	return nil
}

func (b *Backend) CreateIndex(ctx context.Context, dict *models.Dict, index models.DictIndex) error {
	if err := b.registrar.RegisterAffected(ctx, dict, false); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return err
	}
	if _, exists := s.indexes[index.ID]; exists {
		return fmt.Errorf("index '%s': %w", index.ID, models.ErrAlreadyExists)
	}
	if _, exists := s.constraints[index.ID]; exists {
		return fmt.Errorf("index '%s': %w", index.ID, models.ErrAlreadyExists)
	}
	s.indexes[index.ID] = index
	return nil
}

func (b *Backend) DeleteIndex(ctx context.Context, dict *models.Dict, indexID string) error {
	if err := b.registrar.RegisterAffected(ctx, dict, false); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return err
	}
	if _, exists := s.indexes[indexID]; !exists {
		return fmt.Errorf("index '%s': %w", indexID, models.ErrNotFound)
	}
	delete(s.indexes, indexID)
	return nil
}

// ---------------------------------------- data operations ----------------------------------------

func (b *Backend) GetByID(_ context.Context, dict *models.Dict, id string) (*models.DictItem, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return nil, err
	}
	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item '%s' in '%s': %w", id, dict.ID, models.ErrNotFound)
	}
	return it.Clone(), nil
}

func (b *Backend) GetByIDs(_ context.Context, dict *models.Dict, ids []string) ([]*models.DictItem, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.DictItem, 0, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out = append(out, it.Clone())
		}
	}
	return out, nil
}

func (b *Backend) GetByFilter(_ context.Context, dict *models.Dict, expr query.Expression, pageable backends.Pageable) (*backends.Page, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.DictItem, 0)
	for _, id := range s.order {
		it := s.items[id]
		ok, err := b.matches(dict, expr, it)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, it)
		}
	}

	if len(pageable.Sort) > 0 {
		sortItems(matched, pageable.Sort)
	}

	total := int64(len(matched))
	start, end := 0, len(matched)
	if pageable.Size > 0 {
		start = pageable.Page * pageable.Size
		if start > len(matched) {
			start = len(matched)
		}
		end = start + pageable.Size
		if end > len(matched) {
			end = len(matched)
		}
	}

	items := make([]*models.DictItem, 0, end-start)
	for _, it := range matched[start:end] {
		items = append(items, it.Clone())
	}
	return &backends.Page{Items: items, TotalElements: total, Page: pageable.Page, Size: pageable.Size}, nil
}

func (b *Backend) ExistsByID(ctx context.Context, dict *models.Dict, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return false, err
	}
	_, ok := s.items[id]
	return ok, nil
}

func (b *Backend) ExistsByFilter(ctx context.Context, dict *models.Dict, expr query.Expression) (bool, error) {
	n, err := b.CountByFilter(ctx, dict, expr)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *Backend) CountByFilter(_ context.Context, dict *models.Dict, expr query.Expression) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, it := range s.items {
		ok, err := b.matches(dict, expr, it)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (b *Backend) Create(ctx context.Context, dict *models.Dict, item *models.DictItem) (*models.DictItem, error) {
	created, err := b.CreateMany(ctx, dict, []*models.DictItem{item})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

func (b *Backend) CreateMany(_ context.Context, dict *models.Dict, items []*models.DictItem) ([]*models.DictItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]*models.DictItem, 0, len(items))
	for _, item := range items {
		stamped := backends.StampNew(dict, item, now)
		if _, exists := s.items[stamped.ID]; exists {
			return nil, fmt.Errorf("item '%s' in '%s': %w", stamped.ID, dict.ID, models.ErrAlreadyExists)
		}
		if err := s.checkConstraints(stamped); err != nil {
			return nil, err
		}
		s.items[stamped.ID] = stamped
		s.order = append(s.order, stamped.ID)
		out = append(out, stamped.Clone())
	}
	return out, nil
}

func (b *Backend) ImportMany(_ context.Context, dict *models.Dict, items []*models.DictItem) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if _, exists := s.items[item.ID]; exists {
			return fmt.Errorf("item '%s' in '%s': %w", item.ID, dict.ID, models.ErrAlreadyExists)
		}
		clone := item.Clone()
		s.items[clone.ID] = clone
		s.order = append(s.order, clone.ID)
	}
	return nil
}

func (b *Backend) Update(_ context.Context, dict *models.Dict, itemID string, item *models.DictItem, version int64) (*models.DictItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return nil, err
	}
	prior, ok := s.items[itemID]
	if !ok {
		return nil, fmt.Errorf("item '%s' in '%s': %w", itemID, dict.ID, models.ErrNotFound)
	}
	updated, changed, err := backends.ApplyUpdate(dict, prior, item, version, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !changed {
		return prior.Clone(), nil
	}
	if err := s.checkConstraints(updated); err != nil {
		return nil, err
	}
	s.items[itemID] = updated
	return updated.Clone(), nil
}

func (b *Backend) Delete(ctx context.Context, dict *models.Dict, itemID string, version int64, reason *string) error {
	b.mu.Lock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	prior, ok := s.items[itemID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("item '%s' in '%s': %w", itemID, dict.ID, models.ErrNotFound)
	}
	next := prior.Clone()
	now := time.Now().UTC()
	next.Deleted = &now
	next.DeletionReason = reason
	b.mu.Unlock()

	_, err = b.Update(ctx, dict, itemID, next, version)
	return err
}

func (b *Backend) DeleteAll(_ context.Context, dict *models.Dict) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.scheme(dict.ID)
	if err != nil {
		return err
	}
	s.items = make(map[string]*models.DictItem)
	s.order = nil
	return nil
}

// checkConstraints enforces registered uniqueness constraints against
// the stored items.
func (s *scheme) checkConstraints(candidate *models.DictItem) error {
	for _, c := range s.constraints {
		for _, other := range s.items {
			if other.ID == candidate.ID {
				continue
			}
			same := true
			for _, fieldID := range c.Fields {
				if !helpers.ValuesEqual(other.Data[fieldID], candidate.Data[fieldID]) {
					same = false
					break
				}
			}
			if same {
				return fmt.Errorf("constraint '%s' violated by item '%s': %w", c.ID, candidate.ID, models.ErrAlreadyExists)
			}
		}
	}
	return nil
}

func sortItems(items []*models.DictItem, orders []backends.SortOrder) {
	sort.SliceStable(items, func(i, j int) bool {
		for _, o := range orders {
			a := fieldValue(items[i], o.FieldID)
			bv := fieldValue(items[j], o.FieldID)
			c := compareValues(a, bv)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func fieldValue(it *models.DictItem, fieldID string) any {
	switch fieldID {
	case models.ServiceFieldID:
		return it.ID
	case models.ServiceFieldCreated:
		return it.Created
	case models.ServiceFieldUpdated:
		return it.Updated
	case models.ServiceFieldVersion:
		return it.Version
	case models.ServiceFieldDeleted:
		if it.Deleted == nil {
			return nil
		}
		return *it.Deleted
	case models.ServiceFieldDeletionReason:
		if it.DeletionReason == nil {
			return nil
		}
		return *it.DeletionReason
	default:
		return it.Data[fieldID]
	}
}
