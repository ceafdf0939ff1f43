package directors

import (
	"context"
	"fmt"
	"strings"

	"dictstore/src/backends"
	"dictstore/src/helpers"
	"dictstore/src/models"
	"dictstore/src/query"
	"dictstore/src/settings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// DictDataService owns item CRUD and filtered retrieval. Every public
// operation resolves the dictionary, checks the caller's permission,
// runs the advice hooks, validates the payload and delegates to the
// data backend the dictionary's engine resolves to.
type DictDataService struct {
	dicts       *DictService
	provider    *backends.Provider
	users       UserProvider
	permissions PermissionLookup
	advice      []DataAdvice
	logger      *zap.SugaredLogger
	settings    *settings.Arguments
}

func NewDictDataService(dicts *DictService, provider *backends.Provider,
	users UserProvider, permissions PermissionLookup, advice []DataAdvice,
	logger *zap.SugaredLogger, args *settings.Arguments) *DictDataService {
	return &DictDataService{
		dicts:       dicts,
		provider:    provider,
		users:       users,
		permissions: permissions,
		advice:      advice,
		logger:      logger,
		settings:    args,
	}
}

// resolve loads an active dictionary and its data backend.
func (s *DictDataService) resolve(ctx context.Context, dictID string) (*models.Dict, backends.DataBackend, error) {
	dict, err := s.dicts.resolveActive(ctx, dictID)
	if err != nil {
		return nil, nil, err
	}
	backend, err := s.provider.GetBackendByEngineName(dict.Engine)
	if err != nil {
		return nil, nil, err
	}
	return dict, backend.DataBackend(), nil
}

func (s *DictDataService) checkView(ctx context.Context, dict *models.Dict) error {
	return s.checkPermission(ctx, dict, dict.ViewPermission)
}

func (s *DictDataService) checkEdit(ctx context.Context, dict *models.Dict) error {
	return s.checkPermission(ctx, dict, dict.EditPermission)
}

func (s *DictDataService) checkPermission(ctx context.Context, dict *models.Dict, required *string) error {
	userID := s.users.CurrentUserID(ctx)
	if userID == SystemUserID || required == nil {
		return nil
	}
	perms, err := s.permissions.PermissionsByUserID(ctx, userID)
	if err != nil {
		return err
	}
	for _, p := range perms {
		if p == *required {
			return nil
		}
	}
	return fmt.Errorf("user '%s' lacks '%s' on '%s': %w", userID, *required, dict.ID, models.ErrPermission)
}

func (s *DictDataService) GetByID(ctx context.Context, dictID, itemID string, selectFields []string) (*models.DictItem, error) {
	dict, backend, err := s.resolve(ctx, dictID)
	if err != nil {
		return nil, err
	}
	if err := s.checkView(ctx, dict); err != nil {
		return nil, err
	}
	sel, err := parseSelection(dict, selectFields)
	if err != nil {
		return nil, err
	}
	item, err := backend.GetByID(ctx, dict, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.resolveReferences(ctx, dict, []*models.DictItem{item}, sel); err != nil {
		return nil, err
	}
	for _, a := range s.advice {
		if err := a.AfterGet(ctx, dict, item); err != nil {
			return nil, err
		}
	}
	return item, nil
}

func (s *DictDataService) GetByIDs(ctx context.Context, dictID string, itemIDs []string, selectFields []string) ([]*models.DictItem, error) {
	dict, backend, err := s.resolve(ctx, dictID)
	if err != nil {
		return nil, err
	}
	if err := s.checkView(ctx, dict); err != nil {
		return nil, err
	}
	sel, err := parseSelection(dict, selectFields)
	if err != nil {
		return nil, err
	}
	items, err := backend.GetByIDs(ctx, dict, itemIDs)
	if err != nil {
		return nil, err
	}
	if err := s.resolveReferences(ctx, dict, items, sel); err != nil {
		return nil, err
	}
	for _, item := range items {
		for _, a := range s.advice {
			if err := a.AfterGet(ctx, dict, item); err != nil {
				return nil, err
			}
		}
	}
	return items, nil
}

func (s *DictDataService) GetByFilter(ctx context.Context, dictID, filter string, selectFields []string, pageable backends.Pageable) (*backends.Page, error) {
	dict, backend, err := s.resolve(ctx, dictID)
	if err != nil {
		return nil, err
	}
	if err := s.checkView(ctx, dict); err != nil {
		return nil, err
	}
	sel, err := parseSelection(dict, selectFields)
	if err != nil {
		return nil, err
	}
	expr, err := query.Parse(filter)
	if err != nil {
		return nil, err
	}
	page, err := backend.GetByFilter(ctx, dict, expr, pageable)
	if err != nil {
		return nil, err
	}
	if err := s.resolveReferences(ctx, dict, page.Items, sel); err != nil {
		return nil, err
	}
	for _, item := range page.Items {
		for _, a := range s.advice {
			if err := a.AfterGet(ctx, dict, item); err != nil {
				return nil, err
			}
		}
	}
	return page, nil
}

func (s *DictDataService) ExistsByID(ctx context.Context, dictID, itemID string) (bool, error) {
	dict, backend, err := s.resolve(ctx, dictID)
	if err != nil {
		return false, err
	}
	if err := s.checkView(ctx, dict); err != nil {
		return false, err
	}
	return backend.ExistsByID(ctx, dict, itemID)
}

func (s *DictDataService) ExistsByFilter(ctx context.Context, dictID, filter string) (bool, error) {
	dict, backend, err := s.resolve(ctx, dictID)
	if err != nil {
		return false, err
	}
	if err := s.checkView(ctx, dict); err != nil {
		return false, err
	}
	expr, err := query.Parse(filter)
	if err != nil {
		return false, err
	}
	return backend.ExistsByFilter(ctx, dict, expr)
}

func (s *DictDataService) CountByFilter(ctx context.Context, dictID, filter string) (int64, error) {
	dict, backend, err := s.resolve(ctx, dictID)
	if err != nil {
		return 0, err
	}
	if err := s.checkView(ctx, dict); err != nil {
		return 0, err
	}
	expr, err := query.Parse(filter)
	if err != nil {
		return 0, err
	}
	return backend.CountByFilter(ctx, dict, expr)
}

func (s *DictDataService) Create(ctx context.Context, dictID string, item *models.DictItem) (*models.DictItem, error) {
	created, err := s.CreateMany(ctx, dictID, []*models.DictItem{item})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

func (s *DictDataService) CreateMany(ctx context.Context, dictID string, items []*models.DictItem) ([]*models.DictItem, error) {
	dict, backend, err := s.resolve(ctx, dictID)
	if err != nil {
		return nil, err
	}
	if err := s.checkEdit(ctx, dict); err != nil {
		return nil, err
	}
	prepared := make([]*models.DictItem, 0, len(items))
	for _, item := range items {
		p, err := s.validateItem(dict, item, true)
		if err != nil {
			return nil, err
		}
		for _, a := range s.advice {
			if err := a.BeforeCreate(ctx, dict, p); err != nil {
				return nil, err
			}
		}
		prepared = append(prepared, p)
	}
	created, err := backend.CreateMany(ctx, dict, prepared)
	if err != nil {
		return nil, err
	}
	for _, item := range created {
		for _, a := range s.advice {
			if err := a.AfterCreate(ctx, dict, item); err != nil {
				return nil, err
			}
		}
	}
	return created, nil
}

func (s *DictDataService) Update(ctx context.Context, dictID, itemID string, item *models.DictItem, version int64) (*models.DictItem, error) {
	dict, backend, err := s.resolve(ctx, dictID)
	if err != nil {
		return nil, err
	}
	if err := s.checkEdit(ctx, dict); err != nil {
		return nil, err
	}
	p, err := s.validateItem(dict, item, false)
	if err != nil {
		return nil, err
	}
	prior, err := backend.GetByID(ctx, dict, itemID)
	if err != nil {
		return nil, err
	}
	for _, a := range s.advice {
		if err := a.BeforeUpdate(ctx, dict, prior, p); err != nil {
			return nil, err
		}
	}
	updated, err := backend.Update(ctx, dict, itemID, p, version)
	if err != nil {
		return nil, err
	}
	for _, a := range s.advice {
		if err := a.AfterUpdate(ctx, dict, updated); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

func (s *DictDataService) Delete(ctx context.Context, dictID, itemID string, version int64, reason *string) error {
	dict, backend, err := s.resolve(ctx, dictID)
	if err != nil {
		return err
	}
	if err := s.checkEdit(ctx, dict); err != nil {
		return err
	}
	for _, a := range s.advice {
		if err := a.BeforeDelete(ctx, dict, itemID); err != nil {
			return err
		}
	}
	if err := backend.Delete(ctx, dict, itemID, version, reason); err != nil {
		return err
	}
	for _, a := range s.advice {
		if err := a.AfterDelete(ctx, dict, itemID); err != nil {
			return err
		}
	}
	return nil
}

func (s *DictDataService) DeleteAll(ctx context.Context, dictID string) error {
	dict, backend, err := s.resolve(ctx, dictID)
	if err != nil {
		return err
	}
	if err := s.checkEdit(ctx, dict); err != nil {
		return err
	}
	return backend.DeleteAll(ctx, dict)
}

// validateItem coerces every supplied data field to its canonical form
// and enforces required/bounds/enum rules. For creates, a missing
// required field fails; updates treat absence as "keep the stored value".
func (s *DictDataService) validateItem(dict *models.Dict, item *models.DictItem, forCreate bool) (*models.DictItem, error) {
	prepared := item.Clone()
	for fieldID := range prepared.Data {
		f, ok := dict.FieldByID(fieldID)
		if !ok {
			return nil, fmt.Errorf("unknown field '%s' in '%s': %w", fieldID, dict.ID, models.ErrValidation)
		}
		if models.IsServiceField(fieldID) {
			return nil, fmt.Errorf("service field '%s' cannot be written: %w", fieldID, models.ErrValidation)
		}
		v := prepared.Data[fieldID]
		if v == nil {
			continue
		}
		coerced, err := helpers.CoerceFieldValue(f, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
		}
		if err := checkBounds(f, coerced); err != nil {
			return nil, err
		}
		if err := checkEnum(dict, f, coerced); err != nil {
			return nil, err
		}
		prepared.Data[fieldID] = coerced
	}
	if forCreate {
		for _, f := range dict.DataFields() {
			if f.Required && prepared.Data[f.ID] == nil {
				return nil, fmt.Errorf("required field '%s' missing: %w", f.ID, models.ErrValidation)
			}
		}
	}
	return prepared, nil
}

func checkBounds(f models.DictField, v any) error {
	if f.MinSize == nil && f.MaxSize == nil {
		return nil
	}
	values := []any{v}
	if f.Multivalued {
		if list, ok := v.([]any); ok {
			values = list
		}
	}
	for _, el := range values {
		var size float64
		switch f.Type {
		case models.FieldTypeString:
			s, _ := el.(string)
			size = float64(len([]rune(s)))
		case models.FieldTypeInteger:
			n, _ := el.(int64)
			size = float64(n)
		case models.FieldTypeDecimal:
			dec, ok := el.(primitive.Decimal128)
			if !ok {
				continue
			}
			f64, err := decimalFloat(dec)
			if err != nil {
				continue
			}
			size = f64
		default:
			return nil
		}
		if f.MinSize != nil && size < *f.MinSize {
			return fmt.Errorf("field '%s' below minimum %v: %w", f.ID, *f.MinSize, models.ErrValidation)
		}
		if f.MaxSize != nil && size > *f.MaxSize {
			return fmt.Errorf("field '%s' above maximum %v: %w", f.ID, *f.MaxSize, models.ErrValidation)
		}
	}
	return nil
}

func decimalFloat(dec primitive.Decimal128) (float64, error) {
	var f64 float64
	_, err := fmt.Sscanf(dec.String(), "%g", &f64)
	return f64, err
}

func checkEnum(dict *models.Dict, f models.DictField, v any) error {
	if f.Type != models.FieldTypeEnum {
		return nil
	}
	enum, ok := dict.EnumByID(f.EnumID)
	if !ok {
		return fmt.Errorf("field '%s' references unknown enum '%s': %w", f.ID, f.EnumID, models.ErrValidation)
	}
	values := []any{v}
	if f.Multivalued {
		if list, ok := v.([]any); ok {
			values = list
		}
	}
	for _, el := range values {
		s, _ := el.(string)
		member := false
		for _, allowed := range enum.Values {
			if allowed == s {
				member = true
				break
			}
		}
		if !member {
			return fmt.Errorf("value %q is not in enum '%s': %w", s, enum.ID, models.ErrValidation)
		}
	}
	return nil
}

// selection captures which reference fields to resolve, and to which
// sub-fields. The empty map means no resolution requested.
type selection map[string][]string

// parseSelection interprets a select-field list. "*" selects all local
// fields without resolving references; "field.*" resolves the reference
// fully; "field.sub" resolves it restricted to the named sub-fields.
func parseSelection(dict *models.Dict, selectFields []string) (selection, error) {
	sel := make(selection)
	for _, raw := range selectFields {
		name := strings.TrimSpace(raw)
		if name == "" || name == "*" {
			continue
		}
		if !strings.Contains(name, ".") {
			if _, ok := dict.FieldByID(name); !ok {
				return nil, fmt.Errorf("unknown select field '%s' in '%s': %w", name, dict.ID, models.ErrValidation)
			}
			continue
		}
		parts := strings.SplitN(name, ".", 2)
		f, ok := dict.FieldByID(parts[0])
		if !ok || f.Type != models.FieldTypeDict {
			return nil, fmt.Errorf("select path '%s' is not a reference field: %w", name, models.ErrValidation)
		}
		if parts[1] == "*" {
			sel[f.ID] = nil
			continue
		}
		if existing, done := sel[f.ID]; !done || existing != nil {
			sel[f.ID] = append(sel[f.ID], parts[1])
		}
	}
	return sel, nil
}

// resolveReferences stitches referenced items into DICT-typed fields.
// Distinct ids per reference field resolve in one batched read against
// the referenced dictionary's own engine, never per item.
func (s *DictDataService) resolveReferences(ctx context.Context, dict *models.Dict, items []*models.DictItem, sel selection) error {
	if len(sel) == 0 || len(items) == 0 {
		return nil
	}
	for fieldID, subFields := range sel {
		f, _ := dict.FieldByID(fieldID)
		refDict, refBackend, err := s.resolve(ctx, f.DictRef.DictID)
		if err != nil {
			return err
		}

		idSet := make(map[string]bool)
		for _, item := range items {
			for _, id := range referenceIDs(item.Data[fieldID]) {
				idSet[id] = true
			}
		}
		if len(idSet) == 0 {
			continue
		}
		ids := make([]string, 0, len(idSet))
		for id := range idSet {
			ids = append(ids, id)
		}
		resolved, err := refBackend.GetByIDs(ctx, refDict, ids)
		if err != nil {
			return err
		}
		byID := make(map[string]*models.DictItem, len(resolved))
		for _, r := range resolved {
			byID[r.ID] = restrictFields(r, subFields)
		}
		for _, item := range items {
			item.Data[fieldID] = stitchReference(item.Data[fieldID], byID)
		}
	}
	return nil
}

func referenceIDs(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case *models.DictItem:
		return []string{x.ID}
	case []any:
		var ids []string
		for _, el := range x {
			ids = append(ids, referenceIDs(el)...)
		}
		return ids
	}
	return nil
}

func stitchReference(v any, byID map[string]*models.DictItem) any {
	switch x := v.(type) {
	case string:
		if item, ok := byID[x]; ok {
			return item
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = stitchReference(el, byID)
		}
		return out
	}
	return v
}

// restrictFields trims a resolved item's data to the requested
// sub-fields. nil means the full item.
func restrictFields(item *models.DictItem, subFields []string) *models.DictItem {
	if subFields == nil {
		return item
	}
	trimmed := item.Clone()
	keep := make(map[string]bool, len(subFields))
	for _, f := range subFields {
		keep[f] = true
	}
	for k := range trimmed.Data {
		if !keep[k] {
			delete(trimmed.Data, k)
		}
	}
	return trimmed
}
