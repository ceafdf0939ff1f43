package models

import (
	"time"
)

// DictFieldType enumerates the declarable field types of a dictionary.
type DictFieldType string

const (
	FieldTypeString     DictFieldType = "STRING"
	FieldTypeInteger    DictFieldType = "INTEGER"
	FieldTypeDecimal    DictFieldType = "DECIMAL"
	FieldTypeBoolean    DictFieldType = "BOOLEAN"
	FieldTypeDate       DictFieldType = "DATE"
	FieldTypeTimestamp  DictFieldType = "TIMESTAMP"
	FieldTypeJSON       DictFieldType = "JSON"
	FieldTypeGeoJSON    DictFieldType = "GEO_JSON"
	FieldTypeEnum       DictFieldType = "ENUM"
	FieldTypeDict       DictFieldType = "DICT"
	FieldTypeAttachment DictFieldType = "ATTACHMENT"
)

// Known storage engine names. The set is open: any backend registered with
// the provider under a new name becomes addressable from Dict.Engine.
const (
	EngineMongo    = "mongo"
	EnginePostgres = "postgres"
	EngineMemory   = "memory"
)

// Service field ids stamped onto every dictionary by the service layer.
// Callers may not declare or write these directly.
const (
	ServiceFieldID             = "id"
	ServiceFieldCreated        = "created"
	ServiceFieldUpdated        = "updated"
	ServiceFieldDeleted        = "deleted"
	ServiceFieldDeletionReason = "deletionReason"
	ServiceFieldHistory        = "history"
	ServiceFieldVersion        = "version"
)

// ServiceFields returns the fixed service field definitions in their
// append order.
func ServiceFields() []DictField {
	return []DictField{
		{ID: ServiceFieldID, Name: "Identifier", Type: FieldTypeString, Required: true},
		{ID: ServiceFieldCreated, Name: "Created", Type: FieldTypeTimestamp, Required: true},
		{ID: ServiceFieldUpdated, Name: "Updated", Type: FieldTypeTimestamp, Required: true},
		{ID: ServiceFieldDeleted, Name: "Deleted", Type: FieldTypeTimestamp},
		{ID: ServiceFieldDeletionReason, Name: "Deletion reason", Type: FieldTypeString},
		{ID: ServiceFieldHistory, Name: "History", Type: FieldTypeJSON, Multivalued: true},
		{ID: ServiceFieldVersion, Name: "Version", Type: FieldTypeInteger, Required: true},
	}
}

// IsServiceField reports whether the field id belongs to the fixed
// service field set.
func IsServiceField(id string) bool {
	switch id {
	case ServiceFieldID, ServiceFieldCreated, ServiceFieldUpdated, ServiceFieldDeleted,
		ServiceFieldDeletionReason, ServiceFieldHistory, ServiceFieldVersion:
		return true
	}
	return false
}

// Dict is a runtime-declared schema. Its ID doubles as the physical
// table or collection name in the chosen engine.
type Dict struct {
	ID string `bson:"_id" json:"id"`

	Name string `bson:"name" json:"name"`

	// Declared fields in order, service fields appended last.
	Fields []DictField `bson:"fields" json:"fields"`

	Indexes     []DictIndex      `bson:"indexes" json:"indexes"`
	Constraints []DictConstraint `bson:"constraints" json:"constraints"`
	Enums       []DictEnum       `bson:"enums" json:"enums"`

	// Capability names required to read/write items, nil means unrestricted.
	ViewPermission *string `bson:"viewPermission" json:"viewPermission"`
	EditPermission *string `bson:"editPermission" json:"editPermission"`

	// Soft delete timestamp.
	Deleted *time.Time `bson:"deleted" json:"deleted"`

	// Storage engine discriminator, see the Engine* constants.
	Engine string `bson:"engine" json:"engine"`
}

// DictRef points a DICT-typed field at a target dictionary field.
type DictRef struct {
	DictID  string `bson:"dictId" json:"dictId"`
	FieldID string `bson:"fieldId" json:"fieldId"`
}

// DictField is one column/property definition inside a Dict.
type DictField struct {
	ID   string        `bson:"id" json:"id"`
	Name string        `bson:"name" json:"name"`
	Type DictFieldType `bson:"type" json:"type"`

	Required    bool `bson:"required" json:"required"`
	Multivalued bool `bson:"multivalued" json:"multivalued"`

	// Numeric bounds, or length bounds for STRING. DECIMAL allows
	// fractional bounds, INTEGER and STRING allow integral ones only.
	MinSize *float64 `bson:"minSize,omitempty" json:"minSize,omitempty"`
	MaxSize *float64 `bson:"maxSize,omitempty" json:"maxSize,omitempty"`

	// Set for DICT-typed fields.
	DictRef *DictRef `bson:"dictRef,omitempty" json:"dictRef,omitempty"`

	// Set for ENUM-typed fields.
	EnumID string `bson:"enumId,omitempty" json:"enumId,omitempty"`
}

// IndexField is one member of an index key, with its sort direction.
type IndexField struct {
	FieldID string `bson:"fieldId" json:"fieldId"`
	Desc    bool   `bson:"desc" json:"desc"`
}

// DictIndex is a named, ordered index definition.
type DictIndex struct {
	ID     string       `bson:"id" json:"id"`
	Fields []IndexField `bson:"fields" json:"fields"`
}

// DictConstraint is a named uniqueness constraint over a set of fields.
type DictConstraint struct {
	ID     string   `bson:"id" json:"id"`
	Fields []string `bson:"fields" json:"fields"`
}

// DictEnum is a named set of allowed string values.
type DictEnum struct {
	ID     string   `bson:"id" json:"id"`
	Values []string `bson:"values" json:"values"`
}

// DictItem is one record of a dictionary. Data is keyed by field id;
// DICT-typed values hold either the referenced item id or, once
// resolved, a nested *DictItem.
type DictItem struct {
	ID   string         `bson:"_id" json:"id"`
	Data map[string]any `bson:"data" json:"data"`

	// Version starts at 1 and increments by exactly 1 per mutation.
	Version int64 `bson:"version" json:"version"`

	Created        time.Time  `bson:"created" json:"created"`
	Updated        time.Time  `bson:"updated" json:"updated"`
	Deleted        *time.Time `bson:"deleted" json:"deleted"`
	DeletionReason *string    `bson:"deletionReason" json:"deletionReason"`

	// Append-only snapshots of changed field values, each carrying the
	// version and updated timestamp it was taken at.
	History []map[string]any `bson:"history" json:"history"`
}

// DictTransactionItem records one dictionary touched inside a DDL
// transaction: the snapshot copy made before the first mutation, and
// whether the Dict metadata record itself was affected.
type DictTransactionItem struct {
	OriginalDictID string
	CopiedDictID   string
	Engine         string
	SchemeAffected bool
}

// VersionScheme is one applied-migration record.
type VersionScheme struct {
	ID        string    `bson:"_id" json:"id"`
	Version   int       `bson:"version" json:"version"`
	Script    string    `bson:"script" json:"script"`
	Checksum  string    `bson:"checksum" json:"checksum"`
	Installed time.Time `bson:"installed" json:"installed"`
}

// FieldByID returns the field with the given id, or false.
func (d *Dict) FieldByID(id string) (DictField, bool) {
	for _, f := range d.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return DictField{}, false
}

// FieldIDs returns all field ids in declaration order.
func (d *Dict) FieldIDs() []string {
	ids := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		ids = append(ids, f.ID)
	}
	return ids
}

// DataFields returns the declared fields without the service set.
func (d *Dict) DataFields() []DictField {
	fields := make([]DictField, 0, len(d.Fields))
	for _, f := range d.Fields {
		if !IsServiceField(f.ID) {
			fields = append(fields, f)
		}
	}
	return fields
}

// EnumByID returns the enum with the given id, or false.
func (d *Dict) EnumByID(id string) (DictEnum, bool) {
	for _, e := range d.Enums {
		if e.ID == id {
			return e, true
		}
	}
	return DictEnum{}, false
}

// IndexByID returns the index with the given id, or false.
func (d *Dict) IndexByID(id string) (DictIndex, bool) {
	for _, ix := range d.Indexes {
		if ix.ID == id {
			return ix, true
		}
	}
	return DictIndex{}, false
}

// ConstraintByID returns the constraint with the given id, or false.
func (d *Dict) ConstraintByID(id string) (DictConstraint, bool) {
	for _, c := range d.Constraints {
		if c.ID == id {
			return c, true
		}
	}
	return DictConstraint{}, false
}

// FieldByRefDict finds the local DICT-typed field referencing the given
// dictionary id. Used to resolve dotted query paths like "country.name".
func (d *Dict) FieldByRefDict(dictID string) (DictField, bool) {
	for _, f := range d.Fields {
		if f.Type == FieldTypeDict && f.DictRef != nil && f.DictRef.DictID == dictID {
			return f, true
		}
	}
	return DictField{}, false
}

// Clone returns a deep copy. Services and the DDL transaction provider
// never mutate a Dict they did not clone first.
func (d *Dict) Clone() *Dict {
	if d == nil {
		return nil
	}
	c := *d
	c.Fields = make([]DictField, len(d.Fields))
	for i, f := range d.Fields {
		c.Fields[i] = f
		if f.DictRef != nil {
			ref := *f.DictRef
			c.Fields[i].DictRef = &ref
		}
		if f.MinSize != nil {
			v := *f.MinSize
			c.Fields[i].MinSize = &v
		}
		if f.MaxSize != nil {
			v := *f.MaxSize
			c.Fields[i].MaxSize = &v
		}
	}
	c.Indexes = make([]DictIndex, len(d.Indexes))
	for i, ix := range d.Indexes {
		c.Indexes[i] = ix
		c.Indexes[i].Fields = append([]IndexField(nil), ix.Fields...)
	}
	c.Constraints = make([]DictConstraint, len(d.Constraints))
	for i, cs := range d.Constraints {
		c.Constraints[i] = cs
		c.Constraints[i].Fields = append([]string(nil), cs.Fields...)
	}
	c.Enums = make([]DictEnum, len(d.Enums))
	for i, e := range d.Enums {
		c.Enums[i] = e
		c.Enums[i].Values = append([]string(nil), e.Values...)
	}
	if d.ViewPermission != nil {
		v := *d.ViewPermission
		c.ViewPermission = &v
	}
	if d.EditPermission != nil {
		v := *d.EditPermission
		c.EditPermission = &v
	}
	if d.Deleted != nil {
		v := *d.Deleted
		c.Deleted = &v
	}
	return &c
}

// Clone returns a deep copy of the item. Nested resolved items and
// history entries are copied one level deep, which is as deep as the
// service layer ever mutates them.
func (it *DictItem) Clone() *DictItem {
	if it == nil {
		return nil
	}
	c := *it
	c.Data = make(map[string]any, len(it.Data))
	for k, v := range it.Data {
		if nested, ok := v.(*DictItem); ok {
			c.Data[k] = nested.Clone()
			continue
		}
		c.Data[k] = v
	}
	if it.Deleted != nil {
		v := *it.Deleted
		c.Deleted = &v
	}
	if it.DeletionReason != nil {
		v := *it.DeletionReason
		c.DeletionReason = &v
	}
	c.History = make([]map[string]any, len(it.History))
	for i, h := range it.History {
		entry := make(map[string]any, len(h))
		for k, v := range h {
			entry[k] = v
		}
		c.History[i] = entry
	}
	return &c
}
