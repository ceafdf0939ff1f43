package mongodb

import (
	"dictstore/src/models"

	"go.mongodb.org/mongo-driver/bson"
)

// BuildValidator renders the $jsonSchema validator document enforced on
// a dictionary's collection. Only required fields are listed in the
// required clause, and ENUM and JSON fields are excluded from it: the
// validator cannot express enum membership or free-form document shapes
// without rejecting legitimate writes.
func BuildValidator(dict *models.Dict) bson.M {
	properties := bson.M{}
	var required []string
	for _, f := range dict.Fields {
		properties[documentField(f.ID)] = propertySchema(f)
		if f.Required && f.Type != models.FieldTypeEnum && f.Type != models.FieldTypeJSON {
			required = append(required, documentField(f.ID))
		}
	}
	schema := bson.M{
		"bsonType":   "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return bson.M{"$jsonSchema": schema}
}

func propertySchema(f models.DictField) bson.M {
	var base bson.M
	switch f.Type {
	case models.FieldTypeInteger:
		base = bsonTypes(f, "long", "int")
	case models.FieldTypeDecimal:
		base = bsonTypes(f, "decimal")
	case models.FieldTypeBoolean:
		base = bsonTypes(f, "bool")
	case models.FieldTypeDate, models.FieldTypeTimestamp:
		base = bsonTypes(f, "date")
	case models.FieldTypeJSON:
		// Opaque documents or lists, no shape enforcement.
		return bson.M{}
	default:
		// STRING, DICT, ENUM, ATTACHMENT and GEO_JSON are stored as strings.
		base = bsonTypes(f, "string")
	}
	if f.Multivalued {
		arr := bson.M{"bsonType": "array", "items": base}
		if !f.Required {
			return bson.M{"anyOf": bson.A{arr, bson.M{"bsonType": "null"}}}
		}
		return arr
	}
	return base
}

// bsonTypes builds the type clause, admitting null for optional fields
// so an explicit null does not trip the validator.
func bsonTypes(f models.DictField, types ...string) bson.M {
	if !f.Required && !f.Multivalued {
		types = append(types, "null")
	}
	if len(types) == 1 {
		return bson.M{"bsonType": types[0]}
	}
	list := make(bson.A, 0, len(types))
	for _, t := range types {
		list = append(list, t)
	}
	return bson.M{"bsonType": list}
}
