package helpers

import (
	"fmt"

	"github.com/goccy/go-json"
)

// GeoJSON is the structured object model GEO_JSON fields round-trip
// through. Geometry kinds keep coordinates opaque; collections and
// features nest recursively.
type GeoJSON struct {
	Type        string         `json:"type"`
	Coordinates any            `json:"coordinates,omitempty"`
	Geometries  []GeoJSON      `json:"geometries,omitempty"`
	Geometry    *GeoJSON       `json:"geometry,omitempty"`
	Features    []GeoJSON      `json:"features,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

var geoJSONTypes = map[string]bool{
	"Point": true, "MultiPoint": true, "LineString": true, "MultiLineString": true,
	"Polygon": true, "MultiPolygon": true, "GeometryCollection": true,
	"Feature": true, "FeatureCollection": true,
}

// ParseGeoJSON accepts a serialized GeoJSON string, a decoded map or an
// already-built GeoJSON value and returns the structured form.
func ParseGeoJSON(v any) (*GeoJSON, error) {
	switch x := v.(type) {
	case *GeoJSON:
		return x, nil
	case GeoJSON:
		return &x, nil
	case string:
		var g GeoJSON
		if err := json.Unmarshal([]byte(x), &g); err != nil {
			return nil, fmt.Errorf("invalid geojson: %w", err)
		}
		if !geoJSONTypes[g.Type] {
			return nil, fmt.Errorf("unknown geojson type %q", g.Type)
		}
		return &g, nil
	case []byte:
		return ParseGeoJSON(string(x))
	case map[string]any:
		raw, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("invalid geojson: %w", err)
		}
		return ParseGeoJSON(string(raw))
	default:
		return nil, fmt.Errorf("cannot interpret %T as geojson", v)
	}
}

// MarshalGeoJSON serializes the structured form back to its wire shape.
func MarshalGeoJSON(g *GeoJSON) (string, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("marshal geojson: %w", err)
	}
	return string(raw), nil
}
