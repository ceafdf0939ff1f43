package helpers

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID returns a fresh identifier for dicts, items and snapshot copies.
func GenerateUUID() string {
	return uuid.New().String()
}

// ShortID returns a compact identifier suitable for suffixing physical
// object names (snapshot copies, join aliases).
func ShortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
