package settings

import "sync"

type Arguments struct {
	// Connection string for the document engine
	MongoURI string

	// Database name on the document engine
	MongoDatabase string

	// DSN for the relational engine
	PostgresDSN string

	// Engine used for newly created dictionaries when the caller
	// does not pick one
	DefaultEngine string

	// Engine holding the dict metadata and version_scheme records
	MetaEngine string

	// Directory holding versioned migration scripts
	MigrationDir string

	// Strongly verbose logging
	Verbose bool

	Debug bool
}

var (
	instance *Arguments
	once     sync.Once
)

// GetSettings returns the global settings instance.
func GetSettings() *Arguments {
	once.Do(func() {
		instance = &Arguments{
			DefaultEngine: "postgres",
			MetaEngine:    "postgres",
			MigrationDir:  "./migrations",
		}
	})
	return instance
}
