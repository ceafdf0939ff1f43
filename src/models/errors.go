package models

import "errors"

// Stable failure signals for the subsystem. Callers classify with
// errors.Is instead of inspecting message text; every error raised by
// the services, backends and migration machinery wraps exactly one of
// these.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrDeleted          = errors.New("dictionary is deleted")
	ErrValidation       = errors.New("validation failed")
	ErrConcurrency      = errors.New("version conflict")
	ErrPermission       = errors.New("permission denied")
	ErrQuerySyntax      = errors.New("query syntax error")
	ErrMigration        = errors.New("migration failed")
	ErrStorageMigration = errors.New("storage migration failed")
	ErrTransaction      = errors.New("ddl transaction misuse")
)
