package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"dictstore/src/backends"
	"dictstore/src/helpers"
	"dictstore/src/models"

	"go.uber.org/zap"
)

// Script names follow V<ordinal>__<name>.sql.
var scriptNamePattern = regexp.MustCompile(`^V(\d+)__(.+)\.sql$`)

// Runner applies pending migration scripts from a directory in ordinal
// order. Every script runs inside its own DDL transaction; a failing
// script rolls back and aborts the run. Applied scripts are recorded in
// the version log, and a script whose checksum is already logged is
// never re-applied.
type Runner struct {
	interpreter *Interpreter
	versions    backends.VersionStore
	tx          *TransactionProvider
	logger      *zap.SugaredLogger
}

func NewRunner(interpreter *Interpreter, versions backends.VersionStore,
	tx *TransactionProvider, logger *zap.SugaredLogger) *Runner {
	return &Runner{
		interpreter: interpreter,
		versions:    versions,
		tx:          tx,
		logger:      logger,
	}
}

type scriptFile struct {
	version int
	name    string
	path    string
}

// Run applies all pending scripts under dir. Returns the number of
// scripts applied.
func (r *Runner) Run(ctx context.Context, dir string) (int, error) {
	scripts, err := discoverScripts(dir)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, script := range scripts {
		done, err := r.apply(ctx, script)
		if err != nil {
			return applied, err
		}
		if done {
			applied++
		}
	}
	return applied, nil
}

func discoverScripts(dir string) ([]scriptFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory '%s': %w", dir, err)
	}
	var scripts []scriptFile
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := scriptNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		version, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("script '%s' has an invalid ordinal: %w", entry.Name(), models.ErrMigration)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("scripts '%s' and '%s' share ordinal %d: %w", prev, entry.Name(), version, models.ErrMigration)
		}
		seen[version] = entry.Name()
		scripts = append(scripts, scriptFile{
			version: version,
			name:    entry.Name(),
			path:    filepath.Join(dir, entry.Name()),
		})
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })
	return scripts, nil
}

// apply runs one script unless its checksum is already logged.
func (r *Runner) apply(ctx context.Context, script scriptFile) (bool, error) {
	content, err := os.ReadFile(script.path)
	if err != nil {
		return false, fmt.Errorf("failed to read script '%s': %w", script.name, err)
	}
	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])

	known, err := r.versions.ExistsChecksum(ctx, checksum)
	if err != nil {
		return false, err
	}
	if known {
		r.logger.Debugw("script already applied", "script", script.name)
		return false, nil
	}

	stmts, err := ParseScript(string(content))
	if err != nil {
		return false, fmt.Errorf("script '%s': %w", script.name, err)
	}

	tx, err := r.tx.BeginDDL(ctx)
	if err != nil {
		return false, err
	}
	if err := r.interpreter.Execute(ctx, stmts); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			r.logger.Errorw("rollback after failed script", "script", script.name, "error", rbErr)
		}
		return false, fmt.Errorf("script '%s' failed: %w: %v", script.name, models.ErrMigration, err)
	}

	record := &models.VersionScheme{
		ID:        helpers.GenerateUUID(),
		Version:   script.version,
		Script:    script.name,
		Checksum:  checksum,
		Installed: time.Now().UTC(),
	}
	if err := r.versions.Create(ctx, record); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			r.logger.Errorw("rollback after version-log failure", "script", script.name, "error", rbErr)
		}
		return false, fmt.Errorf("script '%s': %w: %v", script.name, models.ErrMigration, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	r.logger.Infow("migration applied", "script", script.name, "version", script.version)
	return true, nil
}
