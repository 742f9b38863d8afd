package batching

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"rumspool/internal/domain"
)

// Migrator moves or deletes stored batches when consent changes.
type Migrator interface {
	MigrateData() error
}

type MigratorFactory interface {
	ResolveMigrator(previous, next domain.Consent) Migrator
}

type NoOpMigrator struct{}

func (NoOpMigrator) MigrateData() error { return nil }

// WipeMigrator deletes every batch file in Dir.
type WipeMigrator struct {
	Dir string
}

func (m WipeMigrator) MigrateData() error {
	entries, err := os.ReadDir(m.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("wipe %s: %w", m.Dir, err)
	}
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(m.Dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MoveMigrator renames every batch file from From into To, keeping names so
// creation order survives the move.
type MoveMigrator struct {
	From string
	To   string
}

func (m MoveMigrator) MigrateData() error {
	entries, err := os.ReadDir(m.From)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("move from %s: %w", m.From, err)
	}
	if err := os.MkdirAll(m.To, 0o755); err != nil {
		return fmt.Errorf("move to %s: %w", m.To, err)
	}
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		src := filepath.Join(m.From, e.Name())
		if err := os.Rename(src, filepath.Join(m.To, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConsentMigratorFactory applies the default policy: pending data is kept
// only across a pending to granted transition.
type ConsentMigratorFactory struct {
	PendingDir string
	GrantedDir string
}

func (f ConsentMigratorFactory) ResolveMigrator(previous, next domain.Consent) Migrator {
	wipePending := WipeMigrator{Dir: f.PendingDir}
	switch {
	case previous == domain.ConsentUnset:
		return wipePending
	case previous == next:
		return NoOpMigrator{}
	case next == domain.ConsentPending:
		return wipePending
	case previous == domain.ConsentPending && next == domain.ConsentGranted:
		return MoveMigrator{From: f.PendingDir, To: f.GrantedDir}
	case previous == domain.ConsentPending && next == domain.ConsentNotGranted:
		return wipePending
	default:
		return NoOpMigrator{}
	}
}
