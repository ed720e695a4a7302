package singleton

import (
	"fmt"
	"os"
	"path/filepath"
)

// MigrateFilesystem applies the one-time directory-layout migration
// from the legacy "teams/<name>" layout to "projects/<name>", guarded
// by a sentinel file so repeated startups are no-ops. Grounded on
// original_source/delegate/migrations/migrate_teams_to_projects.py,
// which performs the same rename under the Python daemon.
func MigrateFilesystem(home string) error {
	sentinel := migrationSentinelPath(home)
	if _, err := os.Stat(sentinel); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("singleton: stat migration sentinel: %w", err)
	}

	legacy := legacyTeamsDir(home)
	if _, err := os.Stat(legacy); err != nil {
		if os.IsNotExist(err) {
			return writeSentinel(sentinel)
		}
		return fmt.Errorf("singleton: stat legacy teams dir: %w", err)
	}

	target := projectsDir(home)
	if _, err := os.Stat(target); err == nil {
		// Both layouts present — a previous migration attempt must have
		// partially completed. Leave it for manual inspection rather than
		// silently merging directory trees.
		return fmt.Errorf("singleton: both %s and %s exist; remove one before starting", legacy, target)
	}

	if err := os.Rename(legacy, target); err != nil {
		return fmt.Errorf("singleton: rename teams to projects: %w", err)
	}
	return writeSentinel(sentinel)
}

func writeSentinel(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("singleton: create protected dir: %w", err)
	}
	if err := os.WriteFile(path, []byte("migrated\n"), 0o644); err != nil {
		return fmt.Errorf("singleton: write migration sentinel: %w", err)
	}
	return nil
}
