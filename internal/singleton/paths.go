package singleton

import "path/filepath"

// PIDPath returns the path to the daemon's PID file under home, per
// spec's protected/daemon.pid convention.
func PIDPath(home string) string {
	return filepath.Join(home, "protected", "daemon.pid")
}

// LockPath returns the path to the daemon's advisory lock file under
// home.
func LockPath(home string) string {
	return filepath.Join(home, "protected", "daemon.lock")
}

// legacyTeamsDir and projectsDir are the pre- and post-migration names
// for the per-team workspace root, mirroring original_source's
// migrate_teams_to_projects.py.
func legacyTeamsDir(home string) string {
	return filepath.Join(home, "teams")
}

func projectsDir(home string) string {
	return filepath.Join(home, "projects")
}

func migrationSentinelPath(home string) string {
	return filepath.Join(home, "protected", ".migrated_teams_to_projects")
}
