package main

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/foreman-dev/foreman/internal/config"
	"github.com/foreman-dev/foreman/internal/store"
)

// defaultHome mirrors config.GetHomeDir, kept as its own entry point so
// --home can override it per-invocation.
func defaultHome() string {
	return config.GetHomeDir()
}

// openStore opens (and migrates) the daemon's database under home.
func openStore(home string) (*store.DB, error) {
	db, err := store.Open(store.DefaultPath(home))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return db, nil
}

// printStatus prints a single checkmark/cross status line, matching the
// teacher's init command's diagnostic style.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("  %s %s\n", c.Sprint(symbol), message)
}

// mustTeam resolves a team by slug or returns a user-facing error.
func mustTeam(db *store.DB, slug string) (*store.Team, error) {
	team, err := db.GetTeam(slug)
	if err != nil {
		return nil, fmt.Errorf("team %q not found: %w", slug, err)
	}
	return team, nil
}
