// Package tui implements the read-only dashboard behind `foreman status
// --watch`: a bubbletea program that polls the daemon's SQLite state and
// the in-process eventbus, and renders per-team tasks, roster, and a
// live activity feed. It does not support interactive task submission or
// review; those go through the HTTP API and CLI.
package tui
