package protect

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_SeedsDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protected", "network.yaml")

	a, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(a.Entries()) != len(DefaultAllowlist) {
		t.Fatalf("expected %d default entries, got %d", len(DefaultAllowlist), len(a.Entries()))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected network.yaml to be written, stat failed: %v", err)
	}
}

func TestLoad_MigratesLegacyWildcard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.yaml")
	if err := os.WriteFile(path, []byte("allow:\n  - \"*\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(a.Entries()) != len(DefaultAllowlist) {
		t.Fatalf("expected legacy wildcard migrated to %d defaults, got %d", len(DefaultAllowlist), len(a.Entries()))
	}
}

func TestAllowed_ExactMatch(t *testing.T) {
	a := &Allowlist{entries: []string{"github.com"}}
	if !a.Allowed("github.com") {
		t.Error("expected github.com to be allowed")
	}
	if a.Allowed("evil.com") {
		t.Error("expected evil.com to be disallowed")
	}
}

func TestAllowed_WildcardSuffix(t *testing.T) {
	a := &Allowlist{entries: []string{"*.github.com"}}
	if !a.Allowed("api.github.com") {
		t.Error("expected api.github.com to match *.github.com")
	}
	if a.Allowed("github.com") {
		t.Error("*.github.com must not match the bare suffix itself")
	}
	if a.Allowed("a.b.github.com") {
		t.Error("*.github.com must match only a single-label prefix")
	}
}

func TestAllowed_BareWildcardIsNeverAWildcard(t *testing.T) {
	a := &Allowlist{entries: []string{"*"}}
	if a.Allowed("anything.example.com") {
		t.Error("bare * must never match anything")
	}
}

func TestAllowAndDisallow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.yaml")
	a, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := a.Allow("example.com"); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !a.Allowed("example.com") {
		t.Error("expected example.com to be allowed after Allow")
	}

	// Persisted to disk.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.Allowed("example.com") {
		t.Error("expected example.com to survive reload")
	}

	if err := a.Disallow("example.com"); err != nil {
		t.Fatalf("Disallow failed: %v", err)
	}
	if a.Allowed("example.com") {
		t.Error("expected example.com to be disallowed after Disallow")
	}
}

func TestReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.yaml")
	a, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := a.Allow("custom.example.com"); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if err := a.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if a.Allowed("custom.example.com") {
		t.Error("expected custom entry to be gone after Reset")
	}
	if len(a.Entries()) != len(DefaultAllowlist) {
		t.Errorf("expected %d default entries after Reset, got %d", len(DefaultAllowlist), len(a.Entries()))
	}
}
