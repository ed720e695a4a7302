package session

import (
	"path/filepath"
	"regexp"
	"strings"
)

// PermissionGuard is the per-turn "can-use-tool" callback installed on the
// runtime whenever write-path, bash, or network restrictions are
// configured. It never blocks Read/Grep/Glob or other read-only tools.
type PermissionGuard struct {
	AllowedWritePaths  []string
	DeniedBashPatterns []string
	// AllowedDomains gates any host a Bash command's command line
	// references (e.g. via curl, wget, git clone over https). Nil means
	// unrestricted.
	AllowedDomains func(domain string) bool
}

// Active reports whether the guard has any restriction at all; a session
// with no restrictions skips installing a callback entirely.
func (g *PermissionGuard) Active() bool {
	return g != nil && (len(g.AllowedWritePaths) > 0 || len(g.DeniedBashPatterns) > 0 || g.AllowedDomains != nil)
}

// Check decides whether a tool call is permitted. Callers surface a false
// verdict's reason to the model as the tool result's error text rather than
// silently dropping the call.
func (g *PermissionGuard) Check(toolName string, input map[string]any) (allow bool, reason string) {
	if g == nil {
		return true, ""
	}
	switch toolName {
	case "Edit", "Write":
		return g.checkWritePath(input)
	case "Bash":
		return g.checkBash(input)
	default:
		return true, ""
	}
}

func (g *PermissionGuard) checkWritePath(input map[string]any) (bool, string) {
	if len(g.AllowedWritePaths) == 0 {
		return true, ""
	}
	path, _ := input["file_path"].(string)
	resolved := path
	if abs, err := filepath.Abs(path); err == nil {
		resolved = abs
	}
	for _, prefix := range g.AllowedWritePaths {
		prefix = filepath.Clean(prefix)
		if resolved == prefix || strings.HasPrefix(resolved, prefix+string(filepath.Separator)) {
			return true, ""
		}
	}
	return false, "path " + path + " is outside the allowed write paths for this session"
}

func (g *PermissionGuard) checkBash(input map[string]any) (bool, string) {
	command, _ := input["command"].(string)

	for _, pattern := range g.DeniedBashPatterns {
		if pattern != "" && strings.Contains(command, pattern) {
			return false, "command matches a denied pattern: " + pattern
		}
	}

	if g.AllowedDomains != nil {
		for _, host := range extractHosts(command) {
			if !g.AllowedDomains(host) {
				return false, "command reaches " + host + ", which is outside the network allowlist"
			}
		}
	}

	return true, ""
}

var urlHostPattern = regexp.MustCompile(`(?i)(?:https?|git|ssh)://(?:[^/@\s]+@)?([a-z0-9.-]+\.[a-z]{2,})`)

// extractHosts pulls every host named in a URL-shaped substring of command,
// lower-cased and deduplicated. It is intentionally simple: a command with
// no URLs (the overwhelming majority of agent Bash calls) never reaches
// AllowedDomains at all.
func extractHosts(command string) []string {
	matches := urlHostPattern.FindAllStringSubmatch(command, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	hosts := make([]string, 0, len(matches))
	for _, m := range matches {
		host := strings.ToLower(m[1])
		if !seen[host] {
			seen[host] = true
			hosts = append(hosts, host)
		}
	}
	return hosts
}
