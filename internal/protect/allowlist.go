// Package protect implements the domain allowlist that gates outbound
// network access for agent turns (spec.md §6's protected/network.yaml):
// an exact-match or "*.suffix" single-label-subdomain matcher, backed by
// a comment-preserving YAML document.
package protect

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.yaml.in/yaml/v3"
)

// DefaultAllowlist covers common package registries and git forges.
// Legacy `["*"]` configs migrate to this list on Load.
var DefaultAllowlist = []string{
	"github.com", "*.github.com",
	"pypi.org", "*.pypi.org",
	"registry.npmjs.org",
	"proxy.golang.org", "sum.golang.org",
	"crates.io", "static.crates.io",
	"rubygems.org",
	"packagist.org",
}

// Allowlist is the concurrency-safe, persisted view of network.yaml.
type Allowlist struct {
	mu      sync.RWMutex
	path    string
	entries []string
}

// Load reads path, seeding it with DefaultAllowlist if the file does not
// yet exist, and migrating a bare legacy `["*"]` entry to the curated
// defaults (spec.md §6).
func Load(path string) (*Allowlist, error) {
	a := &Allowlist{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read network allowlist: %w", err)
		}
		a.entries = append([]string{}, DefaultAllowlist...)
		return a, a.save()
	}

	var doc allowConfig
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse network allowlist: %w", err)
	}

	if isLegacyWildcard(doc.Allow) {
		a.entries = append([]string{}, DefaultAllowlist...)
		return a, a.save()
	}

	a.entries = doc.Allow
	return a, nil
}

type allowConfig struct {
	Allow []string `yaml:"allow"`
}

func isLegacyWildcard(entries []string) bool {
	return len(entries) == 1 && entries[0] == "*"
}

// Allowed reports whether domain matches an entry: exactly, or, for a
// `*.suffix` entry, as a single-label-prefixed subdomain of suffix. Bare
// `*` is never treated as a wildcard entry.
func (a *Allowlist) Allowed(domain string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	domain = strings.ToLower(domain)
	for _, entry := range a.entries {
		if matchDomain(domain, entry) {
			return true
		}
	}
	return false
}

func matchDomain(domain, entry string) bool {
	entry = strings.ToLower(entry)
	if entry == "*" {
		return false
	}
	if entry == domain {
		return true
	}
	if !strings.HasPrefix(entry, "*.") {
		return false
	}

	suffix := entry[1:] // ".example.com"
	prefix := strings.TrimSuffix(domain, suffix)
	if prefix == domain || prefix == "" {
		return false
	}
	return !strings.Contains(prefix, ".")
}

// Entries returns a snapshot of the current allowlist, in document order.
func (a *Allowlist) Entries() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.entries))
	copy(out, a.entries)
	return out
}

// Allow appends domain if not already present, and persists the change.
func (a *Allowlist) Allow(domain string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e == domain {
			return nil
		}
	}
	a.entries = append(a.entries, domain)
	return a.save()
}

// Disallow removes domain if present, and persists the change.
func (a *Allowlist) Disallow(domain string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		if e != domain {
			out = append(out, e)
		}
	}
	a.entries = out
	return a.save()
}

// Reset restores the curated default allowlist and persists it.
func (a *Allowlist) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append([]string{}, DefaultAllowlist...)
	return a.save()
}

// Watch reloads the allowlist from disk whenever network.yaml changes
// underneath it, so an operator editing the file directly (rather than
// through `foreman network allow/disallow`) takes effect without a daemon
// restart. It watches the containing directory rather than the file
// itself, since editors commonly replace a file via rename instead of an
// in-place write. Returns once the watcher is established; reload errors
// are swallowed and the previous in-memory entries are kept, since a
// transient read of a half-written file should never blank the allowlist.
func (a *Allowlist) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create network allowlist watcher: %w", err)
	}

	dir := filepath.Dir(a.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(a.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				a.reload()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return nil
}

// reload re-reads the allowlist file into memory, ignoring errors from a
// transient or partial write; the next successful change event corrects
// any entries missed this way.
func (a *Allowlist) reload() {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return
	}
	var doc allowConfig
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return
	}
	if isLegacyWildcard(doc.Allow) {
		return
	}

	a.mu.Lock()
	a.entries = doc.Allow
	a.mu.Unlock()
}

// save rewrites the allow sequence through a yaml.Node tree built from the
// existing file, so any comments or key ordering elsewhere in the
// document survive the round trip, the way zjrosen-perles's
// internal/config/save.go does for its views section.
func (a *Allowlist) save() error {
	existing, err := os.ReadFile(a.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read network allowlist: %w", err)
	}

	var doc yaml.Node
	if len(existing) > 0 {
		if err := yaml.Unmarshal(existing, &doc); err != nil {
			return fmt.Errorf("parse network allowlist: %w", err)
		}
	}

	allowNode := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, e := range a.entries {
		allowNode.Content = append(allowNode.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: e})
	}

	if doc.Kind == 0 {
		doc = yaml.Node{
			Kind: yaml.DocumentNode,
			Content: []*yaml.Node{
				{
					Kind: yaml.MappingNode,
					Content: []*yaml.Node{
						{Kind: yaml.ScalarNode, Value: "allow"},
						allowNode,
					},
				},
			},
		}
	} else if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 && doc.Content[0].Kind == yaml.MappingNode {
		root := doc.Content[0]
		found := false
		for i := 0; i < len(root.Content)-1; i += 2 {
			if root.Content[i].Value == "allow" {
				root.Content[i+1] = allowNode
				found = true
				break
			}
		}
		if !found {
			root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: "allow"}, allowNode)
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("marshal network allowlist: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("marshal network allowlist: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create protected dir: %w", err)
	}
	return os.WriteFile(a.path, buf.Bytes(), 0o644)
}
