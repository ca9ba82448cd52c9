// ABOUTME: Safety policy document and permission/path evaluation rules.
// ABOUTME: Forbidden entries always take precedence over allowed entries.

package policy

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Spawn modes controlling whether sub-agent spawns auto-approve.
const (
	SpawnModeOff          = "off"
	SpawnModeQueue        = "queue"
	SpawnModeConstrained  = "constrained"
	SpawnModeTrusted      = "trusted"
	SpawnModeUnrestricted = "unrestricted"
)

// Document is the mutable safety-settings object for one agent identity.
// It is versionless: the most recently written document is current.
type Document struct {
	AutoSpawnMode          string `json:"auto_spawn_mode"`
	MaxConcurrentSubAgents int    `json:"max_concurrent_sub_agents"`
	MaxSubAgentsPerHour    int    `json:"max_sub_agents_per_hour"`
	MaxTokensPerSubAgent   int    `json:"max_tokens_per_sub_agent"`

	PermissionsAllowed   []string `json:"permissions_allowed"`
	PermissionsForbidden []string `json:"permissions_forbidden"`
	PermissionsAsk       []string `json:"permissions_ask"`

	AllowedPaths   []string `json:"allowed_paths"`
	ForbiddenPaths []string `json:"forbidden_paths"`

	AllowedCommands       []string `json:"allowed_commands"`
	AllowedNetworkDomains []string `json:"allowed_network_domains"`

	CheckInHours int `json:"check_in_hours"`
}

// Default returns the policy applied to an identity before its owner has
// pushed any settings.
func Default() *Document {
	return &Document{
		AutoSpawnMode:          SpawnModeOff,
		MaxConcurrentSubAgents: 5,
		MaxSubAgentsPerHour:    10,
		MaxTokensPerSubAgent:   50000,
		PermissionsAllowed:     []string{"files.read", "agent.message"},
		PermissionsForbidden:   []string{"system.shell", "files.delete", "agent.spawn"},
		PermissionsAsk:         []string{"files.write", "process.execute", "network.fetch"},
		ForbiddenPaths: []string{
			"~/.ssh/**", "~/.aws/**", "~/.config/gcloud/**",
			"**/.env", "**/*.pem", "**/*.key", "**/secrets/**",
		},
		CheckInHours: 4,
	}
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing the live document to mutation.
func (d *Document) Clone() *Document {
	c := *d
	c.PermissionsAllowed = slices.Clone(d.PermissionsAllowed)
	c.PermissionsForbidden = slices.Clone(d.PermissionsForbidden)
	c.PermissionsAsk = slices.Clone(d.PermissionsAsk)
	c.AllowedPaths = slices.Clone(d.AllowedPaths)
	c.ForbiddenPaths = slices.Clone(d.ForbiddenPaths)
	c.AllowedCommands = slices.Clone(d.AllowedCommands)
	c.AllowedNetworkDomains = slices.Clone(d.AllowedNetworkDomains)
	return &c
}

// IsForbidden reports whether a permission scope is explicitly forbidden.
func (d *Document) IsForbidden(scope string) bool {
	return slices.Contains(d.PermissionsForbidden, scope)
}

// RequiresApproval reports whether a permission scope needs user approval.
func (d *Document) RequiresApproval(scope string) bool {
	return slices.Contains(d.PermissionsAsk, scope)
}

// IsAllowed reports whether a permission scope may be used without asking.
// Forbidden always wins over allowed. For file scopes with a target path,
// the path must be in the allowed list and not in the forbidden list.
func (d *Document) IsAllowed(scope, target string) bool {
	if d.IsForbidden(scope) {
		return false
	}
	if !slices.Contains(d.PermissionsAllowed, scope) {
		return false
	}
	if strings.HasPrefix(scope, "files.") && target != "" {
		return d.IsPathAllowed(target) && !d.IsPathForbidden(target)
	}
	return true
}

// IsPathAllowed reports whether the path matches any allowed pattern.
func (d *Document) IsPathAllowed(path string) bool {
	return matchAny(d.AllowedPaths, path)
}

// IsPathForbidden reports whether the path matches any forbidden pattern.
func (d *Document) IsPathForbidden(path string) bool {
	return matchAny(d.ForbiddenPaths, path)
}

// IsCommandAllowed reports whether the command's executable name is allowed.
func (d *Document) IsCommandAllowed(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	return slices.Contains(d.AllowedCommands, fields[0])
}

// IsDomainAllowed reports whether a network domain is allowed.
func (d *Document) IsDomainAllowed(domain string) bool {
	return slices.Contains(d.AllowedNetworkDomains, domain)
}

func matchAny(patterns []string, path string) bool {
	path = expandHome(path)
	for _, pattern := range patterns {
		if MatchGlob(expandHome(pattern), path) {
			return true
		}
	}
	return false
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// MatchGlob matches a path against a glob pattern where "**" crosses path
// separators and "*" does not. Patterns and paths are compared segment by
// segment on "/" boundaries.
func MatchGlob(pattern, path string) bool {
	return matchSegments(splitSegments(pattern), splitSegments(path))
}

func splitSegments(s string) []string {
	return strings.Split(strings.TrimSuffix(filepath.ToSlash(s), "/"), "/")
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		// "**" matches zero or more whole segments.
		for skip := 0; skip <= len(path); skip++ {
			if matchSegments(pattern[1:], path[skip:]) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	ok, err := filepath.Match(pattern[0], path[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], path[1:])
}
