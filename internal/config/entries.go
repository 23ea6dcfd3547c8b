package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"

	sigsyaml "sigs.k8s.io/yaml"
)

// EntryRole classifies a bundle entry.
type EntryRole string

// Entry roles.
const (
	// RoleBackground is the extension background entry. At most one entry
	// may declare it.
	RoleBackground EntryRole = "background"
	// RolePage is an extension page such as a popup or options page.
	RolePage EntryRole = "page"
	// RoleContent is a content script. Content scripts run inside web
	// pages and never receive a client script.
	RoleContent EntryRole = "content"
)

// EntriesConfig holds the declarative entries section of the config file
// (.extreload.yaml).
type EntriesConfig struct {
	Entries map[string]EntryConfig `json:"entries,omitempty"`
}

// EntryConfig describes one bundle entry.
type EntryConfig struct {
	// Role defaults to page.
	Role EntryRole `json:"role,omitempty"`

	// Ignore skips client injection for the entry.
	Ignore bool `json:"ignore,omitempty"`
}

// entryNamePattern validates entry names.
var entryNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_./-]*$`)

// ParseEntriesConfig parses the entries section from raw config file bytes.
// Other keys are ignored.
func ParseEntriesConfig(data []byte) (*EntriesConfig, error) {
	var cfg EntriesConfig
	if err := sigsyaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing entries config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadEntriesConfig reads the entries section of the config file at path.
// An empty path yields an empty config.
func LoadEntriesConfig(path string) (*EntriesConfig, error) {
	if path == "" {
		return &EntriesConfig{}, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from config discovery
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	return ParseEntriesConfig(data)
}

// Validate checks entry names and roles.
func (c *EntriesConfig) Validate() error {
	var backgrounds []string

	for name, e := range c.Entries {
		if !entryNamePattern.MatchString(name) {
			return fmt.Errorf("entries[%s]: invalid name (must match %s)", name, entryNamePattern.String())
		}

		switch e.Role {
		case "", RolePage, RoleContent:
		case RoleBackground:
			if e.Ignore {
				return fmt.Errorf("entries[%s]: the background entry cannot be ignored", name)
			}

			backgrounds = append(backgrounds, name)
		default:
			return fmt.Errorf("entries[%s]: invalid role %q (must be background, page, or content)", name, e.Role)
		}
	}

	if len(backgrounds) > 1 {
		sort.Strings(backgrounds)
		return fmt.Errorf("only one background entry allowed, got %v", backgrounds)
	}

	return nil
}

// Background returns the entry declared as background.
func (c *EntriesConfig) Background() (string, bool) {
	for name, e := range c.Entries {
		if e.Role == RoleBackground {
			return name, true
		}
	}

	return "", false
}

// Ignored returns the sorted names of content scripts and ignored entries.
func (c *EntriesConfig) Ignored() []string {
	var names []string

	for name, e := range c.Entries {
		if e.Ignore || e.Role == RoleContent {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names
}

// IsEmpty returns true if no entries are declared.
func (c *EntriesConfig) IsEmpty() bool {
	return len(c.Entries) == 0
}

// Apply merges the declared entries into cfg and revalidates it. A declared
// background entry replaces cfg.BackgroundEntry.
func (c *EntriesConfig) Apply(cfg *Config) error {
	if name, ok := c.Background(); ok {
		cfg.BackgroundEntry = name
	}

	for _, name := range c.Ignored() {
		if !slices.Contains(cfg.IgnoreEntries, name) {
			cfg.IgnoreEntries = append(cfg.IgnoreEntries, name)
		}
	}

	return cfg.Validate()
}
