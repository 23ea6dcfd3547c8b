package graph

import (
	"path/filepath"
	"strings"

	"github.com/hupe1980/extreload/internal/tracker"
)

// ResolvedChange is a changed file expressed relative to the build context
// together with the artifacts that embed it. Artifacts is empty, not nil,
// when no module matches.
type ResolvedChange struct {
	RelativePath string   `json:"relativePath" yaml:"relativePath"`
	Artifacts    []string `json:"artifacts" yaml:"artifacts"`
}

// HasArtifact reports whether the change is embedded in artifact.
func (rc ResolvedChange) HasArtifact(artifact string) bool {
	for _, a := range rc.Artifacts {
		if a == artifact {
			return true
		}
	}

	return false
}

// Index maps a module name ("./src/popup.js") to the artifacts embedding it.
type Index map[string][]string

// NewIndex builds the lookup index for g. Modules whose name contains any of
// excludeSegments are left out; when no segment is given DefaultExcludeSegment
// is used. Numeric chunk ids are reported by entry name when the graph
// declares one. The same module listed in several chunks accumulates all of
// its artifacts.
func NewIndex(g *Graph, excludeSegments ...string) Index {
	idx := make(Index)
	if g == nil {
		return idx
	}

	if len(excludeSegments) == 0 {
		excludeSegments = []string{DefaultExcludeSegment}
	}

	aliases := g.chunkAliases()
	sets := make(map[string]map[string]struct{})

	add := func(m Module) {
		if m.Name == "" || excluded(m.Name, excludeSegments) {
			return
		}

		set, ok := sets[m.Name]
		if !ok {
			set = make(map[string]struct{})
			sets[m.Name] = set
		}

		for _, ref := range m.Chunks {
			if names, ok := aliases[string(ref)]; ok {
				for _, n := range names {
					set[n] = struct{}{}
				}

				continue
			}

			set[string(ref)] = struct{}{}
		}
	}

	for _, m := range g.Modules {
		add(m)
	}

	for _, c := range g.Chunks {
		for _, m := range c.Modules {
			add(m)
		}
	}

	for name, set := range sets {
		idx[name] = sortedKeys(set)
	}

	return idx
}

// Lookup returns the artifacts for a context-relative path.
func (idx Index) Lookup(relativePath string) []string {
	return idx["./"+relativePath]
}

// Resolve converts tracker changes into context-relative changes and
// attributes each to its artifacts. The context prefix is matched
// literally, so directories containing pattern metacharacters are safe.
func Resolve(changes []tracker.Change, contextDir string, idx Index) []ResolvedChange {
	prefix := contextPrefix(contextDir)
	resolved := make([]ResolvedChange, 0, len(changes))

	for _, c := range changes {
		rel := RelativePath(c.Path, prefix)

		artifacts := idx.Lookup(rel)
		if artifacts == nil {
			artifacts = []string{}
		}

		resolved = append(resolved, ResolvedChange{
			RelativePath: rel,
			Artifacts:    artifacts,
		})
	}

	return resolved
}

// RelativePath strips prefix (a context directory ending in "/") from p and
// returns a forward-slash path. Paths outside the context are returned
// unchanged apart from slash normalisation.
func RelativePath(p, prefix string) string {
	p = filepath.ToSlash(p)
	if prefix != "" && strings.HasPrefix(p, prefix) {
		return p[len(prefix):]
	}

	return p
}

func contextPrefix(contextDir string) string {
	if contextDir == "" {
		return ""
	}

	dir := filepath.ToSlash(filepath.Clean(contextDir))

	return strings.TrimSuffix(dir, "/") + "/"
}

func excluded(name string, segments []string) bool {
	for _, s := range segments {
		if s != "" && strings.Contains(name, s) {
			return true
		}
	}

	return false
}
