// Package decision decides how much of a browser extension has to be
// reloaded after a build.
//
// Rules are evaluated in a fixed order and the first match wins. Structural
// changes (manifest, locales, files the manifest references) always force a
// full reload, even when they are not part of the background entry, because
// an extension cannot hot-swap its own manifest surface.
package decision

import (
	"fmt"
	"path"
	"strings"

	"github.com/hupe1980/extreload/internal/graph"
)

// Kind is the severity of a reload decision.
type Kind int

// Decision kinds, ordered by severity.
const (
	// None means nothing has to happen.
	None Kind = iota
	// Notify means pages are told which files changed and decide themselves.
	Notify
	// Full means the whole extension runtime reloads.
	Full
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Notify:
		return "notify"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Reasons attached to full reloads.
const (
	ReasonInitialCompile = "initial compile happened"
	ReasonManifest       = "manifest updated"
	ReasonLocales        = "locales updated"
	ReasonManifestDep    = "manifest dependency updated"
	ReasonEntry          = "background file updated"
)

// Default special paths.
const (
	DefaultManifestFile = "manifest.json"
	DefaultLocaleDir    = "_locales"
)

// Decision is the outcome for one build.
type Decision struct {
	Kind   Kind   `json:"kind" yaml:"kind"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Changes carries the notify payload.
	Changes []graph.ResolvedChange `json:"changes,omitempty" yaml:"changes,omitempty"`
}

// String returns a short description used in logs.
func (d Decision) String() string {
	if d.Reason == "" {
		return d.Kind.String()
	}

	return d.Kind.String() + ": " + d.Reason
}

// SpecialPaths describes files whose change forces a full reload.
type SpecialPaths struct {
	// ManifestPath is the manifest location; only its base name is matched.
	ManifestPath string

	// LocaleDir is the locale directory name or context-relative path.
	LocaleDir string

	// ManifestFileDeps lists context-relative files the manifest references.
	ManifestFileDeps []string
}

func (sp SpecialPaths) manifestName() string {
	if sp.ManifestPath == "" {
		return DefaultManifestFile
	}

	return path.Base(strings.ReplaceAll(sp.ManifestPath, "\\", "/"))
}

func (sp SpecialPaths) localeDir() string {
	dir := strings.Trim(strings.ReplaceAll(sp.LocaleDir, "\\", "/"), "/")
	if dir == "" || dir == "." {
		return DefaultLocaleDir
	}

	return path.Clean(dir)
}

type input struct {
	changes []graph.ResolvedChange
	entry   string
	special SpecialPaths
	deps    map[string]struct{}
}

type rule struct {
	matches func(in *input) bool
	outcome func(in *input) Decision
}

func full(reason string) func(*input) Decision {
	return func(*input) Decision {
		return Decision{Kind: Full, Reason: reason}
	}
}

// rules is the precedence table. Order is significant.
var rules = []rule{
	{
		matches: func(in *input) bool { return len(in.changes) == 0 },
		outcome: full(ReasonInitialCompile),
	},
	{
		matches: func(in *input) bool {
			name := in.special.manifestName()
			return anyPath(in.changes, func(p string) bool { return strings.Contains(p, name) })
		},
		outcome: full(ReasonManifest),
	},
	{
		matches: func(in *input) bool {
			dir := in.special.localeDir()
			return anyPath(in.changes, func(p string) bool { return underDir(p, dir) })
		},
		outcome: full(ReasonLocales),
	},
	{
		matches: func(in *input) bool {
			return anyPath(in.changes, func(p string) bool {
				_, ok := in.deps[normalizeDep(p)]
				return ok
			})
		},
		outcome: full(ReasonManifestDep),
	},
	{
		matches: func(in *input) bool { return !Affects(in.changes, in.entry) },
		outcome: func(in *input) Decision {
			return Decision{Kind: Notify, Changes: in.changes}
		},
	},
	{
		matches: func(*input) bool { return true },
		outcome: full(ReasonEntry),
	},
}

// Decide returns the reload decision for the resolved changes of a build.
// entryName is the background entry.
func Decide(resolved []graph.ResolvedChange, entryName string, special SpecialPaths) Decision {
	in := &input{
		changes: resolved,
		entry:   entryName,
		special: special,
		deps:    make(map[string]struct{}, len(special.ManifestFileDeps)),
	}

	for _, d := range special.ManifestFileDeps {
		in.deps[normalizeDep(d)] = struct{}{}
	}

	for _, r := range rules {
		if r.matches(in) {
			return r.outcome(in)
		}
	}

	// The last rule always matches.
	return Decision{Kind: None}
}

// Affects reports whether any change is embedded in the named entry.
func Affects(changes []graph.ResolvedChange, entryName string) bool {
	for _, c := range changes {
		if c.HasArtifact(entryName) {
			return true
		}
	}

	return false
}

func anyPath(changes []graph.ResolvedChange, pred func(string) bool) bool {
	for _, c := range changes {
		if pred(c.RelativePath) {
			return true
		}
	}

	return false
}

// underDir reports whether p lies inside a directory named dir at any depth.
func underDir(p, dir string) bool {
	return strings.Contains("/"+strings.Trim(p, "/")+"/", "/"+dir+"/")
}

func normalizeDep(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")

	return strings.TrimPrefix(p, "/")
}
