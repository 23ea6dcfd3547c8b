package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/extreload/internal/graph"
)

func change(rel string, artifacts ...string) graph.ResolvedChange {
	if artifacts == nil {
		artifacts = []string{}
	}

	return graph.ResolvedChange{RelativePath: rel, Artifacts: artifacts}
}

func TestDecide_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		resolved []graph.ResolvedChange
		entry    string
		special  SpecialPaths
		want     Decision
	}{
		{
			name:  "initial compile",
			entry: "background",
			want:  Decision{Kind: Full, Reason: ReasonInitialCompile},
		},
		{
			name:     "manifest changed",
			resolved: []graph.ResolvedChange{change("manifest.json")},
			entry:    "background",
			want:     Decision{Kind: Full, Reason: ReasonManifest},
		},
		{
			name:     "page file changed",
			resolved: []graph.ResolvedChange{change("page.js", "popup")},
			entry:    "background",
			want: Decision{Kind: Notify, Changes: []graph.ResolvedChange{
				change("page.js", "popup"),
			}},
		},
		{
			name:     "background file changed",
			resolved: []graph.ResolvedChange{change("background.js", "background")},
			entry:    "background",
			want:     Decision{Kind: Full, Reason: ReasonEntry},
		},
		{
			name:     "locale changed",
			resolved: []graph.ResolvedChange{change("src/_locales/en/messages.json")},
			entry:    "background",
			want:     Decision{Kind: Full, Reason: ReasonLocales},
		},
		{
			name:     "manifest dependency changed",
			resolved: []graph.ResolvedChange{change("icons/icon-48.png")},
			entry:    "background",
			special:  SpecialPaths{ManifestFileDeps: []string{"./icons/icon-48.png"}},
			want:     Decision{Kind: Full, Reason: ReasonManifestDep},
		},
		{
			name:     "custom manifest name",
			resolved: []graph.ResolvedChange{change("src/manifest.chrome.json")},
			entry:    "background",
			special:  SpecialPaths{ManifestPath: "/work/src/manifest.chrome.json"},
			want:     Decision{Kind: Full, Reason: ReasonManifest},
		},
		{
			name:     "custom locale dir",
			resolved: []graph.ResolvedChange{change("i18n/de.json")},
			entry:    "background",
			special:  SpecialPaths{LocaleDir: "i18n/"},
			want:     Decision{Kind: Full, Reason: ReasonLocales},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.resolved, tt.entry, tt.special))
		})
	}
}

func TestDecide_InitialCompileIgnoresOtherInputs(t *testing.T) {
	special := SpecialPaths{
		ManifestPath:     "manifest.json",
		LocaleDir:        "_locales",
		ManifestFileDeps: []string{"a.js"},
	}

	for _, resolved := range [][]graph.ResolvedChange{nil, {}} {
		d := Decide(resolved, "anything", special)
		assert.Equal(t, Full, d.Kind)
		assert.Equal(t, ReasonInitialCompile, d.Reason)
	}
}

func TestDecide_ManifestDominatesEntry(t *testing.T) {
	resolved := []graph.ResolvedChange{
		change("popup.js", "popup"),
		change("manifest.json"),
	}

	d := Decide(resolved, "background", SpecialPaths{})
	assert.Equal(t, Decision{Kind: Full, Reason: ReasonManifest}, d)
}

func TestDecide_OrderManifestBeforeLocales(t *testing.T) {
	resolved := []graph.ResolvedChange{
		change("_locales/en/messages.json"),
		change("manifest.json", "background"),
	}

	assert.Equal(t, ReasonManifest, Decide(resolved, "background", SpecialPaths{}).Reason)
}

func TestDecide_OrderLocalesBeforeDeps(t *testing.T) {
	resolved := []graph.ResolvedChange{change("_locales/en/messages.json")}
	special := SpecialPaths{ManifestFileDeps: []string{"_locales/en/messages.json"}}

	assert.Equal(t, ReasonLocales, Decide(resolved, "background", special).Reason)
}

func TestDecide_OrderDepsBeforeEntry(t *testing.T) {
	resolved := []graph.ResolvedChange{change("background.js", "background")}
	special := SpecialPaths{ManifestFileDeps: []string{"background.js"}}

	assert.Equal(t, ReasonManifestDep, Decide(resolved, "background", special).Reason)
}

func TestDecide_NotifyNeverFullWithoutSpecialMatch(t *testing.T) {
	sets := [][]graph.ResolvedChange{
		{change("a.js")},
		{change("a.js", "popup"), change("b.css", "options")},
		{change("deep/nested/locales.js", "content")},
	}

	for _, resolved := range sets {
		d := Decide(resolved, "background", SpecialPaths{ManifestFileDeps: []string{"icon.png"}})
		assert.Equal(t, Notify, d.Kind)
		assert.Equal(t, resolved, d.Changes)
	}
}

func TestDecide_LocaleDirMatchesSegmentsOnly(t *testing.T) {
	resolved := []graph.ResolvedChange{change("src/my_locales_helper.js", "popup")}

	assert.Equal(t, Notify, Decide(resolved, "background", SpecialPaths{}).Kind)
}

func TestAffects(t *testing.T) {
	changes := []graph.ResolvedChange{change("a.js", "popup"), change("b.js")}

	assert.True(t, Affects(changes, "popup"))
	assert.False(t, Affects(changes, "background"))
	assert.False(t, Affects(nil, "popup"))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "notify", Notify.String())
	assert.Equal(t, "full", Full.String())
	assert.Equal(t, "kind(9)", Kind(9).String())

	text, err := Full.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "full", string(text))
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "notify", Decision{Kind: Notify}.String())
	assert.Equal(t, "full: manifest updated", Decision{Kind: Full, Reason: ReasonManifest}.String())
}
