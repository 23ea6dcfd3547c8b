package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// ParseEntriesConfig
// ---------------------------------------------------------------------------

func TestParseEntriesConfig(t *testing.T) {
	data := []byte(`
log-level: debug
entries:
  service-worker:
    role: background
  popup: {}
  options:
    role: page
  inject:
    role: content
  devtools:
    ignore: true
`)

	cfg, err := ParseEntriesConfig(data)
	require.NoError(t, err)
	require.Len(t, cfg.Entries, 5)

	bg, ok := cfg.Background()
	assert.True(t, ok)
	assert.Equal(t, "service-worker", bg)
	assert.Equal(t, []string{"devtools", "inject"}, cfg.Ignored())
	assert.False(t, cfg.IsEmpty())
}

func TestParseEntriesConfig_Empty(t *testing.T) {
	cfg, err := ParseEntriesConfig([]byte("log-level: info\n"))
	require.NoError(t, err)
	assert.True(t, cfg.IsEmpty())

	_, ok := cfg.Background()
	assert.False(t, ok)
	assert.Empty(t, cfg.Ignored())
}

func TestParseEntriesConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "two backgrounds",
			data:    "entries:\n  a: {role: background}\n  b: {role: background}\n",
			wantErr: "only one background entry allowed, got [a b]",
		},
		{
			name:    "unknown role",
			data:    "entries:\n  a: {role: worker}\n",
			wantErr: `invalid role "worker"`,
		},
		{
			name:    "ignored background",
			data:    "entries:\n  a: {role: background, ignore: true}\n",
			wantErr: "cannot be ignored",
		},
		{
			name:    "invalid name",
			data:    "entries:\n  \"-bad name\": {}\n",
			wantErr: "invalid name",
		},
		{
			name:    "malformed yaml",
			data:    "entries: [",
			wantErr: "parsing entries config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEntriesConfig([]byte(tt.data))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

// ---------------------------------------------------------------------------
// LoadEntriesConfig
// ---------------------------------------------------------------------------

func TestLoadEntriesConfig(t *testing.T) {
	cfg, err := LoadEntriesConfig("")
	require.NoError(t, err)
	assert.True(t, cfg.IsEmpty())

	p := filepath.Join(t.TempDir(), ".extreload.yaml")
	require.NoError(t, os.WriteFile(p, []byte("entries:\n  popup: {}\n"), 0o600))

	cfg, err = LoadEntriesConfig(p)
	require.NoError(t, err)
	assert.Contains(t, cfg.Entries, "popup")

	_, err = LoadEntriesConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}

// ---------------------------------------------------------------------------
// Apply
// ---------------------------------------------------------------------------

func TestEntriesConfig_Apply(t *testing.T) {
	entries := &EntriesConfig{Entries: map[string]EntryConfig{
		"sw":      {Role: RoleBackground},
		"content": {Role: RoleContent},
	}}

	cfg := Default()
	cfg.IgnoreEntries = []string{"content", "devtools"}

	require.NoError(t, entries.Apply(cfg))
	assert.Equal(t, "sw", cfg.BackgroundEntry)
	assert.Equal(t, []string{"content", "devtools"}, cfg.IgnoreEntries)
}

func TestEntriesConfig_ApplyRevalidates(t *testing.T) {
	entries := &EntriesConfig{Entries: map[string]EntryConfig{"sw": {Role: RoleBackground}}}

	cfg := Default()
	cfg.IgnoreEntries = []string{"sw"}

	assert.ErrorContains(t, entries.Apply(cfg), "cannot be ignored")
}
