package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, Protocol, info.Protocol)
	assert.Equal(t, "none", info.GitCommit)
	assert.Equal(t, "unknown", info.BuildDate)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestInfoString(t *testing.T) {
	info := GetInfo()
	s := info.String()

	assert.Contains(t, s, "extreload")
	assert.Contains(t, s, info.Version)
	assert.Contains(t, s, "protocol 1")
	assert.Contains(t, s, info.GoVersion)
	assert.Contains(t, s, info.Platform)
}

func TestInfoUserAgent(t *testing.T) {
	assert.Equal(t, "extreload/dev protocol/1", GetInfo().UserAgent())
}

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		name   string
		ua     string
		want   string
		wantOK bool
	}{
		{"relay", GetInfo().UserAgent(), "dev", true},
		{"bare token", "extreload/1.4.0", "1.4.0", true},
		{"browser", "Mozilla/5.0 (X11; Linux x86_64) Chrome/126.0", "", false},
		{"empty version", "extreload/", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseUserAgent(tt.ua)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInfoJSON(t *testing.T) {
	info := GetInfo()

	jsonStr, err := info.JSON()
	require.NoError(t, err)

	var parsed Info
	require.NoError(t, json.Unmarshal([]byte(jsonStr), &parsed))

	assert.Equal(t, info.Version, parsed.Version)
	assert.Equal(t, info.Protocol, parsed.Protocol)
	assert.Equal(t, info.GitCommit, parsed.GitCommit)
	assert.Equal(t, info.BuildDate, parsed.BuildDate)
	assert.Equal(t, info.GoVersion, parsed.GoVersion)
	assert.Equal(t, info.Platform, parsed.Platform)
}

func TestShortCommit(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"long SHA truncated", "abc1234def5678", "abc1234"},
		{"exact 7 unchanged", "abc1234", "abc1234"},
		{"short unchanged", "abc", "abc"},
		{"empty unchanged", "", ""},
		{"none unchanged", "none", "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shortCommit(tt.input))
		})
	}
}
