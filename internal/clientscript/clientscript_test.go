package clientscript

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() Settings {
	return Settings{
		Host:            "localhost",
		Port:            35729,
		ReconnectTime:   3 * time.Second,
		BackgroundEntry: "background",
		IgnoreEntries:   []string{"vendor"},
		ManifestName:    "manifest.json",
		LocaleDir:       "_locales",
	}
}

func TestCompile(t *testing.T) {
	tmpl := "const port = /* PLACEHOLDER-PORT */ 1 /* PLACEHOLDER-PORT */\n" +
		"const host = /* PLACEHOLDER-HOST */ 'x' /* PLACEHOLDER-HOST */\n" +
		"const quiet = /* PLACEHOLDER-QUIET */ false /* PLACEHOLDER-QUIET */\n"

	out, err := Compile(tmpl, map[string]any{
		"port":  8080,
		"host":  "example.test",
		"quiet": true,
	})
	require.NoError(t, err)

	assert.Equal(t, "const port = 8080\nconst host = \"example.test\"\nconst quiet = true\n", out)
}

func TestCompile_CaseInsensitiveKey(t *testing.T) {
	out, err := Compile("/* PLACEHOLDER-ENTRYNAME */ 'a' /* PLACEHOLDER-ENTRYNAME */", map[string]any{
		"entryName": "popup",
	})
	require.NoError(t, err)
	assert.Equal(t, `"popup"`, out)
}

func TestCompile_EscapesStrings(t *testing.T) {
	out, err := Compile("/* PLACEHOLDER-HOST */ '' /* PLACEHOLDER-HOST */", map[string]any{
		"host": `a"b$1`,
	})
	require.NoError(t, err)
	assert.Equal(t, `"a\"b$1"`, out)
}

func TestCompile_RejectsObjects(t *testing.T) {
	_, err := Compile("", map[string]any{"opts": map[string]string{}})
	assert.ErrorContains(t, err, "unsupported value type")
}

func TestScripts_Background(t *testing.T) {
	s := NewScripts(testSettings())

	script, err := s.ForEntry("background")
	require.NoError(t, err)

	assert.Contains(t, script, `var host = "localhost"`)
	assert.Contains(t, script, "var port = 35729")
	assert.Contains(t, script, `var scheme = "ws"`)
	assert.Contains(t, script, "var reconnectTime = 3000")
	assert.Contains(t, script, `var entryName = "background"`)
	assert.Contains(t, script, "runtime.reload()")
	assert.NotContains(t, script, "PLACEHOLDER")
}

func TestScripts_Page(t *testing.T) {
	settings := testSettings()
	settings.TLS = true
	settings.Quiet = true

	s := NewScripts(settings)

	script, err := s.ForEntry("popup")
	require.NoError(t, err)

	assert.Contains(t, script, `var entryName = "popup"`)
	assert.Contains(t, script, "var quiet = true")
	assert.Contains(t, script, "runtime.connect")
	assert.NotContains(t, script, "PLACEHOLDER")

	// Cached render is returned on the second call.
	again, err := s.ForEntry("popup")
	require.NoError(t, err)
	assert.Equal(t, script, again)
}

func TestScripts_Ignored(t *testing.T) {
	s := NewScripts(testSettings())

	_, err := s.ForEntry("vendor")
	assert.ErrorIs(t, err, ErrIgnoredEntry)
	assert.True(t, s.Ignored("vendor"))
	assert.False(t, s.Ignored("popup"))
}

func TestScripts_Routes(t *testing.T) {
	r := chi.NewRouter()
	NewScripts(testSettings()).Routes(r)

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/client/options.js") //nolint:noctx // test
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/javascript"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `var entryName = "options"`)

	resp2, err := http.Get(srv.URL + "/client/vendor.js") //nolint:noctx // test
	require.NoError(t, err)
	defer resp2.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}
