// Package clientscript renders the scripts that are injected into every
// extension entry. Each entry gets the page client; the background entry
// gets the relay client instead.
package clientscript

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

var (
	//go:embed assets/client.js
	pageTemplate string

	//go:embed assets/client-background.js
	backgroundTemplate string
)

// ErrIgnoredEntry is returned for entries excluded from injection.
var ErrIgnoredEntry = errors.New("entry is ignored")

// Compile replaces every /* PLACEHOLDER-NAME */ … /* PLACEHOLDER-NAME */
// span in tmpl with the value registered under name (case-insensitive).
// Numbers are written verbatim, strings and booleans as JSON literals.
func Compile(tmpl string, values map[string]any) (string, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := tmpl

	for _, key := range keys {
		literal, err := serialize(values[key])
		if err != nil {
			return "", fmt.Errorf("placeholder %s: %w", key, err)
		}

		out = placeholder(key).ReplaceAllLiteralString(out, literal)
	}

	return out, nil
}

func placeholder(name string) *regexp.Regexp {
	marker := `/\*\sPLACEHOLDER-` + regexp.QuoteMeta(strings.ToUpper(name)) + `\s\*/`
	return regexp.MustCompile(marker + `.*?` + marker)
}

func serialize(v any) (string, error) {
	switch val := v.(type) {
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case string, bool:
		data, err := json.Marshal(val)
		if err != nil {
			return "", err
		}

		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// Settings are the values baked into the client scripts.
type Settings struct {
	Host            string
	Port            int
	TLS             bool
	ReconnectTime   time.Duration
	Quiet           bool
	BackgroundEntry string
	IgnoreEntries   []string
	ManifestName    string
	LocaleDir       string
}

// Scripts renders and caches the client script of each entry.
type Scripts struct {
	settings Settings

	mu    sync.Mutex
	cache map[string]string
}

// NewScripts creates a renderer for settings.
func NewScripts(settings Settings) *Scripts {
	return &Scripts{
		settings: settings,
		cache:    make(map[string]string),
	}
}

// Ignored reports whether entry is excluded from injection.
func (s *Scripts) Ignored(entry string) bool {
	return slices.Contains(s.settings.IgnoreEntries, entry)
}

// ForEntry returns the rendered client script for entry.
func (s *Scripts) ForEntry(entry string) (string, error) {
	if s.Ignored(entry) {
		return "", fmt.Errorf("%w: %s", ErrIgnoredEntry, entry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if script, ok := s.cache[entry]; ok {
		return script, nil
	}

	isBackground := entry == s.settings.BackgroundEntry

	tmpl := pageTemplate
	if isBackground {
		tmpl = backgroundTemplate
	}

	script, err := Compile(tmpl, s.values(entry))
	if err != nil {
		return "", fmt.Errorf("compiling client for %s: %w", entry, err)
	}

	s.cache[entry] = script

	return script, nil
}

func (s *Scripts) values(entry string) map[string]any {
	scheme := "ws"
	if s.settings.TLS {
		scheme = "wss"
	}

	return map[string]any{
		"host":          s.settings.Host,
		"port":          s.settings.Port,
		"scheme":        scheme,
		"reconnectTime": s.settings.ReconnectTime.Milliseconds(),
		"quiet":         s.settings.Quiet,
		"entryName":     entry,
		"manifest":      s.settings.ManifestName,
		"locales":       s.settings.LocaleDir,
	}
}

// Routes serves GET /client/{entry}.js.
func (s *Scripts) Routes(r chi.Router) {
	r.Get("/client/{entry}.js", s.handleScript)
}

func (s *Scripts) handleScript(w http.ResponseWriter, r *http.Request) {
	script, err := s.ForEntry(chi.URLParam(r, "entry"))
	if err != nil {
		if errors.Is(err, ErrIgnoredEntry) {
			http.NotFound(w, r)
			return
		}

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	_, _ = w.Write([]byte(script))
}
