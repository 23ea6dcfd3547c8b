// Package manifest handles the extension manifest: it extracts the files a
// manifest references and compiles manifest and locale sources into the
// build output directory.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pmezard/go-difflib/difflib"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/hupe1980/extreload/internal/output"
)

// FileName is the name of the compiled manifest.
const FileName = "manifest.json"

var fileRef = regexp.MustCompile(`"([^"]*\.[a-zA-Z]+)"`)

// ScanFileDeps returns the file-like string values of a serialized manifest,
// normalized to context-relative paths without a leading "./" or "/".
// URLs and match patterns are skipped.
func ScanFileDeps(data []byte) []string {
	seen := make(map[string]struct{})

	for _, m := range fileRef.FindAllSubmatch(data, -1) {
		ref := string(m[1])
		if strings.Contains(ref, "://") {
			continue
		}

		ref = strings.TrimPrefix(ref, "./")
		ref = strings.TrimPrefix(ref, "/")

		if ref != "" {
			seen[ref] = struct{}{}
		}
	}

	deps := make([]string, 0, len(seen))
	for d := range seen {
		deps = append(deps, d)
	}

	sort.Strings(deps)

	return deps
}

// Load reads a manifest source. YAML sources (.yaml, .yml) are converted to
// JSON. The result is indented JSON of a validated manifest object.
func Load(path string) ([]byte, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from user configuration
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	return Parse(raw, strings.ToLower(filepath.Ext(path)))
}

// Parse validates a manifest document. ext selects the source format.
func Parse(raw []byte, ext string) ([]byte, error) {
	data := raw

	if ext == ".yaml" || ext == ".yml" {
		converted, err := sigsyaml.YAMLToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("converting manifest YAML: %w", err)
		}

		data = converted
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	if err := Validate(doc); err != nil {
		return nil, err
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}

	return append(out, '\n'), nil
}

// Validate checks the fields every extension manifest needs.
func Validate(doc map[string]any) error {
	var errs []error

	switch v := doc["manifest_version"].(type) {
	case float64:
		if v != 2 && v != 3 {
			errs = append(errs, fmt.Errorf("unsupported manifest_version %v", v))
		}
	case nil:
		errs = append(errs, errors.New("manifest_version is required"))
	default:
		errs = append(errs, fmt.Errorf("manifest_version must be a number, got %T", v))
	}

	if name, _ := doc["name"].(string); name == "" {
		errs = append(errs, errors.New("name is required"))
	}

	version, _ := doc["version"].(string)
	if version == "" {
		errs = append(errs, errors.New("version is required"))
	} else if _, err := ParseVersion(version); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid manifest: %w", errors.Join(errs...))
	}

	return nil
}

// ParseVersion parses an extension version: one to four dot-separated
// integers between 0 and 65535. The first three parts are returned as a
// semantic version for ordering.
func ParseVersion(v string) (*semver.Version, error) {
	parts := strings.Split(v, ".")
	if len(parts) > 4 {
		return nil, fmt.Errorf("invalid version %q: more than four parts", v)
	}

	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 65535 || (len(p) > 1 && p[0] == '0') {
			return nil, fmt.Errorf("invalid version %q: part %q is not an integer in [0, 65535]", v, p)
		}
	}

	sv, err := semver.NewVersion(strings.Join(parts[:min(3, len(parts))], "."))
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", v, err)
	}

	return sv, nil
}

// CompileResult describes one Compile run.
type CompileResult struct {
	Path    string
	Changed bool
	Deps    []string
}

// Compile loads src, validates it, and writes outDir/manifest.json when the
// content changed. On any error the previous output is left untouched. The
// unified diff against the previous output is logged at debug level.
func Compile(src, outDir string, logger *slog.Logger) (*CompileResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := Load(src)
	if err != nil {
		return nil, err
	}

	dst := filepath.Join(outDir, FileName)
	res := &CompileResult{Path: dst, Deps: ScanFileDeps(data)}

	prev, readErr := os.ReadFile(dst) //nolint:gosec // derived from configured output dir
	if readErr == nil && bytes.Equal(prev, data) {
		return res, nil
	}

	if readErr == nil {
		warnDowngrade(logger, prev, data)
		logDiff(logger, string(prev), string(data))
	}

	w := output.NewFileWriter(dst, output.WithLogger(logger), output.WithQuietOverwrite())
	if err := w.Write(data); err != nil {
		return nil, err
	}

	res.Changed = true

	return res, nil
}

func warnDowngrade(logger *slog.Logger, prev, next []byte) {
	var a, b struct {
		Version string `json:"version"`
	}

	if json.Unmarshal(prev, &a) != nil || json.Unmarshal(next, &b) != nil {
		return
	}

	pv, err := ParseVersion(a.Version)
	if err != nil {
		return
	}

	nv, err := ParseVersion(b.Version)
	if err != nil {
		return
	}

	if nv.LessThan(pv) {
		logger.Warn("manifest version decreased",
			slog.String("previous", a.Version),
			slog.String("current", b.Version),
		)
	}
}

func logDiff(logger *slog.Logger, prev, next string) {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(prev),
		B:        difflib.SplitLines(next),
		FromFile: "previous",
		ToFile:   "current",
		Context:  2,
	})
	if err != nil || diff == "" {
		return
	}

	logger.Debug("manifest changed", slog.String("diff", diff))
}
