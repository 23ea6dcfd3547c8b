package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hupe1980/extreload/internal/output"
)

// CopyLocales mirrors the locale tree at srcDir into outDir/<base(srcDir)>.
// Only files whose content differs are rewritten. It returns the number of
// files written.
func CopyLocales(srcDir, outDir string) (int, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return 0, fmt.Errorf("reading locales %s: %w", srcDir, err)
	}

	if !info.IsDir() {
		return 0, fmt.Errorf("locales %s is not a directory", srcDir)
	}

	dstRoot := filepath.Join(outDir, filepath.Base(srcDir))
	written := 0

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(srcDir, path)
		if relErr != nil {
			return relErr
		}

		data, readErr := os.ReadFile(path) //nolint:gosec // walking configured locale dir
		if readErr != nil {
			return fmt.Errorf("reading %s: %w", path, readErr)
		}

		dst := filepath.Join(dstRoot, rel)
		if existing, statErr := os.ReadFile(dst); statErr == nil && string(existing) == string(data) { //nolint:gosec // output path
			return nil
		}

		if writeErr := output.NewFileWriter(dst, output.WithQuietOverwrite()).Write(data); writeErr != nil {
			return writeErr
		}

		written++

		return nil
	})
	if err != nil {
		return written, fmt.Errorf("copying locales: %w", err)
	}

	return written, nil
}
