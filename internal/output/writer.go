package output

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Writer is the interface for build output destinations.
type Writer interface {
	// Write sends bytes to the output destination.
	Write(data []byte) error
}

// StdoutWriter writes to os.Stdout or a replacement writer.
type StdoutWriter struct {
	out io.Writer
}

// NewStdoutWriter creates a writer that sends output to the given writer.
// If w is nil, os.Stdout is used.
func NewStdoutWriter(w io.Writer) *StdoutWriter {
	if w == nil {
		w = os.Stdout
	}

	return &StdoutWriter{out: w}
}

// Write sends data to stdout.
func (sw *StdoutWriter) Write(data []byte) error {
	_, err := sw.out.Write(data)
	if err != nil {
		return fmt.Errorf("writing to stdout: %w", err)
	}

	return nil
}

// FileWriter replaces a file atomically, creating parent directories as
// needed. Readers of the destination never observe a partially written file.
type FileWriter struct {
	path          string
	perm          os.FileMode
	warnOverwrite bool
	logger        *slog.Logger
}

// FileWriterOption configures a FileWriter.
type FileWriterOption func(*FileWriter)

// WithPermissions overrides the default file permissions (0644).
func WithPermissions(perm os.FileMode) FileWriterOption {
	return func(fw *FileWriter) {
		fw.perm = perm
	}
}

// WithLogger sets a logger for the FileWriter.
func WithLogger(logger *slog.Logger) FileWriterOption {
	return func(fw *FileWriter) {
		fw.logger = logger
	}
}

// WithQuietOverwrite disables the overwrite warning. Build outputs are
// rewritten on every cycle.
func WithQuietOverwrite() FileWriterOption {
	return func(fw *FileWriter) {
		fw.warnOverwrite = false
	}
}

// NewFileWriter creates a writer that writes to the specified file path.
func NewFileWriter(path string, opts ...FileWriterOption) *FileWriter {
	fw := &FileWriter{
		path:          path,
		perm:          0o644,
		warnOverwrite: true,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(fw)
	}

	if fw.logger == nil {
		fw.logger = slog.Default()
	}

	return fw
}

// Write creates parent directories, writes data to a temporary sibling, and
// renames it over the destination.
func (fw *FileWriter) Write(data []byte) error {
	dir := filepath.Dir(fw.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if fw.warnOverwrite {
		if _, err := os.Stat(fw.path); err == nil {
			fw.logger.Warn("overwriting existing file", slog.String("path", fw.path))
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fw.path)+".*")
	if err != nil {
		return fmt.Errorf("writing file %s: %w", fw.path, err)
	}

	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing file %s: %w", fw.path, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing file %s: %w", fw.path, err)
	}

	if err := os.Chmod(tmpName, fw.perm); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", fw.path, err)
	}

	if err := os.Rename(tmpName, fw.path); err != nil {
		return fmt.Errorf("replacing file %s: %w", fw.path, err)
	}

	return nil
}

// Path returns the output file path.
func (fw *FileWriter) Path() string {
	return fw.path
}
