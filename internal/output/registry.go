package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Encoder renders v to w in one output format.
type Encoder func(w io.Writer, v any) error

// Registry maps format names to encoders so commands can offer a --format
// flag without knowing every format.
type Registry struct {
	mu       sync.RWMutex
	encoders map[string]Encoder
}

// NewRegistry creates an empty encoder registry.
func NewRegistry() *Registry {
	return &Registry{
		encoders: make(map[string]Encoder),
	}
}

// Register adds an encoder under the given format name.
// Existing entries for the same name are overwritten.
func (r *Registry) Register(name string, enc Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.encoders[name] = enc
}

// Encoder returns the encoder for the given format, or an error if not found.
func (r *Registry) Encoder(name string) (Encoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enc, ok := r.encoders[name]
	if !ok {
		return nil, fmt.Errorf("unknown output format %q (available: %s)", name, r.availableLocked())
	}

	return enc, nil
}

// Formats returns the sorted list of registered format names.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.formatsLocked()
}

// AvailableFormats returns a comma-separated string of registered format names.
func (r *Registry) AvailableFormats() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.availableLocked()
}

func (r *Registry) formatsLocked() []string {
	names := make([]string, 0, len(r.encoders))
	for name := range r.encoders {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (r *Registry) availableLocked() string {
	formats := r.formatsLocked()
	if len(formats) == 0 {
		return "none"
	}

	return strings.Join(formats, ", ")
}

// DefaultRegistry returns a registry with the built-in formats: text, json,
// yaml.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("text", EncodeText)
	r.Register("json", EncodeJSON)
	r.Register("yaml", EncodeYAML)

	return r
}

// EncodeText writes v using its String method when available.
func EncodeText(w io.Writer, v any) error {
	var err error

	if s, ok := v.(fmt.Stringer); ok {
		_, err = fmt.Fprintln(w, s.String())
	} else {
		_, err = fmt.Fprintf(w, "%v\n", v)
	}

	if err != nil {
		return fmt.Errorf("writing text: %w", err)
	}

	return nil
}

// EncodeJSON writes v as indented JSON.
func EncodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}

	return nil
}

// EncodeYAML writes v as YAML with two-space indentation.
func EncodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding YAML: %w", err)
	}

	return enc.Close()
}
