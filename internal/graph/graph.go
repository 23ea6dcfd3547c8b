// Package graph maps changed source files to the bundle artifacts that embed
// them, using the module graph a bundler writes to its stats file.
package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// DefaultExcludeSegment marks third-party modules that are never attributed
// as changed.
const DefaultExcludeSegment = "node_modules"

// ChunkRef identifies an output chunk. Bundlers emit either numeric ids or
// entry names, so both JSON numbers and strings decode into a ChunkRef.
type ChunkRef string

// UnmarshalJSON implements json.Unmarshaler.
func (c *ChunkRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*c = ChunkRef(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("chunk reference must be a string or number: %w", err)
	}

	*c = ChunkRef(n.String())

	return nil
}

// Module is one module of the bundle.
type Module struct {
	// Name is the module identifier relative to the build context, e.g.
	// "./src/popup.js".
	Name string `json:"name"`

	// Chunks lists the chunks that embed the module.
	Chunks []ChunkRef `json:"chunks"`
}

// Chunk is one output chunk together with the modules it contains.
type Chunk struct {
	ID      ChunkRef `json:"id"`
	Names   []string `json:"names,omitempty"`
	Modules []Module `json:"modules,omitempty"`
}

// Graph is the subset of a bundler stats file needed for artifact lookup.
type Graph struct {
	Chunks  []Chunk  `json:"chunks"`
	Modules []Module `json:"modules,omitempty"`
}

// ParseStats decodes a stats document.
func ParseStats(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing stats: %w", err)
	}

	return &g, nil
}

// LoadStats reads and decodes the stats file at path.
func LoadStats(path string) (*Graph, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from user configuration
	if err != nil {
		return nil, fmt.Errorf("reading stats %s: %w", path, err)
	}

	return ParseStats(data)
}

// chunkAliases maps a chunk id to the chunk's entry names so that numeric
// chunk references can be reported by name.
func (g *Graph) chunkAliases() map[string][]string {
	aliases := make(map[string][]string, len(g.Chunks))

	for _, c := range g.Chunks {
		if c.ID == "" || len(c.Names) == 0 {
			continue
		}

		aliases[string(c.ID)] = c.Names
	}

	return aliases
}

// String returns a short description used in logs.
func (g *Graph) String() string {
	if g == nil {
		return "graph(empty)"
	}

	n := len(g.Modules)
	for _, c := range g.Chunks {
		n += len(c.Modules)
	}

	return "graph(" + strconv.Itoa(len(g.Chunks)) + " chunks, " + strconv.Itoa(n) + " modules)"
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}
