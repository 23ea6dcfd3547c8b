// Package protocol defines the JSON messages exchanged between the build
// host, the extension background relay, and extension pages.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hupe1980/extreload/internal/graph"
)

// Action names a message type.
type Action string

// Message actions.
const (
	// ActionCompile signals that a build started.
	ActionCompile Action = "compile"
	// ActionAfterCompile signals that a build finished compiling.
	ActionAfterCompile Action = "afterCompile"
	// ActionReload carries the changed files of a build.
	ActionReload Action = "reload"
	// ActionBackgroundReload is sent by the relay to pages right before the
	// extension runtime reloads. The host never sends it.
	ActionBackgroundReload Action = "backgroundReload"
)

// ErrNoAction is returned by Decode for messages without an action.
var ErrNoAction = errors.New("message has no action")

// ChangedFile is one entry of a reload message.
type ChangedFile struct {
	FilePath string   `json:"filePath"`
	Chunks   []string `json:"chunks"`
}

// Message is the envelope for every action.
type Message struct {
	Action       Action        `json:"action"`
	ChangedFiles []ChangedFile `json:"changedFiles,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// Compile returns a compile status message.
func Compile() Message { return Message{Action: ActionCompile} }

// AfterCompile returns an afterCompile status message.
func AfterCompile() Message { return Message{Action: ActionAfterCompile} }

// BackgroundReload returns the message pages receive before a full reload.
func BackgroundReload(reason string) Message {
	return Message{Action: ActionBackgroundReload, Reason: reason}
}

// Reload builds a reload message from resolved changes. An empty change set
// is encoded as an empty list, which receivers treat as an initial build.
func Reload(changes []graph.ResolvedChange) Message {
	files := make([]ChangedFile, 0, len(changes))

	for _, c := range changes {
		chunks := c.Artifacts
		if chunks == nil {
			chunks = []string{}
		}

		files = append(files, ChangedFile{FilePath: c.RelativePath, Chunks: chunks})
	}

	return Message{Action: ActionReload, ChangedFiles: files}
}

// Changes converts the changed files of m back into resolved changes.
func (m Message) Changes() []graph.ResolvedChange {
	changes := make([]graph.ResolvedChange, 0, len(m.ChangedFiles))

	for _, f := range m.ChangedFiles {
		chunks := f.Chunks
		if chunks == nil {
			chunks = []string{}
		}

		changes = append(changes, graph.ResolvedChange{RelativePath: f.FilePath, Artifacts: chunks})
	}

	return changes
}

// MarshalJSON always emits changedFiles for reload messages, even when the
// list is empty.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message

	if m.Action != ActionReload {
		return json.Marshal(plain(m))
	}

	files := m.ChangedFiles
	if files == nil {
		files = []ChangedFile{}
	}

	return json.Marshal(struct {
		Action       Action        `json:"action"`
		ChangedFiles []ChangedFile `json:"changedFiles"`
		Reason       string        `json:"reason,omitempty"`
	}{m.Action, files, m.Reason})
}

// Encode serializes m.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", m.Action, err)
	}

	return data, nil
}

// Decode parses a message. Malformed JSON and messages without an action are
// rejected.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decoding message: %w", err)
	}

	if m.Action == "" {
		return Message{}, ErrNoAction
	}

	return m, nil
}
