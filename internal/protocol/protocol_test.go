package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/extreload/internal/graph"
)

func TestEncode_Status(t *testing.T) {
	data, err := Encode(Compile())
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"compile"}`, string(data))

	data, err = Encode(AfterCompile())
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"afterCompile"}`, string(data))
}

func TestEncode_Reload(t *testing.T) {
	msg := Reload([]graph.ResolvedChange{
		{RelativePath: "src/popup.js", Artifacts: []string{"popup"}},
		{RelativePath: "README.md"},
	})

	data, err := Encode(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"reload","changedFiles":[
		{"filePath":"src/popup.js","chunks":["popup"]},
		{"filePath":"README.md","chunks":[]}
	]}`, string(data))
}

func TestEncode_ReloadEmptyKeepsList(t *testing.T) {
	data, err := Encode(Reload(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"reload","changedFiles":[]}`, string(data))
}

func TestEncode_BackgroundReload(t *testing.T) {
	data, err := Encode(BackgroundReload("manifest updated"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"backgroundReload","reason":"manifest updated"}`, string(data))
}

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(`{"action":"reload","changedFiles":[{"filePath":"a.js","chunks":["popup"]}]}`))
	require.NoError(t, err)
	assert.Equal(t, ActionReload, m.Action)
	assert.Equal(t, []graph.ResolvedChange{{RelativePath: "a.js", Artifacts: []string{"popup"}}}, m.Changes())
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`{"action":`))
	assert.ErrorContains(t, err, "decoding message")

	_, err = Decode([]byte(`{"reason":"x"}`))
	assert.ErrorIs(t, err, ErrNoAction)
}

func TestMessage_ChangesNilChunks(t *testing.T) {
	m := Message{Action: ActionReload, ChangedFiles: []ChangedFile{{FilePath: "a.js"}}}

	changes := m.Changes()
	require.Len(t, changes, 1)
	assert.NotNil(t, changes[0].Artifacts)
}
