package host

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/extreload/internal/channel"
	"github.com/hupe1980/extreload/internal/decision"
	"github.com/hupe1980/extreload/internal/graph"
	"github.com/hupe1980/extreload/internal/protocol"
)

const statsJSON = `{
  "chunks": [
    {"id": "background", "names": ["background"], "modules": [
      {"name": "./src/background.ts", "chunks": ["background"]}
    ]},
    {"id": "popup", "names": ["popup"], "modules": [
      {"name": "./src/popup.ts", "chunks": ["popup"]}
    ]}
  ]
}`

func testGraph(t *testing.T) *graph.Graph {
	t.Helper()

	g, err := graph.ParseStats([]byte(statsJSON))
	require.NoError(t, err)

	return g
}

func newTestHost(t *testing.T, opts Options) (*Host, *channel.Channel) {
	t.Helper()

	ch := channel.New(channel.Options{Host: "127.0.0.1"})
	t.Cleanup(func() { _ = ch.Close() })

	if opts.StartTime.IsZero() {
		opts.StartTime = time.UnixMilli(1_000_000)
	}

	return New(ch, opts), ch
}

func dial(t *testing.T, ch *channel.Channel) *websocket.Conn {
	t.Helper()

	srv := ch.Server()
	require.NotNil(t, srv)

	ws, resp, err := websocket.DefaultDialer.Dial(srv.URL(), nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() { _ = ws.Close() })

	require.Eventually(t, func() bool { return srv.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	return ws
}

func read(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	msg, err := protocol.Decode(data)
	require.NoError(t, err)

	return msg
}

func TestOnBuildDone_InactiveChannel(t *testing.T) {
	h, _ := newTestHost(t, Options{ContextDir: "/proj"})

	d := h.OnBuildDone(Build{Timestamps: map[string]int64{"/proj/src/popup.ts": 2_000_000}})

	assert.Equal(t, decision.None, d.Kind)
	assert.Empty(t, h.State().Previous)
}

func TestOnWatchStart_BindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	h := New(channel.New(channel.Options{Host: "127.0.0.1", Port: port}), Options{})

	err = h.OnWatchStart(context.Background())
	assert.ErrorContains(t, err, "starting notification channel")
	assert.ErrorContains(t, err, strconv.Itoa(port))
}

func TestOnWatchStart_Idempotent(t *testing.T) {
	h, ch := newTestHost(t, Options{})

	require.NoError(t, h.OnWatchStart(context.Background()))
	srv := ch.Server()

	require.NoError(t, h.OnWatchStart(context.Background()))
	assert.Same(t, srv, ch.Server())
}

func TestBuildCycle(t *testing.T) {
	h, ch := newTestHost(t, Options{ContextDir: "/proj"})
	require.NoError(t, h.OnWatchStart(context.Background()))

	ws := dial(t, ch)

	h.OnCompileStart()
	assert.Equal(t, protocol.ActionCompile, read(t, ws).Action)

	h.OnCompileEnd()
	assert.Equal(t, protocol.ActionAfterCompile, read(t, ws).Action)

	// Files older than the host are not reported on the first build.
	first := map[string]int64{
		"/proj/src/popup.ts":      900_000,
		"/proj/src/background.ts": 900_000,
		"/proj/src":               2_000_000,
	}

	d := h.OnBuildDone(Build{Timestamps: first, Graph: testGraph(t)})
	assert.Equal(t, decision.Full, d.Kind)
	assert.Equal(t, decision.ReasonInitialCompile, d.Reason)

	msg := read(t, ws)
	assert.Equal(t, protocol.ActionReload, msg.Action)
	assert.Empty(t, msg.ChangedFiles)
	assert.Equal(t, first, h.State().Previous)

	second := map[string]int64{
		"/proj/src/popup.ts":      2_000_000,
		"/proj/src/background.ts": 900_000,
	}

	d = h.OnBuildDone(Build{Timestamps: second, Graph: testGraph(t)})
	assert.Equal(t, decision.Notify, d.Kind)

	msg = read(t, ws)
	assert.Equal(t, []protocol.ChangedFile{{FilePath: "src/popup.ts", Chunks: []string{"popup"}}}, msg.ChangedFiles)
	assert.Equal(t, second, h.State().Previous)

	third := map[string]int64{
		"/proj/src/popup.ts":      2_000_000,
		"/proj/src/background.ts": 3_000_000,
	}

	d = h.OnBuildDone(Build{Timestamps: third, Graph: testGraph(t)})
	assert.Equal(t, decision.Full, d.Kind)
	assert.Equal(t, decision.ReasonEntry, d.Reason)

	msg = read(t, ws)
	assert.Equal(t, []protocol.ChangedFile{{FilePath: "src/background.ts", Chunks: []string{"background"}}}, msg.ChangedFiles)
}

func TestOnBuildDone_ManifestDependencyPrediction(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(manifestPath,
		[]byte(`{"manifest_version":3,"name":"x","version":"1.0","action":{"default_popup":"popup.html"}}`), 0o600))

	h, _ := newTestHost(t, Options{
		ContextDir: dir,
		Special:    decision.SpecialPaths{ManifestPath: manifestPath},
	})
	require.NoError(t, h.OnWatchStart(context.Background()))

	d := h.OnBuildDone(Build{Timestamps: map[string]int64{
		filepath.Join(dir, "popup.html"): 2_000_000,
	}})

	assert.Equal(t, decision.Full, d.Kind)
	assert.Equal(t, decision.ReasonManifestDep, d.Reason)
}

func TestOnBuildDone_AfterChannelClosed(t *testing.T) {
	h, ch := newTestHost(t, Options{ContextDir: "/proj"})
	require.NoError(t, h.OnWatchStart(context.Background()))
	require.NoError(t, ch.Close())

	d := h.OnBuildDone(Build{Timestamps: map[string]int64{"/proj/a.ts": 2_000_000}})
	assert.Equal(t, decision.None, d.Kind)
}
