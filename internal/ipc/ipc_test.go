package ipc

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textreplacer/internal/health"
	"textreplacer/internal/keystroke"
	"textreplacer/internal/metrics"
	"textreplacer/internal/rules"
)

func TestHeaderRoundTrip(t *testing.T) {
	msg := NewMessage(MsgAddRule, 42, []byte(`{"trigger":"a"}`))

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))
	assert.Equal(t, HeaderSize+len(msg.Payload), buf.Len())
	assert.Equal(t, []byte("TRPL"), buf.Bytes()[:4])

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, msg.Header, got.Header)
	assert.Equal(t, msg.Payload, got.Payload)
}

func TestReadMessageRejects(t *testing.T) {
	bad := make([]byte, HeaderSize)
	copy(bad, "XXXX")
	_, err := ReadMessage(bytes.NewReader(bad))
	assert.ErrorContains(t, err, "invalid magic")

	var buf bytes.Buffer
	h := Header{Magic: ProtocolMagic, Version: ProtocolVersion + 1, Type: MsgPing}
	require.NoError(t, h.Write(&buf))
	_, err = ReadMessage(&buf)
	assert.ErrorContains(t, err, "unsupported protocol version")

	buf.Reset()
	h = Header{Magic: ProtocolMagic, Version: ProtocolVersion, Type: MsgPing, Length: MaxPayload + 1}
	require.NoError(t, h.Write(&buf))
	_, err = ReadMessage(&buf)
	assert.ErrorContains(t, err, "payload too large")
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "add-rule", MsgAddRule.String())
	assert.Equal(t, "type-0x7777", MessageType(0x7777).String())
}

type fakeController struct {
	mu       sync.Mutex
	enabled  bool
	startErr error
}

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.enabled = true
	return nil
}

func (f *fakeController) failStart(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *fakeController) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
	return nil
}

func (f *fakeController) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

type testDaemon struct {
	server *Server
	store  *rules.Store
	ctrl   *fakeController
	mets   *metrics.Metrics
	health *health.Checker
	socket string
}

// shortSocketPath keeps the path under the sun_path limit on macOS.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "trpl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}

func startDaemon(t *testing.T) *testDaemon {
	t.Helper()
	d := &testDaemon{
		store:  rules.NewStore(rules.NewMemoryBackend(map[string]string{"b": "bee", "a": "ay"}), rules.Options{DisableSeed: true}),
		ctrl:   &fakeController{},
		mets:   metrics.New(nil),
		health: health.NewChecker(),
		socket: shortSocketPath(t),
	}
	d.store.Load()

	src := keystroke.NewSimulated(keystroke.Options{})
	src.SimulateTapDisable()
	handler := NewDaemonHandler(DaemonHandlerConfig{
		Version:    "test",
		Store:      d.store,
		Controller: d.ctrl,
		Hook:       src,
		Metrics:    d.mets,
		Health:     d.health,
	})

	cfg := DefaultServerConfig(d.socket)
	cfg.Version = "test"
	d.server = NewServer(cfg, handler)
	require.NoError(t, d.server.Start())
	t.Cleanup(func() { d.server.Stop() })
	return d
}

func dial(t *testing.T, socket string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), DefaultClientConfig(socket))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientServerRoundTrip(t *testing.T) {
	d := startDaemon(t)
	c := dial(t, d.socket)

	assert.Equal(t, "test", c.ServerVersion())
	assert.NotEmpty(t, c.SessionID())
	require.NoError(t, c.Ping())

	list, err := c.ListRules()
	require.NoError(t, err)
	assert.Equal(t, []RuleEntry{{"a", "ay"}, {"b", "bee"}}, list.Rules)
	assert.Equal(t, ":memory:", list.Path)

	added, err := c.AddRule(" ;sig ", "Best regards")
	require.NoError(t, err)
	assert.Equal(t, 3, added.Count)
	v, ok := d.store.Lookup(";sig")
	require.True(t, ok)
	assert.Equal(t, "Best regards", v)

	_, err = c.AddRule("   ", "x")
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrInvalidRequest, remote.Code)

	removed, err := c.RemoveRule("a")
	require.NoError(t, err)
	assert.Equal(t, 2, removed.Count)

	_, err = c.RemoveRule("missing")
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrNotFound, remote.Code)

	imported, err := c.ImportRules(map[string]string{"x": "ex", "": "bad"})
	require.NoError(t, err)
	assert.Equal(t, 1, imported.Changed)
	assert.NotEmpty(t, imported.Error)

	cleared, err := c.ClearRules()
	require.NoError(t, err)
	assert.Equal(t, 3, cleared.Changed)
	assert.Equal(t, 0, d.store.Len())
}

func TestEnableDisableStatus(t *testing.T) {
	d := startDaemon(t)
	c := dial(t, d.socket)

	d.mets.KeystrokesTotal.Add(10)
	d.mets.MatchesTotal.Inc()
	d.mets.ReplaysTotal.Inc()

	st, err := c.Status()
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	assert.Equal(t, 2, st.Rules)
	assert.Equal(t, uint64(10), st.Keystrokes)
	assert.Equal(t, uint64(1), st.Matches)
	assert.Equal(t, uint64(1), st.Replays)
	assert.Equal(t, int64(1), st.TapDisables)
	assert.True(t, st.HookAvailable)
	assert.Equal(t, "test", st.Version)

	state, err := c.Enable()
	require.NoError(t, err)
	assert.True(t, state.Enabled)
	assert.Empty(t, state.Error)

	st, err = c.Status()
	require.NoError(t, err)
	assert.True(t, st.Enabled)

	state, err = c.Disable()
	require.NoError(t, err)
	assert.False(t, state.Enabled)

	d.ctrl.failStart(keystroke.ErrPermissionDenied)
	state, err = c.Enable()
	require.NoError(t, err)
	assert.False(t, state.Enabled)
	assert.Contains(t, state.Error, "permission")
}

func TestDialNoDaemon(t *testing.T) {
	_, err := Dial(context.Background(), DefaultClientConfig(shortSocketPath(t)))
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestSecondServerRefused(t *testing.T) {
	d := startDaemon(t)
	other := NewServer(DefaultServerConfig(d.socket), nil)
	assert.ErrorIs(t, other.Start(), ErrAlreadyRunning)
}

func TestStaleSocketReplaced(t *testing.T) {
	socket := shortSocketPath(t)
	l, err := net.Listen("unix", socket)
	require.NoError(t, err)
	// Closing a unix listener removes the file; recreate a dead socket file.
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	l.Close()

	s := NewServer(DefaultServerConfig(socket), nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	info, err := os.Stat(socket)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestRejectsForeignPeer(t *testing.T) {
	socket := shortSocketPath(t)
	s := NewServer(DefaultServerConfig(socket), nil)
	s.verifyPeer = func(net.Conn) (bool, error) { return false, errors.New("uid mismatch") }
	require.NoError(t, s.Start())
	defer s.Stop()

	_, err := Dial(context.Background(), DefaultClientConfig(socket))
	assert.Error(t, err)
}

func TestUnknownMessage(t *testing.T) {
	d := startDaemon(t)
	c := dial(t, d.socket)

	err := c.call(MessageType(0x7777), nil, MsgPong, nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrInvalidRequest, remote.Code)
}

func TestServerStopIdempotent(t *testing.T) {
	d := startDaemon(t)
	require.NoError(t, d.server.Stop())
	require.NoError(t, d.server.Stop())
	_, err := os.Stat(d.socket)
	assert.True(t, os.IsNotExist(err))
}

func TestHealthAndMetrics(t *testing.T) {
	d := startDaemon(t)
	d.health.RegisterFunc("hook", true, func(context.Context) health.Result { return health.Healthy("ok") })
	d.health.RegisterFunc("clipboard", false, func(context.Context) health.Result {
		return health.Degraded("no clipboard")
	})
	c := dial(t, d.socket)

	h, err := c.Health()
	require.NoError(t, err)
	assert.Equal(t, "degraded", h.Status)
	require.Len(t, h.Components, 2)
	assert.Equal(t, "clipboard", h.Components[0].Name)
	assert.False(t, h.Components[0].Critical)
	assert.Equal(t, "hook", h.Components[1].Name)
	assert.True(t, h.Components[1].Critical)

	d.mets.MatchesTotal.Add(3)
	text, err := c.Metrics()
	require.NoError(t, err)
	assert.Contains(t, text, "textreplacer_matches_total 3")
}
