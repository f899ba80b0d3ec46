package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisuiheng/wsgate/logger"
	"github.com/lisuiheng/wsgate/protocols/electron"
	"github.com/lisuiheng/wsgate/protocols/websocket/wstest"
	"github.com/lisuiheng/wsgate/utils"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fullContribution struct {
	name         string
	rec          *recorder
	configureErr error
	startErr     error
}

func (c *fullContribution) Configure(ctx context.Context) error {
	c.rec.add(c.name + ".configure")
	return c.configureErr
}

func (c *fullContribution) OnStart(ctx context.Context) error {
	c.rec.add(c.name + ".start")
	return c.startErr
}

func (c *fullContribution) OnStop() {
	c.rec.add(c.name + ".stop")
}

type stopOnly struct {
	rec *recorder
}

func (s stopOnly) OnStop() { s.rec.add("stopOnly.stop") }

func newTestApp(t *testing.T) *Application {
	t.Helper()
	app, err := NewApplication(logger.Discard())
	require.NoError(t, err)
	return app
}

func runApp(t *testing.T, app *Application) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("application did not return")
		return nil
	}
}

func TestNewApplication_NilLogger(t *testing.T) {
	_, err := NewApplication(nil)
	assert.Error(t, err)
}

func TestRegister_RejectsNonContribution(t *testing.T) {
	app := newTestApp(t)
	err := app.Register(struct{}{})
	assert.ErrorIs(t, err, ErrNotAContribution)
}

func TestApplication_LifecycleOrder(t *testing.T) {
	rec := &recorder{}
	app := newTestApp(t)
	require.NoError(t, app.Register(&fullContribution{name: "a", rec: rec}))
	require.NoError(t, app.Register(stopOnly{rec: rec}))
	require.NoError(t, app.Register(&fullContribution{name: "b", rec: rec}))
	assert.Equal(t, AppStateUnknown, app.GetState())

	cancel, done := runApp(t, app)
	assert.Eventually(t, func() bool { return app.GetState() == AppStateStarted }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, app.Register(stopOnly{rec: rec}), ErrAlreadyStarted)

	cancel()
	require.NoError(t, waitRun(t, done))

	assert.Equal(t, []string{
		"a.configure", "b.configure",
		"a.start", "b.start",
		"b.stop", "stopOnly.stop", "a.stop",
	}, rec.list())
	assert.Equal(t, AppStateStopped, app.GetState())
}

func TestApplication_ConfigureErrorAbortsStart(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	app := newTestApp(t)
	require.NoError(t, app.Register(&fullContribution{name: "a", rec: rec, configureErr: boom}))
	require.NoError(t, app.Register(&fullContribution{name: "b", rec: rec}))

	err := app.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a.configure"}, rec.list())
	assert.Equal(t, AppStateStopped, app.GetState())
}

func TestApplication_StartErrorStops(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	app := newTestApp(t)
	require.NoError(t, app.Register(&fullContribution{name: "a", rec: rec}))
	require.NoError(t, app.Register(&fullContribution{name: "b", rec: rec, startErr: boom}))

	err := app.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{
		"a.configure", "b.configure",
		"a.start", "b.start",
		"b.stop", "a.stop",
	}, rec.list())
}

func TestApplication_RunTwice(t *testing.T) {
	app := newTestApp(t)
	cancel, done := runApp(t, app)
	assert.Eventually(t, func() bool { return app.GetState() == AppStateStarted }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, app.Run(context.Background()), ErrAlreadyStarted)
	cancel()
	require.NoError(t, waitRun(t, done))
}

func TestApplication_NoDialBeforeToken(t *testing.T) {
	srv := wstest.NewServer(t)
	token := utils.NewDeferred[electron.SecurityToken]()

	cfg := Config{}
	cfg.System.Network.Transport = "websocket"
	cfg.System.Network.Websocket = &WebsocketConfig{
		URL:            srv.URL,
		ReconnectDelay: 10 * time.Millisecond,
	}
	provider, err := NewConnectionProvider(cfg, token, logger.Discard())
	require.NoError(t, err)
	listener, err := NewChannelListener(provider, []string{"/services/echo"}, logger.Discard())
	require.NoError(t, err)

	app := newTestApp(t)
	require.NoError(t, app.Register(provider))
	require.NoError(t, app.Register(listener))
	cancel, done := runApp(t, app)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, AppStateConfiguring, app.GetState())
	assert.Empty(t, srv.Requests(), "no dial before the token resolves")

	token.Resolve(electron.SecurityToken{Value: "abc123"})

	assert.Eventually(t, func() bool { return listener.Opened("/services/echo") == 1 }, 2*time.Second, 10*time.Millisecond)
	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "abc123", reqs[0].URL.Query().Get(electron.SecurityTokenField))

	cancel()
	require.NoError(t, waitRun(t, done))
	assert.True(t, provider.Stopping())
	assert.Empty(t, provider.Channels())
}
