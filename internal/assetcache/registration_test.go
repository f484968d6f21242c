package assetcache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/atelier/internal/errors"
	"github.com/hpungsan/atelier/internal/logger"
)

func newTestRegistration(storage Storage, network http.RoundTripper) *Registration {
	return NewRegistration(storage, network, logger.Discard())
}

func TestRegistration_NoControllerPassesThrough(t *testing.T) {
	network := newFakeNetwork()
	reg := newTestRegistration(NewMemoryStorage(), network)

	_, body, err := get(t, reg, testOrigin+"/styles.css", nil)
	require.NoError(t, err)
	require.Equal(t, "asset /styles.css", body)
	require.Nil(t, reg.Controller())
	require.Equal(t, 1, network.callCount())
}

func TestRegistration_FirstRegisterTakesControl(t *testing.T) {
	storage := NewMemoryStorage()
	network := newFakeNetwork()
	reg := newTestRegistration(storage, network)
	p := newTestProxy(t, storage, network, "v1")

	require.NoError(t, reg.Register(context.Background(), p))
	require.Same(t, p, reg.Controller())
	require.Nil(t, reg.Waiting())

	before := network.callCount()
	_, _, err := get(t, reg, testOrigin+"/app.js", nil)
	require.NoError(t, err)
	require.Equal(t, before, network.callCount())
}

func TestRegistration_UpgradePurgesOldGenerationBeforeServing(t *testing.T) {
	storage := NewMemoryStorage()
	network := newFakeNetwork()
	reg := newTestRegistration(storage, network)
	ctx := context.Background()

	v1 := newTestProxy(t, storage, network, "v1")
	require.NoError(t, reg.Register(ctx, v1))

	// Some runtime entry lands in v1
	extra := testOrigin + "/extra.css"
	network.bodies[extra] = "extra v1"
	_, _, err := get(t, reg, extra, nil)
	require.NoError(t, err)

	network.bodies[testOrigin+"/styles.css"] = "styles v2"
	v2 := newTestProxy(t, storage, network, "v2")
	require.NoError(t, reg.Register(ctx, v2))

	require.Same(t, v2, reg.Controller())
	require.Equal(t, StateActive, v2.State())
	require.Equal(t, StateRedundant, v1.State())

	names, err := storage.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"atelier-v2"}, names)

	_, body, err := get(t, reg, testOrigin+"/styles.css", nil)
	require.NoError(t, err)
	require.Equal(t, "styles v2", body)
}

// gatedNetwork holds every request until release is closed.
type gatedNetwork struct {
	next    http.RoundTripper
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedNetwork(next http.RoundTripper) *gatedNetwork {
	return &gatedNetwork{next: next, started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
	return g.next.RoundTrip(req)
}

func TestRegistration_ActiveServesWhileNextInstalls(t *testing.T) {
	storage := NewMemoryStorage()
	network := newFakeNetwork()
	reg := newTestRegistration(storage, network)
	ctx := context.Background()

	v1 := newTestProxy(t, storage, network, "v1")
	require.NoError(t, reg.Register(ctx, v1))

	gate := newGatedNetwork(network)
	v2 := newTestProxy(t, storage, gate, "v2")
	registered := make(chan error, 1)
	go func() { registered <- reg.Register(ctx, v2) }()
	<-gate.started

	served := make(chan string, 1)
	go func() {
		req, err := http.NewRequest(http.MethodGet, testOrigin+"/styles.css", nil)
		if err != nil {
			served <- err.Error()
			return
		}
		resp, err := reg.RoundTrip(req)
		if err != nil {
			served <- err.Error()
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		served <- string(body)
	}()

	select {
	case body := <-served:
		require.Equal(t, "asset /styles.css", body)
	case <-time.After(2 * time.Second):
		close(gate.release)
		t.Fatal("cached asset from the active version blocked while the next version installs")
	}
	require.Same(t, v1, reg.Controller())
	require.Equal(t, StateInstalling, v2.State())

	close(gate.release)
	require.NoError(t, <-registered)
	require.Same(t, v2, reg.Controller())
	require.Equal(t, StateRedundant, v1.State())
}

func TestRegistration_WaitingUntilSkipWaitingMessage(t *testing.T) {
	storage := NewMemoryStorage()
	network := newFakeNetwork()
	reg := newTestRegistration(storage, network)
	ctx := context.Background()

	v1 := newTestProxy(t, storage, network, "v1")
	require.NoError(t, reg.Register(ctx, v1))

	v2, err := New(Options{
		Version:        "v2",
		Origin:         testOrigin,
		Storage:        storage,
		Network:        network,
		WaitForControl: true,
		Logger:         logger.Discard(),
	})
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, v2))

	require.Same(t, v1, reg.Controller())
	require.Same(t, v2, reg.Waiting())
	require.Equal(t, StateInstalled, v2.State())

	// Both generations exist while v2 waits
	names, err := storage.Keys(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"atelier-v1", "atelier-v2"}, names)

	require.NoError(t, reg.PostMessage(ctx, Message{Type: MessageSkipWaiting}))
	require.Same(t, v2, reg.Controller())
	require.Nil(t, reg.Waiting())

	names, err = storage.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"atelier-v2"}, names)
}

func TestRegistration_PostMessage(t *testing.T) {
	reg := newTestRegistration(NewMemoryStorage(), newFakeNetwork())

	// Nothing waiting: no-op
	require.NoError(t, reg.PostMessage(context.Background(), Message{Type: MessageSkipWaiting}))

	err := reg.PostMessage(context.Background(), Message{Type: "RELOAD"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestRegistration_FailedInstallKeepsController(t *testing.T) {
	storage := NewMemoryStorage()
	network := newFakeNetwork()
	reg := newTestRegistration(storage, network)
	ctx := context.Background()

	v1 := newTestProxy(t, storage, network, "v1")
	require.NoError(t, reg.Register(ctx, v1))

	network.setOffline(true)
	v2 := newTestProxy(t, storage, network, "v2")
	err := reg.Register(ctx, v2)
	require.True(t, errors.Is(err, errors.ErrInstallFailed))

	require.Same(t, v1, reg.Controller())
	require.Equal(t, StateRedundant, v2.State())

	// v1 still serves offline navigations
	_, body, err := get(t, reg, testOrigin+"/", http.Header{"Sec-Fetch-Dest": []string{"document"}})
	require.NoError(t, err)
	require.Equal(t, "asset /", body)
}

func TestRegistration_RegisterSameVersionIsNoop(t *testing.T) {
	storage := NewMemoryStorage()
	network := newFakeNetwork()
	reg := newTestRegistration(storage, network)
	ctx := context.Background()

	v1 := newTestProxy(t, storage, network, "v1")
	require.NoError(t, reg.Register(ctx, v1))
	before := network.callCount()

	require.NoError(t, reg.Register(ctx, newTestProxy(t, storage, network, "v1")))
	require.Same(t, v1, reg.Controller())
	require.Equal(t, before, network.callCount())
}

func TestRegistration_Status(t *testing.T) {
	storage := NewMemoryStorage()
	network := newFakeNetwork()
	reg := newTestRegistration(storage, network)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, newTestProxy(t, storage, network, "v1")))

	st, err := reg.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.Active)
	require.Equal(t, "v1", st.Active.Version)
	require.Equal(t, StateActive, st.Active.State)
	require.Nil(t, st.Waiting)
	require.Len(t, st.Generations, 1)
	require.Equal(t, GenerationStatus{Name: "atelier-v1", Entries: len(DefaultManifest), Installed: true}, st.Generations[0])
}

func TestHandler_MirrorsOriginThroughRegistration(t *testing.T) {
	storage := NewMemoryStorage()
	network := newFakeNetwork()
	reg := newTestRegistration(storage, network)
	require.NoError(t, reg.Register(context.Background(), newTestProxy(t, storage, network, "v1")))
	network.setOffline(true)

	origin, err := url.Parse(testOrigin)
	require.NoError(t, err)
	srv := httptest.NewServer(Handler(reg, origin, logger.Discard()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/styles.css")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "asset /styles.css", string(body))

	resp, err = http.Get(srv.URL + "/uncached.js")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
