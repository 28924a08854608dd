package bootd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pxepilot/pkg/db"
	"pxepilot/pkg/ipxe"
	"pxepilot/pkg/render"
	"pxepilot/services/nodes"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (p *recordingPublisher) Publish(_ context.Context, subj string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subj)
	p.payloads = append(p.payloads, v)
	return nil
}

type failingStore struct {
	nodes.Store
}

func (failingStore) UpsertOnBoot(context.Context, string) (nodes.Node, bool, error) {
	return nodes.Node{}, false, errors.New("disk on fire")
}

type fixture struct {
	router   chi.Router
	store    *nodes.GormStore
	events   *recordingPublisher
	server   *Server
	registry *prometheus.Registry
}

func newStore(t *testing.T) *nodes.GormStore {
	t.Helper()
	ctx := context.Background()
	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "pxe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })
	_, err = db.Migrate(ctx, database)
	require.NoError(t, err)

	store, err := nodes.NewGormStore(database)
	require.NoError(t, err)
	return store
}

func newScripts(t *testing.T) *ipxe.Scripts {
	t.Helper()
	engine, err := render.New()
	require.NoError(t, err)
	scripts, err := ipxe.NewScripts(engine, ipxe.InstallerURLs{
		Kernel:      "http://pxe-pilot/vmlinuz",
		Initrd:      "http://pxe-pilot/initrd",
		Autoinstall: "http://pxe-pilot/autoinstall/${mac}?ip=${ip}",
	})
	require.NoError(t, err)
	return scripts
}

func newFixture(t *testing.T, store nodes.Store) *fixture {
	t.Helper()

	f := &fixture{
		events:   &recordingPublisher{},
		registry: prometheus.NewRegistry(),
	}
	if store == nil {
		f.store = newStore(t)
		store = f.store
	}

	server, err := NewServer(Options{
		Store:        store,
		Scripts:      newScripts(t),
		ChainBaseURL: "http://pxe-pilot/",
		Events:       f.events,
		Logger:       zerolog.Nop(),
		Registerer:   f.registry,
	})
	require.NoError(t, err)
	f.server = server

	f.router = chi.NewRouter()
	require.NoError(t, server.RegisterRoutes(f.router))
	return f
}

func (f *fixture) get(target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestChain(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.get("/chain", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	assert.True(t, strings.HasPrefix(body, "#!ipxe\n"))
	assert.Contains(t, body, "chain http://pxe-pilot/boot?mac=${mac} || goto fallback")
	assert.Contains(t, body, ":fallback")
	assert.Contains(t, body, "\nexit\n")
	assert.NotContains(t, body, "sanboot")
}

func TestBootRejectsInvalidMAC(t *testing.T) {
	f := newFixture(t, nil)

	for _, target := range []string{"/boot", "/boot?mac=", "/boot?mac=not-a-mac", "/boot?mac=aa:bb:cc"} {
		rr := f.get(target, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
		assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
		assert.Contains(t, strings.ToLower(rr.Body.String()), "mac")
	}

	all, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 4.0, testutil.ToFloat64(f.server.metrics.bootRequests.WithLabelValues(outcomeInvalid)))
}

func TestBootUnknownMACServesLocalDisk(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.get("/boot?mac=AA-BB-CC-DD-EE-FF", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	assert.True(t, strings.HasPrefix(body, "#!ipxe"))
	assert.Contains(t, body, "sanboot")
	assert.Contains(t, body, "0x80")
	assert.NotContains(t, body, "kernel")

	node, err := f.store.FindByMAC(context.Background(), "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.False(t, node.Reinstall)
	assert.NotNil(t, node.LastSeen)

	assert.Equal(t, []string{nodes.SubjectDiscovered, nodes.SubjectBooted}, f.events.subjects)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.server.metrics.discovered))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.server.metrics.bootRequests.WithLabelValues(nodes.ScriptLocalDisk)))
}

func TestBootReinstallServesInstaller(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.store.SetReinstall(context.Background(), "11:22:33:44:55:66", true, "test")
	require.NoError(t, err)

	rr := f.get("/boot?mac=112233445566", map[string]string{"X-Forwarded-For": "10.0.0.7, 172.16.0.1"})
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.True(t, strings.HasPrefix(body, "#!ipxe\n"))
	assert.Contains(t, body, "kernel http://pxe-pilot/vmlinuz autoinstall ds=nocloud-net;s=http://pxe-pilot/autoinstall/11%3A22%3A33%3A44%3A55%3A66?ip=10.0.0.7\n")
	assert.Contains(t, body, "initrd http://pxe-pilot/initrd\n")
	assert.True(t, strings.HasSuffix(body, "boot\n"))

	require.Len(t, f.events.payloads, 1)
	booted, ok := f.events.payloads[0].(nodes.BootedEvent)
	require.True(t, ok)
	assert.Equal(t, nodes.ScriptInstaller, booted.Script)
	assert.Equal(t, "10.0.0.7", booted.ClientIP)
}

func TestRepeatedBootKeepsSingleNode(t *testing.T) {
	f := newFixture(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr := f.get("/boot?mac=aa:bb:cc:dd:ee:ff", nil)
			assert.Equal(t, http.StatusOK, rr.Code)
		}()
	}
	wg.Wait()

	all, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.server.metrics.discovered))
}

func TestBootStoreFailure(t *testing.T) {
	f := newFixture(t, failingStore{})

	rr := f.get("/boot?mac=aa:bb:cc:dd:ee:ff", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
	assert.Empty(t, f.events.subjects)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name      string
		forwarded string
		remote    string
		want      string
	}{
		{name: "peer with port", remote: "192.168.1.20:51234", want: "192.168.1.20"},
		{name: "ipv6 peer", remote: "[fe80::1]:8000", want: "fe80::1"},
		{name: "peer without port", remote: "192.168.1.20", want: "192.168.1.20"},
		{name: "single forwarded", forwarded: "10.0.0.1", remote: "127.0.0.1:1", want: "10.0.0.1"},
		{name: "forwarded chain", forwarded: " 10.0.0.1 , 10.0.0.2", remote: "127.0.0.1:1", want: "10.0.0.1"},
		{name: "empty first forwarded", forwarded: " , 10.0.0.2", remote: "127.0.0.1:1", want: "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/boot", http.NoBody)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)

	_, err = NewServer(Options{Store: failingStore{}, Scripts: newScripts(t)})
	assert.Error(t, err)
}
