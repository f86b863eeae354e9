package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treewatch/treewatch/internal/config"
	"github.com/treewatch/treewatch/internal/logger"
	"github.com/treewatch/treewatch/internal/watcher"
)

func testConfig(t *testing.T, statePath string) *config.Config {
	t.Helper()
	return &config.Config{
		App:    config.AppConfig{Environment: "development"},
		Logger: config.LoggerConfig{Level: "error", MaxSizeMB: 1},
		Server: config.ServerConfig{
			Addr:        "127.0.0.1:0",
			ReadTimeout: 5 * time.Second,
			IdleTimeout: 5 * time.Second,
		},
		State:   config.StateConfig{Path: statePath},
		Journal: config.JournalConfig{MaxAge: time.Hour, PruneInterval: time.Minute},
		Watch: config.WatchConfig{
			SyncTimeout:   5 * time.Second,
			SettleTimeout: 5 * time.Second,
			RecrawlRate:   1,
			RecrawlBurst:  2,
			Backend:       watcher.BackendFsnotify,
		},
	}
}

func newInjector(cfg *config.Config) *do.RootScope {
	injector := do.New()
	do.ProvideValue(injector, cfg)
	do.Provide(injector, ProvideLogger)
	do.Provide(injector, ProvideStore)
	do.Provide(injector, ProvideRegistry)
	do.Provide(injector, ProvideSSEManager)
	do.Provide(injector, ProvideHTTPServer)
	return injector
}

func TestProvideStore_DisabledPersistence(t *testing.T) {
	injector := newInjector(testConfig(t, ""))
	defer func() { _ = injector.Shutdown() }()

	handle, err := do.Invoke[*StoreHandle](injector)
	require.NoError(t, err)
	assert.Nil(t, handle.Store)
	assert.NoError(t, handle.Shutdown())

	reg, err := do.Invoke[*RegistryHandle](injector)
	require.NoError(t, err)
	assert.Zero(t, reg.Len())
}

func TestProvideRegistry_RestoresAcrossRestarts(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state")
	dir := t.TempDir()

	first := newInjector(testConfig(t, statePath))
	reg, err := do.Invoke[*RegistryHandle](first)
	require.NoError(t, err)
	_, err = reg.Watch(context.Background(), dir)
	require.NoError(t, err)
	_ = first.Shutdown()

	second := newInjector(testConfig(t, statePath))
	defer func() { _ = second.Shutdown() }()
	reg, err = do.Invoke[*RegistryHandle](second)
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	rt, err := reg.Get(want)
	require.NoError(t, err)
	assert.Equal(t, want, rt.Path())
}

func TestProvideHTTPServer_ServesCommands(t *testing.T) {
	injector := newInjector(testConfig(t, ""))
	defer func() { _ = injector.Shutdown() }()

	handle, err := do.Invoke[*HTTPServerHandle](injector)
	require.NoError(t, err)
	require.NotNil(t, handle.Server)

	log := do.MustInvoke[*logger.Logger](injector)
	assert.NotNil(t, log)

	// The server binds 127.0.0.1:0; exercise the handler directly.
	body, err := json.Marshal(map[string]string{"path": t.TempDir()})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, "/api/v1/watch", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handle.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
