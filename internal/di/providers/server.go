package providers

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/treewatch/treewatch/internal/api"
	"github.com/treewatch/treewatch/internal/config"
	"github.com/treewatch/treewatch/internal/logger"
	"github.com/treewatch/treewatch/internal/sse"
)

// SSEManagerHandle wraps the subscription manager for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideSSEManager provides the server-sent events manager.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return &SSEManagerHandle{Manager: sse.NewManager(log.Logger)}, nil
}

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server. The listener is bound before
// returning so an address in use fails startup instead of a background
// goroutine.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	registryHandle := do.MustInvoke[*RegistryHandle](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	var pinger api.Pinger
	if storeHandle.Store != nil {
		pinger = storeHandle.Store
	}

	sseHandler := sse.NewHandler(sseHandle.Manager, registryHandle.Registry, log.Logger)
	handler := api.NewServer(registryHandle.Registry, pinger, sseHandler, sseHandle.Manager, api.Options{
		SyncTimeout: cfg.Watch.SyncTimeout,
	}, log.Logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Streams never go idle, so end them as soon as shutdown begins.
	srv.RegisterOnShutdown(func() {
		if err := sseHandle.Shutdown(); err != nil {
			log.Warn("Subscriptions did not drain", "error", err)
		}
	})

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, err
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv}, nil
}
