package providers

import (
	"context"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/treewatch/treewatch/internal/config"
	"github.com/treewatch/treewatch/internal/crawler"
	"github.com/treewatch/treewatch/internal/logger"
	"github.com/treewatch/treewatch/internal/ratelimit"
	"github.com/treewatch/treewatch/internal/registry"
	"github.com/treewatch/treewatch/internal/root"
	"github.com/treewatch/treewatch/internal/watcher"
)

// RegistryHandle wraps the root registry with shutdown capability.
type RegistryHandle struct {
	*registry.Registry
}

// Shutdown implements do.Shutdownable. Roots are stopped but stay in the
// state store, so the next start watches them again.
func (h *RegistryHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Registry.Shutdown(ctx)
}

// ProvideRegistry provides the root registry and re-watches the roots a
// previous run recorded.
func ProvideRegistry(i do.Injector) (*RegistryHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	crawlerOpts := crawler.Options{IgnorePatterns: cfg.Watch.Ignore}
	c := crawler.New(log.Logger, crawlerOpts)
	opts := c.Options()

	source := watcher.NewSource(log.Logger, watcher.Options{
		Backend: cfg.Watch.Backend,
		// Ignored directories and version control metadata are not listed,
		// so there is nothing to watch below them.
		Skip: func(path string) bool {
			base := filepath.Base(path)
			return opts.Ignored(base) || opts.Opaque(base)
		},
	})

	rootCfg := root.Config{
		Crawler:       c,
		Source:        source,
		Limiter:       ratelimit.New(cfg.Watch.RecrawlRate, cfg.Watch.RecrawlBurst),
		MaxAge:        cfg.Journal.MaxAge,
		PruneInterval: cfg.Journal.PruneInterval,
		SettleTimeout: cfg.Watch.SettleTimeout,
	}

	// A nil *store.Store must not become a non-nil interface.
	var st registry.Store
	if storeHandle.Store != nil {
		st = storeHandle.Store
	}

	ctx := context.Background()
	reg, err := registry.New(ctx, log.Logger, rootCfg, st)
	if err != nil {
		return nil, err
	}

	if err := reg.Restore(ctx); err != nil {
		log.Warn("Failed to restore watched roots", "error", err)
	}

	log.Info("Root registry ready", "roots", reg.Len())

	return &RegistryHandle{Registry: reg}, nil
}
