package providers

import (
	"github.com/samber/do/v2"

	"github.com/treewatch/treewatch/internal/config"
	"github.com/treewatch/treewatch/internal/logger"
	"github.com/treewatch/treewatch/internal/store"
)

// StoreHandle wraps the state store with shutdown capability. Store is nil
// when persistence is disabled.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	if h.Store == nil {
		return nil
	}
	return h.Close()
}

// ProvideStore provides the state store holding the watch list.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.State.Path == "" {
		log.Info("State persistence disabled, the watch list will not survive a restart")
		return &StoreHandle{}, nil
	}

	st, err := store.New(cfg.State.Path, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("State store initialized", "path", cfg.State.Path)

	return &StoreHandle{Store: st}, nil
}
