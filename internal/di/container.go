// Package di provides dependency injection configuration for the treewatch daemon.
package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/treewatch/treewatch/internal/config"
	"github.com/treewatch/treewatch/internal/di/providers"
	"github.com/treewatch/treewatch/internal/logger"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// State
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideRegistry)

	// Server
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services. Roots recorded by a previous run are
// watched again before the server starts accepting commands.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, err := do.Invoke[*logger.Logger](injector); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	if _, err := do.Invoke[*providers.RegistryHandle](injector); err != nil {
		return fmt.Errorf("init registry: %w", err)
	}
	if _, err := do.Invoke[*providers.SSEManagerHandle](injector); err != nil {
		return fmt.Errorf("init subscriptions: %w", err)
	}
	if _, err := do.Invoke[*providers.HTTPServerHandle](injector); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	return nil
}
