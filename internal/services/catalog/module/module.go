// Package module provides the catalog module implementation
package module

import (
	"gedigo/internal/adapters/archive/cmr"
	"gedigo/internal/modkit"
	"gedigo/internal/modkit/httpkit"
	"gedigo/internal/services/catalog/domain"
	"gedigo/internal/services/catalog/service"
)

// Ports defines the catalog module ports
type Ports struct {
	Resolver domain.ResolverPort
}

// Module implements the catalog module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the catalog module, wiring the archive search client from
// config under CORE_CATALOG_*
func New(deps modkit.Deps) *Module {
	opts := FromConfig(deps.Cfg)

	client := cmr.New(
		opts.HTTPTimeout,
		cmr.WithPageSize(opts.PageSize),
		cmr.WithProvider(opts.Provider),
	)

	svc := service.New(client, service.Config{
		PageSize:   opts.PageSize,
		MaxRetries: opts.MaxRetries,
		RetryBase:  opts.RetryBase,
		TileJobs:   opts.TileJobs,
	})

	m := &Module{deps: deps}
	m.ports = Ports{Resolver: svc}
	return m
}

// Name returns the module name
func (m *Module) Name() string { return "catalog" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module prefix (none)
func (m *Module) Prefix() string { return "" }

// MountRoutes is a no-op as catalog has no routes
func (m *Module) MountRoutes(_ httpkit.Router) {}
