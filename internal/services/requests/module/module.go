// Package module wires the ingest request orchestrator into the API using modkit
package module

import (
	"net/http"

	modkit "gedigo/internal/modkit"
	"gedigo/internal/modkit/httpkit"
	"gedigo/internal/modkit/repokit"

	catalogdom "gedigo/internal/services/catalog/domain"
	ingestdom "gedigo/internal/services/ingest/domain"
	rhttp "gedigo/internal/services/requests/http"
	"gedigo/internal/services/requests/domain"
	rrepo "gedigo/internal/services/requests/repo"
	rsvc "gedigo/internal/services/requests/service"
)

// Ports declares the injected worker port(s) for this module: the catalog
// resolver and the ingest runner come from their own modules
type Ports struct {
	Resolver    catalogdom.ResolverPort
	Runner      ingestdom.RunnerPort
	IngestStore repokit.Binder[ingestdom.StorageRepo]
}

// Module implements the requests module
type Module struct {
	deps   modkit.Deps
	name   string
	prefix string

	mws       []func(http.Handler) http.Handler
	ports     any
	subrouter func(httpkit.Router) httpkit.Router
	register  func(httpkit.Router)

	svc *rsvc.Service
}

// New constructs the requests module (config-driven, parity with other API modules)
func New(deps modkit.Deps, opts ...modkit.Option) *Module {
	b := modkit.Build(append([]modkit.Option{
		modkit.WithName("requests"),
		modkit.WithPrefix("/requests"),
	}, opts...)...)

	cfg := FromConfig(deps.Cfg)

	var injected Ports
	if p, ok := b.Ports.(Ports); ok {
		injected = p
	}
	if injected.Resolver == nil {
		panic("requests module requires Resolver port (from services/catalog)")
	}
	if injected.Runner == nil {
		panic("requests module requires Runner port (from services/ingest)")
	}
	if injected.IngestStore == nil {
		panic("requests module requires IngestStore binder (from services/ingest)")
	}

	svc := rsvc.New(
		repokit.TxRunner(deps.PG), rrepo.NewPG(),
		injected.Resolver, injected.Runner, injected.IngestStore,
		rsvc.Config{
			Workers:      cfg.Workers,
			PollInterval: cfg.PollInterval,
		},
	)

	m := &Module{
		deps:      deps,
		name:      b.Name,
		prefix:    b.Prefix,
		mws:       b.Mw,
		subrouter: b.Subrouter,
		svc:       svc,
	}
	m.ports = ExportedPorts{Orchestrator: svc}

	external := b.Register
	m.register = func(r httpkit.Router) {
		rhttp.Register(r, m.svc)
		if external != nil {
			external(r)
		}
	}
	return m
}

// ExportedPorts is what this module offers to other modules and commands
type ExportedPorts struct {
	Orchestrator domain.OrchestratorPort
}

// MountRoutes mounts the module routes on the given router
func (m *Module) MountRoutes(r httpkit.Router) {
	r.Route(m.prefix, func(rr httpkit.Router) {
		for _, mw := range m.mws {
			rr.Use(mw)
		}
		if m.subrouter != nil {
			rr = m.subrouter(rr)
		}
		if m.register != nil {
			m.register(rr)
		}
	})
}

// Name returns the module name
func (m *Module) Name() string { return m.name }

// Prefix returns the module route prefix
func (m *Module) Prefix() string { return m.prefix }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }
