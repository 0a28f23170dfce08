// Package module provides the ingest module implementation
package module

import (
	"gedigo/internal/modkit"
	"gedigo/internal/modkit/httpkit"
	"gedigo/internal/modkit/repokit"

	"gedigo/internal/services/ingest/domain"
	"gedigo/internal/services/ingest/guardrails"
	"gedigo/internal/services/ingest/payload"
	"gedigo/internal/services/ingest/repo"
	"gedigo/internal/services/ingest/service"
)

// Ports defines the ingest module ports
type Ports struct {
	Runner  domain.RunnerPort
	Storage repokit.Binder[domain.StorageRepo]
}

// Module implements the ingest module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the ingest module.
// It wires up all the adapters and the service using config from deps.Cfg.
// It does not mount any routes
func New(deps modkit.Deps) *Module {
	opts := FromConfig(deps.Cfg)

	storeBinder := repo.NewPG()

	fetch := payload.NewFetcher(deps) // uses CORE_ARCHIVE_* from deps.Cfg
	reader := payload.NewReaderFactory()

	leaseFn := guardrails.MakeGranuleLease(deps, opts.LeaseTTL)

	// CH is optional; a nil sink disables telemetry cleanly
	var tel service.TelemetrySink
	if t := service.NewCHTelemetry(deps.CH); t != nil {
		tel = t
	}

	svc := service.New(
		repokit.TxRunner(deps.PG), storeBinder,
		fetch, reader,
		service.Config{
			Workers:         opts.Workers,
			DelayPerGranule: opts.DelayPerGranule,
			MaxRetries:      opts.MaxRetries,
			RetryBase:       opts.RetryBase,
			GranuleTimeout:  opts.GranuleTimeout,
			FetchTimeout:    opts.FetchTimeout,
			ReadTimeout:     opts.ReadTimeout,
			DBTimeout:       opts.DBTimeout,
			BatchSize:       opts.BatchSize,
			EnableLeases:    opts.EnableLeases,
		},
		leaseFn,
		tel,
	)

	m := &Module{deps: deps}
	m.ports = Ports{Runner: svc, Storage: storeBinder}
	return m
}

// Name returns the module name
func (m *Module) Name() string { return "ingest" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module prefix (none)
func (m *Module) Prefix() string { return "" }

// MountRoutes is a no-op as ingest has no routes
func (m *Module) MountRoutes(_ httpkit.Router) {}
