// Package api provides the HTTP API for the application
package api

import (
	"gedigo/internal/platform/config"
	"gedigo/internal/platform/logger"
	phttp "gedigo/internal/platform/net/http"
	"gedigo/internal/platform/store"

	"gedigo/internal/modkit"
	"gedigo/internal/modkit/httpkit"
	"gedigo/internal/modkit/module"
	"gedigo/internal/modkit/swaggerkit"

	metamod "gedigo/internal/services/api/meta/module"
	catalogmod "gedigo/internal/services/catalog/module"
	ingestmod "gedigo/internal/services/ingest/module"
	requestsmod "gedigo/internal/services/requests/module"
)

// Options are the API options
type Options struct {
	Config         config.Conf
	Store          *store.Store
	Logger         *logger.Logger
	EnableSwagger  bool
	EnableProfiler bool
}

// Mount mounts the API service onto the given router
func Mount(r phttp.Router, opt Options) {
	// shared deps for modules
	deps := modkit.Deps{
		Cfg: opt.Config,
		PG:  opt.Store.PG,
		CH:  opt.Store.CH,
	}

	// Worker modules first: requests needs the catalog resolver and the
	// ingest runner ports
	catalog := catalogmod.New(deps)
	resolver := module.MustPortsOf[catalogmod.Ports](catalog).Resolver

	ingest := ingestmod.New(deps)
	ingestPorts := module.MustPortsOf[ingestmod.Ports](ingest)

	requests := requestsmod.New(
		deps,
		modkit.WithPorts(requestsmod.Ports{
			Resolver:    resolver,
			Runner:      ingestPorts.Runner,
			IngestStore: ingestPorts.Storage,
		}),
	)

	mods := []module.Module{
		metamod.New(deps),
		catalog, // include workers so their ports are registered
		ingest,
		requests, // API module that depends on the workers' ports
	}

	// versioned API with a common middleware stack
	httpkit.MountAPIV1(r, httpkit.CommonStack(), func(api httpkit.Router) {
		// Swagger + profiler
		swaggerkit.Mount(r, opt.EnableSwagger)
		phttp.MountProfiler(r, "/debug", opt.EnableProfiler)

		for _, m := range mods {
			// register each module's ports under its own name (for cross-module lookups)
			module.Register(m.Name(), m.Ports())

			// mount module routes under its Prefix()
			m.MountRoutes(api)
		}
	})
}
