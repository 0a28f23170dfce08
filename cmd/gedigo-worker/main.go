package main

import (
	"context"
	"flag"
	"os"
	"strconv"

	"gedigo/internal/modkit"
	"gedigo/internal/modkit/module"
	"gedigo/internal/platform/config"
	"gedigo/internal/platform/logger"
	"gedigo/internal/platform/store"

	catalogmod "gedigo/internal/services/catalog/module"
	ingestmod "gedigo/internal/services/ingest/module"
	requestsmod "gedigo/internal/services/requests/module"
)

func mustSetEnv(key, val string) {
	if val != "" {
		_ = os.Setenv(key, val)
	}
}

func main() {
	root := config.New()
	pgCfg := root.Prefix("SERVICE_PGSQL_")
	chCfg := root.Prefix("SERVICE_CLICKHOUSE_")

	l := logger.Get()
	st, err := store.Open(context.Background(), store.Config{
		PG: store.PGConfig{
			Enabled:     true,
			URL:         pgCfg.MustString("DBURL"),
			MaxConns:    int32(pgCfg.MayInt("MAX_CONNS", 4)),
			SlowQueryMs: pgCfg.MayInt("SLOW_MS", 500),
			LogSQL:      pgCfg.MayBool("LOG_SQL", true),
		},
		CH: store.CHConfig{
			Enabled:    chCfg.MayBool("ENABLED", true),
			URL:        chCfg.MayString("DBURL", ""),
			LogSQL:     chCfg.MayBool("LOG_SQL", true),
			ClientName: "gedigo",
			ClientTag:  "worker",
		},
	}, store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	var (
		fRequest = flag.String("request", "", "process a single pending request by id and exit")
		fDrain   = flag.Bool("drain", false, "process pending requests until the queue is empty, then exit")

		fWorkers = flag.Int("workers", 0, "granule concurrency per request (overrides CORE_INGEST_WORKERS)")
		fLeases  = flag.Bool("leases", true, "use advisory leases to serialize per-granule work")
	)
	flag.Parse()

	if *fRequest != "" && *fDrain {
		l.Panic().Msg("-request and -drain are mutually exclusive")
	}

	// Shared deps for modules
	deps := modkit.Deps{
		Cfg: root,
		PG:  st.PG,
		CH:  st.CH,
		Log: *l,
	}

	// Surface opts to modules that read FromConfig
	if *fWorkers > 0 {
		mustSetEnv("CORE_INGEST_WORKERS", strconv.Itoa(*fWorkers))
	}
	mustSetEnv("CORE_INGEST_LEASES", map[bool]string{true: "1", false: "0"}[*fLeases])

	// Catalog and ingest first: requests needs their ports
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

	module.Register(catalog.Name(), catalog.Ports())
	module.Register(ingest.Name(), ingest.Ports())
	module.Register(requests.Name(), requests.Ports())

	ctx := context.Background()
	orch := requests.Ports().(requestsmod.ExportedPorts).Orchestrator

	switch {
	case *fRequest != "":
		if err := orch.RunOne(ctx, *fRequest); err != nil {
			l.Fatal().Err(err).Str("request_id", *fRequest).Msg("request failed")
		}

	case *fDrain:
		if err := orch.Run(ctx, true); err != nil {
			l.Fatal().Err(err).Msg("drain failed")
		}

	default:
		// long-running mode: claim and process requests as they arrive
		if err := orch.Run(ctx, false); err != nil {
			l.Fatal().Err(err).Msg("worker stopped")
		}
	}
}
