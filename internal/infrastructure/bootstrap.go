package infrastructure

import (
	"context"

	"credlo/internal/config"
	"credlo/internal/repository"
	"credlo/internal/service"
	transportHTTP "credlo/internal/transport/http"
	transportNATS "credlo/internal/transport/nats"
	"credlo/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	nc, err := connectNats(cfg.NatsAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, nc.Close)

	// ── Core wiring ────────────────────────────────────────────────────────
	store := repository.NewPostgresStore(db)
	bus := transportNATS.NewBus(nc)
	cache := repository.NewBalanceCache(rdb, cfg.BalanceCacheTTL)

	var svc service.CreditLedger = service.NewCreditService(store, bus,
		service.WithBalanceCache(cache))

	// ── Servers and workers ────────────────────────────────────────────────
	servers := []Server{
		transportNATS.NewHandler(svc, nc),
		worker.NewLowBalanceNotifier(nc, rdb, cfg.LowBalanceThreshold, cfg.LowBalanceCooldown),
		worker.NewResetScheduler(svc, store, cfg.ResetInterval, cfg.ResetBatch),
	}
	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, svc))
	}

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
