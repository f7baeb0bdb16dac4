package infrastructure

import (
	"context"

	"github.com/shopspring/decimal"

	"settlex/internal/config"
	"settlex/internal/engine"
	"settlex/internal/rates"
	"settlex/internal/repository"
	transportHTTP "settlex/internal/transport/http"
	transportNATS "settlex/internal/transport/nats"
	"settlex/internal/worker"
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
	bus := transportNATS.NewBus(nc)

	// Repositories.
	balances := repository.NewBalanceRepo(rdb, db, bus)
	deals := repository.NewDealRepo(db)
	requisites := repository.NewRequisiteRepo(db)
	notifications := repository.NewNotificationRepo(db)
	disputes := repository.NewDisputeRepo(db)
	settlements := repository.NewSettlementRepo(db)
	catalog := repository.NewCatalogRepo(db)

	// Engines.
	oracle := rates.New(rates.Config{
		FeedURL:  cfg.RateFeedURL,
		Symbol:   cfg.RateSymbol,
		TTL:      cfg.RateTTL,
		Fallback: mustDecimal(cfg.RateFallback),
	}, nil, rdb)

	allocator := engine.NewAllocator(requisites, balances, deals, catalog.Methods(), oracle, engine.AllocatorConfig{
		MinTraderBalance: mustDecimal(cfg.MinTraderBalance),
		DeviceLiveness:   cfg.DeviceLiveness,
	})

	callbacks := engine.NewCallbackDispatcher(nil, catalog.Callbacks())

	dealEngine := engine.NewDealEngine(deals, requisites, balances, allocator, callbacks, bus, cfg.DealTTL)
	matcher := engine.NewMatcher(notifications, catalog.Devices(), deals, dealEngine, engine.DefaultExtractors())
	disputeEngine := engine.NewDisputeEngine(disputes, deals, dealEngine, bus, engine.ShiftConfig{
		DayStartHour: cfg.ShiftDayStart,
		DayEndHour:   cfg.ShiftDayEnd,
		DaySLA:       cfg.ShiftDaySLA,
		NightSLA:     cfg.ShiftNightSLA,
	})
	settlementEngine := engine.NewSettlementEngine(settlements, catalog.Merchants(), catalog.Methods())

	// Long-running components.
	servers := []Server{
		transportNATS.NewHandler(matcher, nc),
		worker.NewBalanceWorker(db, nc),
		worker.NewSweeper(dealEngine, disputeEngine, cfg.SweepInterval),
	}
	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, dealEngine, disputeEngine, settlementEngine))
	}

	return NewApp(servers), runCleanup(cleanupFns), nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// runCleanup returns a single function that calls all cleanup functions in
// reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
