// Package sagabuild wires the saga runtime from config. It lives outside
// package saga so the Postgres store packages can depend on saga types
// without creating an import cycle.
package sagabuild

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"fulfillment/internal/db/intlogdb"
	"fulfillment/internal/db/inventorydb"
	"fulfillment/internal/db/ordersdb"
	"fulfillment/internal/db/paymentsdb"
	"fulfillment/internal/db/sagadb"
	"fulfillment/internal/intlog"
	"fulfillment/internal/inventory"
	"fulfillment/internal/orders"
	"fulfillment/internal/payments"
	"fulfillment/internal/saga"
)

// BuildConfig drives service wiring at startup.
type BuildConfig struct {
	// PostgresDSN selects the Postgres stores when set. Empty falls back
	// to the in-memory twins.
	PostgresDSN string
	// AllowStubs swaps the collaborator clients for always-succeeding
	// stubs. Refused outright when Environment is "production".
	AllowStubs  bool
	Environment string

	SourceSystem string
	Audit        saga.AuditSink
	Logger       *slog.Logger

	// Per-collaborator breaker and limiter settings. Zero values take
	// the defaults below.
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	LimiterRate         time.Duration
	LimiterBurst        int
}

// Runtime bundles the orchestrator with the stores the facade serves
// directly, outside the saga itself.
type Runtime struct {
	Service   *saga.Service
	Inventory inventory.Store
	Orders    orders.Store
	Payments  payments.Store
	Ledger    saga.LedgerStore
	IntLog    intlog.Recorder
}

// Build wires a Runtime from config. If the DSN is empty or Postgres
// initialization fails, it falls back to the in-memory stores. The
// returned cleanup closes any external resources.
func Build(ctx context.Context, cfg BuildConfig) (*Runtime, func(), error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cleanup := func() {}

	var (
		inventoryStore inventory.Store = inventory.NewMemoryStore()
		orderStore     orders.Store    = orders.NewMemoryStore(nil, nil)
		paymentStore   payments.Store  = payments.NewMemoryStore(nil, nil)
		ledgerStore    saga.LedgerStore = saga.NewMemoryLedger()
		logStore       intlog.Recorder = intlog.NewMemoryRecorder()
	)

	if cfg.PostgresDSN != "" {
		sqlDB, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Warn("postgres open failed, falling back to in-memory stores", "error", err)
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			pg, err := buildPostgresStores(setupCtx, sqlDB)
			if err != nil {
				logger.Warn("postgres init failed, falling back to in-memory stores", "error", err)
				_ = sqlDB.Close()
			} else {
				logger.Info("postgres stores enabled")
				inventoryStore = pg.inventory
				orderStore = pg.orders
				paymentStore = pg.payments
				ledgerStore = pg.ledger
				logStore = pg.intlog
				cleanup = func() {
					if err := sqlDB.Close(); err != nil {
						logger.Warn("close postgres", "error", err)
					}
				}
			}
		}
	}

	var (
		inventoryClient saga.InventoryClient = saga.NewLocalInventoryClient(inventoryStore)
		orderClient     saga.OrderClient     = saga.NewLocalOrderClient(orderStore)
		paymentClient   saga.PaymentClient   = saga.NewLocalPaymentClient(paymentStore)
	)

	if cfg.AllowStubs {
		if cfg.Environment == "production" {
			logger.Error("stub collaborators requested in production, refusing")
		} else {
			logger.Warn("stub collaborators enabled, all downstream calls will succeed",
				"environment", cfg.Environment)
			inventoryClient = saga.StubInventoryClient{}
			orderClient = &saga.StubOrderClient{}
			paymentClient = &saga.StubPaymentClient{}
		}
	}

	breakerCfg := saga.CircuitBreakerConfig{
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
	}
	if breakerCfg.MaxFailures == 0 {
		breakerCfg.MaxFailures = 5
	}
	if breakerCfg.ResetTimeout == 0 {
		breakerCfg.ResetTimeout = 2 * time.Second
	}
	limiterRate := cfg.LimiterRate
	if limiterRate == 0 {
		limiterRate = 10 * time.Millisecond
	}
	limiterBurst := cfg.LimiterBurst
	if limiterBurst == 0 {
		limiterBurst = 50
	}
	newLimiter := func() *saga.RateLimiter { return saga.NewRateLimiter(limiterRate, limiterBurst) }

	// Each collaborator gets its own breaker so one failing dependency
	// does not trip the others.
	service := saga.NewService(saga.ServiceConfig{
		Inventory:    saga.NewReliableInventoryClient(inventoryClient, newLimiter(), saga.NewCircuitBreaker(breakerCfg)),
		Orders:       saga.NewReliableOrderClient(orderClient, newLimiter(), saga.NewCircuitBreaker(breakerCfg)),
		Payments:     saga.NewReliablePaymentClient(paymentClient, newLimiter(), saga.NewCircuitBreaker(breakerCfg)),
		Ledger:       ledgerStore,
		IntLog:       intlog.NewSafeRecorder(logStore, logger),
		Audit:        cfg.Audit,
		Logger:       logger,
		SourceSystem: cfg.SourceSystem,
	})

	return &Runtime{
		Service:   service,
		Inventory: inventoryStore,
		Orders:    orderStore,
		Payments:  paymentStore,
		Ledger:    ledgerStore,
		IntLog:    logStore,
	}, cleanup, nil
}

type postgresStores struct {
	inventory *inventorydb.InventoryStore
	orders    *ordersdb.OrderStore
	payments  *paymentsdb.PaymentStore
	ledger    *sagadb.LedgerStore
	intlog    *intlogdb.LogStore
}

func buildPostgresStores(ctx context.Context, db *sql.DB) (postgresStores, error) {
	inv, err := inventorydb.NewInventoryStoreWithSchema(ctx, db)
	if err != nil {
		return postgresStores{}, err
	}
	ord, err := ordersdb.NewOrderStoreWithSchema(ctx, db)
	if err != nil {
		return postgresStores{}, err
	}
	pay, err := paymentsdb.NewPaymentStoreWithSchema(ctx, db)
	if err != nil {
		return postgresStores{}, err
	}
	ledger, err := sagadb.NewLedgerStoreWithSchema(ctx, db)
	if err != nil {
		return postgresStores{}, err
	}
	logs, err := intlogdb.NewLogStoreWithSchema(ctx, db)
	if err != nil {
		return postgresStores{}, err
	}
	return postgresStores{inventory: inv, orders: ord, payments: pay, ledger: ledger, intlog: logs}, nil
}
