package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	paymentgateway "platefund/contexts/billing-ops/payment-gateway-service"
	billingpostgres "platefund/contexts/billing-ops/payment-gateway-service/adapters/postgres"
	settlement "platefund/contexts/funding-core/settlement-service"
	settlementpostgres "platefund/contexts/funding-core/settlement-service/adapters/postgres"
	"platefund/contexts/funding-core/settlement-service/application/workers"
	settlementports "platefund/contexts/funding-core/settlement-service/ports"
	transparency "platefund/contexts/funding-core/transparency-service"
	transparencypostgres "platefund/contexts/funding-core/transparency-service/adapters/postgres"
	transparencyports "platefund/contexts/funding-core/transparency-service/ports"
	"platefund/internal/platform/chain"
	"platefund/internal/platform/config"
	"platefund/internal/platform/db"
	"platefund/internal/platform/httpserver"
	"platefund/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server      *httpserver.Server
	reconciler  *workers.ChainReconciler
	relay       workers.OutboxRelay
	resyncBlock uint64
	postgres    *db.Postgres
	logger      *slog.Logger
}

type WorkerApp struct {
	postgres     *db.Postgres
	outboxRelay  workers.OutboxRelay
	pollInterval time.Duration
	logger       *slog.Logger
}

// feedProjector bridges settlement release projections into the
// transparency read model.
type feedProjector struct {
	transparency transparency.Module
}

func (p feedProjector) ProjectRelease(ctx context.Context, projection settlementports.FeedProjection) error {
	return p.transparency.Service.ProjectRelease(ctx, transparencyports.FeedProjectionInput{
		AllocationID: projection.AllocationID,
		SchoolName:   projection.SchoolName,
		CatererName:  projection.CatererName,
		Region:       projection.Region,
		AmountMinor:  projection.AmountMinor,
		Currency:     projection.Currency,
		Portions:     projection.Portions,
		DeliveryDate: projection.DeliveryDate,
		ReleasedAt:   projection.ReleasedAt,
		TxHash:       projection.TxHash,
		BlockHeight:  projection.BlockHeight,
	})
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("WEBHOOK_SECRET is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	node := chain.NewNode(logger)
	bus := messaging.NewBus(logger)

	transparencyRepo := transparencypostgres.NewRepository(pg.DB, logger)
	transparencyModule := transparency.NewModule(transparency.Dependencies{
		Repository: transparencyRepo,
		Clock:      transparencypostgres.SystemClock{},
		Logger:     logger,
	})

	settlementRepo := settlementpostgres.NewRepository(pg.DB, logger)
	settlementModule := settlement.NewModule(settlement.Dependencies{
		Repository:  settlementRepo,
		Cursors:     settlementRepo,
		Outbox:      settlementRepo,
		OutboxQueue: settlementRepo,
		Escrow:      node,
		ChainEvents: node,
		Feed:        feedProjector{transparency: transparencyModule},
		Publisher:   bus,
		Clock:       settlementpostgres.SystemClock{},
		IDGen:       settlementpostgres.UUIDGenerator{},
		Logger:      logger,
	})
	settlementModule.OutboxRelay.BatchSize = cfg.OutboxBatchSize
	settlementModule.OutboxRelay.PollInterval = cfg.OutboxPollInterval

	billingRepo := billingpostgres.NewRepository(pg.DB, logger)
	billingModule := paymentgateway.NewModule(paymentgateway.Dependencies{
		Ledger: billingRepo,
		Clock:  billingpostgres.SystemClock{},
		IDGen:  billingpostgres.UUIDGenerator{},
		Secret: []byte(cfg.WebhookSecret),
		Logger: logger,
	})

	server := httpserver.New(settlementModule, transparencyModule, billingModule, logger, httpserver.Options{
		Addr:         normalizeAddr(cfg.HTTPPort),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	})
	return &APIApp{
		server:      server,
		reconciler:  settlementModule.Reconciler,
		relay:       settlementModule.OutboxRelay,
		resyncBlock: cfg.ReconcilerStartBlock,
		postgres:    pg,
		logger:      logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	bus := messaging.NewBus(logger)
	repo := settlementpostgres.NewRepository(pg.DB, logger)
	return &WorkerApp{
		postgres: pg,
		outboxRelay: workers.OutboxRelay{
			Outbox:    repo,
			Publisher: bus,
			Clock:     settlementpostgres.SystemClock{},
			BatchSize: cfg.OutboxBatchSize,
			Logger:    logger,
		},
		pollInterval: cfg.OutboxPollInterval,
		logger:       logger,
	}, nil
}

func (a *APIApp) Run(ctx context.Context) error {
	if err := a.reconciler.Start(ctx); err != nil {
		return err
	}
	if a.resyncBlock > 0 {
		report, err := a.reconciler.Resync(ctx, a.resyncBlock, 0)
		if err != nil {
			return err
		}
		a.logger.Info("startup resync completed",
			"event", "bootstrap_resync_completed",
			"module", "internal/app/bootstrap",
			"layer", "platform",
			"from_block", a.resyncBlock,
			"locked", report.Locked,
			"released", report.Released,
			"cancelled", report.Cancelled,
			"skipped", report.Skipped,
		)
	}
	go a.relay.Run(ctx)

	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	return a.server.Start(ctx)
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	for {
		if _, err := w.outboxRelay.DrainOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
