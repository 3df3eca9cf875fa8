package settlementservice

import (
	"log/slog"

	httpadapter "platefund/contexts/funding-core/settlement-service/adapters/http"
	"platefund/contexts/funding-core/settlement-service/adapters/memory"
	"platefund/contexts/funding-core/settlement-service/application/commands"
	"platefund/contexts/funding-core/settlement-service/application/queries"
	"platefund/contexts/funding-core/settlement-service/application/workers"
	"platefund/contexts/funding-core/settlement-service/ports"
)

type Module struct {
	Handler     httpadapter.Handler
	Reconciler  *workers.ChainReconciler
	OutboxRelay workers.OutboxRelay
	Store       *memory.Store
}

type Dependencies struct {
	Repository  ports.Repository
	Cursors     ports.CursorStore
	Outbox      ports.OutboxWriter
	OutboxQueue ports.OutboxRepository
	Escrow      ports.EscrowGateway
	ChainEvents ports.ChainEventSource
	Feed        ports.FeedProjector
	Publisher   ports.EventPublisher
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Logger      *slog.Logger
}

func NewModule(deps Dependencies) Module {
	commandUseCase := commands.UseCase{
		Repository: deps.Repository,
		Escrow:     deps.Escrow,
		Feed:       deps.Feed,
		Outbox:     deps.Outbox,
		Clock:      deps.Clock,
		IDGen:      deps.IDGen,
		Logger:     deps.Logger,
	}
	queryUseCase := queries.UseCase{
		Repository: deps.Repository,
		Logger:     deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Commands: commandUseCase,
			Queries:  queryUseCase,
			Logger:   deps.Logger,
		},
		Reconciler: &workers.ChainReconciler{
			Source:     deps.ChainEvents,
			Repository: deps.Repository,
			Cursors:    deps.Cursors,
			Feed:       deps.Feed,
			Outbox:     deps.Outbox,
			Clock:      deps.Clock,
			IDGen:      deps.IDGen,
			Logger:     deps.Logger,
		},
		OutboxRelay: workers.OutboxRelay{
			Outbox:    deps.OutboxQueue,
			Publisher: deps.Publisher,
			Clock:     deps.Clock,
			Logger:    deps.Logger,
		},
	}
}

func NewInMemoryModule(
	escrow ports.EscrowGateway,
	chainEvents ports.ChainEventSource,
	feed ports.FeedProjector,
	publisher ports.EventPublisher,
	logger *slog.Logger,
) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Repository:  store,
		Cursors:     store,
		Outbox:      store,
		OutboxQueue: store,
		Escrow:      escrow,
		ChainEvents: chainEvents,
		Feed:        feed,
		Publisher:   publisher,
		Clock:       store,
		IDGen:       store,
		Logger:      logger,
	})
	module.Store = store
	return module
}
