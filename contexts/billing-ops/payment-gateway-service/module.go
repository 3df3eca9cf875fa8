package paymentgatewayservice

import (
	"log/slog"

	httpadapter "platefund/contexts/billing-ops/payment-gateway-service/adapters/http"
	"platefund/contexts/billing-ops/payment-gateway-service/adapters/memory"
	"platefund/contexts/billing-ops/payment-gateway-service/application"
	"platefund/contexts/billing-ops/payment-gateway-service/ports"
)

type Module struct {
	Service application.Service
	Handler httpadapter.Handler
	Store   *memory.Store
}

type Dependencies struct {
	Ledger ports.LedgerStore
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Secret []byte
	Logger *slog.Logger
}

func NewModule(deps Dependencies) Module {
	service := application.Service{
		Ledger: deps.Ledger,
		Clock:  deps.Clock,
		IDGen:  deps.IDGen,
		Secret: deps.Secret,
		Logger: deps.Logger,
	}
	return Module{
		Service: service,
		Handler: httpadapter.Handler{
			Service: service,
			Logger:  deps.Logger,
		},
	}
}

func NewInMemoryModule(secret []byte, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Ledger: store,
		Clock:  store,
		IDGen:  store,
		Secret: secret,
		Logger: logger,
	})
	module.Store = store
	return module
}
