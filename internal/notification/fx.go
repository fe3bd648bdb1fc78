package notification

import (
	"github.com/smallbiznis/gymledger/internal/notification/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.ledger",
	fx.Provide(repository.Provide),
	fx.Provide(repository.NewLedger),
)
