package expiration

import "go.uber.org/fx"

var Module = fx.Module("expiration.reconciler",
	fx.Provide(NewReconciler),
)
