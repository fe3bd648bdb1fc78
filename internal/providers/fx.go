package providers

import (
	"github.com/smallbiznis/gymledger/internal/providers/email"
	"github.com/smallbiznis/gymledger/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
