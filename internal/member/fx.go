package member

import (
	"github.com/smallbiznis/gymledger/internal/member/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("member.directory",
	fx.Provide(repository.Provide),
	fx.Provide(repository.NewDirectory),
)
