package wallet

import (
	"github.com/craftlane/craftlane/internal/wallet/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet.repository",
	fx.Provide(repository.Provide),
)
