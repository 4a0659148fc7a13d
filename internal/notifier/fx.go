package notifier

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func provide(log *zap.Logger) Notifier {
	return NewLogNotifier(log)
}

var Module = fx.Module("notifier",
	fx.Provide(provide),
)
