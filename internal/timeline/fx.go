package timeline

import (
	"github.com/craftlane/craftlane/internal/timeline/repository"
	"github.com/craftlane/craftlane/internal/timeline/service"
	"go.uber.org/fx"
)

var Module = fx.Module("timeline.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
