package subscription

import (
	"github.com/shelfsync/shelfsync/internal/subscription/repository"
	"github.com/shelfsync/shelfsync/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
