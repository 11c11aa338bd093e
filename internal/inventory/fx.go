package inventory

import (
	"github.com/shelfsync/shelfsync/internal/inventory/repository"
	"github.com/shelfsync/shelfsync/internal/inventory/service"
	"go.uber.org/fx"
)

var Module = fx.Module("inventory.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
