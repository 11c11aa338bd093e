package relist

import (
	"github.com/shelfsync/shelfsync/internal/relist/repository"
	"github.com/shelfsync/shelfsync/internal/relist/service"
	"go.uber.org/fx"
)

var Module = fx.Module("relist.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
