package backfill

import (
	"github.com/shelfsync/shelfsync/internal/backfill/repository"
	"github.com/shelfsync/shelfsync/internal/backfill/service"
	"go.uber.org/fx"
)

var Module = fx.Module("backfill.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
