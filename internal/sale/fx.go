package sale

import (
	"github.com/shelfsync/shelfsync/internal/sale/matcher"
	"github.com/shelfsync/shelfsync/internal/sale/repository"
	"github.com/shelfsync/shelfsync/internal/sale/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sale.service",
	matcher.Module,
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
