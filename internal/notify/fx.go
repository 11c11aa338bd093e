package notify

import (
	"github.com/shelfsync/shelfsync/internal/notify/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notify.service", fx.Provide(service.New))
