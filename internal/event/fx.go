package event

import (
	"github.com/shelfsync/shelfsync/internal/event/processor"
	"github.com/shelfsync/shelfsync/internal/event/queue"
	"github.com/shelfsync/shelfsync/internal/event/repository"
	"github.com/shelfsync/shelfsync/internal/event/service"
	"go.uber.org/fx"
)

var Module = fx.Module("event",
	processor.Module,
	queue.Module,
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
