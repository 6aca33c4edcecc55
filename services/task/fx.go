package task

import (
	"go.uber.org/fx"
)

var Module = fx.Module("task.service",
	fx.Provide(
		NewService,
	),
)

// WorkerModule runs the handlers and the periodic schedule.
var WorkerModule = fx.Module("task.worker",
	fx.Invoke(RegisterHandlers, RegisterSchedule),
)

func Models() []any {
	return []any{&Job{}}
}
