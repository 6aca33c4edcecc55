package partnersync

import "go.uber.org/fx"

var Module = fx.Module("partnersync.service",
	fx.Provide(NewService),
)

// AsListener registers a constructor's result as a drain listener.
func AsListener(f any) any {
	return fx.Annotate(f, fx.As(new(Listener)), fx.ResultTags(`group:"partnersync.listeners"`))
}

func Models() []any {
	return []any{&QueueItem{}}
}
