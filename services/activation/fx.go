package activation

import (
	"activations-controlplane/services/partnersync"

	"go.uber.org/fx"
)

var Module = fx.Module("activation.service",
	fx.Provide(
		NewService,
		partnersync.AsListener(NewSyncListener),
	),
)

func Models() []any {
	return []any{&Activation{}, &Submission{}}
}
