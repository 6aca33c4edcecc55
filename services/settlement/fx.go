package settlement

import (
	"activations-controlplane/services/partnersync"

	"go.uber.org/fx"
)

var Module = fx.Module("settlement.service",
	fx.Provide(
		NewService,
		func(s *partnersync.Service) Syncer { return s },
	),
)

func Models() []any {
	return []any{&FinalizationRecord{}, &Incident{}}
}
