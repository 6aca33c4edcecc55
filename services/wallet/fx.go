package wallet

import "go.uber.org/fx"

var Module = fx.Module("wallet.service",
	fx.Provide(NewService),
)

// Models lists the tables owned by the wallet service.
func Models() []any {
	return []any{&Wallet{}, &Transaction{}}
}
