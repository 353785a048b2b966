package memo

import "go.uber.org/fx"

var Module = fx.Module("memo",
	fx.Provide(NewExtractor),
)
