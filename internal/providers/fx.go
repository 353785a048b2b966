package providers

import (
	"github.com/smallbiznis/paymatch/internal/providers/email"
	"github.com/smallbiznis/paymatch/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
