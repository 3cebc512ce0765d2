package admission

import (
	"github.com/smallbiznis/creditgate/internal/admission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("admission.service",
	fx.Provide(service.NewService),
)
