package instrument

import (
	"github.com/smallbiznis/facilitycore/internal/instrument/repository"
	"github.com/smallbiznis/facilitycore/internal/instrument/service"
	"go.uber.org/fx"
)

var Module = fx.Module("instrument.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
