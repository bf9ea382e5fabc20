package split

import (
	"github.com/smallbiznis/facilitycore/internal/split/repository"
	"github.com/smallbiznis/facilitycore/internal/split/service"
	"go.uber.org/fx"
)

var Module = fx.Module("split.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
