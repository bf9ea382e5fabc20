package reservation

import (
	"github.com/smallbiznis/facilitycore/internal/reservation/repository"
	"github.com/smallbiznis/facilitycore/internal/reservation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reservation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
