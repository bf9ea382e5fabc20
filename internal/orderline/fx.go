package orderline

import (
	"github.com/smallbiznis/facilitycore/internal/orderline/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("orderline.repository",
	fx.Provide(repository.Provide),
)
