package pricepolicy

import (
	pricepolicydomain "github.com/smallbiznis/facilitycore/internal/pricepolicy/domain"
	"github.com/smallbiznis/facilitycore/internal/pricepolicy/repository"
	"github.com/smallbiznis/facilitycore/internal/pricepolicy/service"
	pkgrepository "github.com/smallbiznis/facilitycore/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("pricepolicy.service",
	fx.Provide(repository.Provide),
	fx.Provide(pkgrepository.ProvideStore[pricepolicydomain.PriceGroup]),
	fx.Provide(pkgrepository.ProvideStore[pricepolicydomain.PriceGroupProduct]),
	fx.Provide(service.New),
)
