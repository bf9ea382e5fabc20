package externalservice

import (
	externalservicedomain "github.com/smallbiznis/facilitycore/internal/externalservice/domain"
	"github.com/smallbiznis/facilitycore/internal/externalservice/service"
	"github.com/smallbiznis/facilitycore/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("externalservice.service",
	fx.Provide(repository.ProvideStore[externalservicedomain.ExternalService]),
	fx.Provide(repository.ProvideStore[externalservicedomain.ExternalServiceReceiver]),
	fx.Provide(service.New),
)
