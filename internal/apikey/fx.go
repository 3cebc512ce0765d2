package apikey

import (
	"context"

	"github.com/smallbiznis/creditgate/internal/apikey/domain"
	"github.com/smallbiznis/creditgate/internal/apikey/repository"
	"github.com/smallbiznis/creditgate/internal/apikey/service"
	"github.com/smallbiznis/creditgate/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(registerBootstrapKeys),
)

func registerBootstrapKeys(cfg config.Config, svc domain.Service) error {
	ctx := context.Background()
	keys := []struct {
		name string
		role string
		raw  string
	}{
		{"bootstrap-admin", domain.RoleAdmin, cfg.Bootstrap.AdminAPIKey},
		{"bootstrap-billing", domain.RoleBilling, cfg.Bootstrap.BillingAPIKey},
		{"bootstrap-gateway", domain.RoleGateway, cfg.Bootstrap.GatewayAPIKey},
	}
	for _, k := range keys {
		if err := svc.EnsureBootstrapKey(ctx, k.name, k.role, k.raw); err != nil {
			return err
		}
	}
	return nil
}
