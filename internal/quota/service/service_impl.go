package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/creditgate/internal/catalog"
	obsmetrics "github.com/smallbiznis/creditgate/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Tracker    quotadomain.Tracker
	Catalog    *catalog.Holder
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	tracker    quotadomain.Tracker
	catalog    *catalog.Holder
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) quotadomain.Service {
	return &Service{
		tracker:    p.Tracker,
		catalog:    p.Catalog,
		log:        p.Log.Named("quota.service"),
		obsMetrics: p.ObsMetrics,
	}
}

// CheckAndIncrement consumes one slot. A denial returns the counter state
// together with ErrFreeTrialExhausted.
func (s *Service) CheckAndIncrement(ctx context.Context, identity string) (quotadomain.Result, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return quotadomain.Result{}, quotadomain.ErrInvalidIdentity
	}

	res, err := s.tracker.CheckAndIncrement(ctx, identity, s.catalog.FreeTrialAllowance())
	if err != nil {
		return quotadomain.Result{}, err
	}
	s.obsMetrics.RecordFreeTrial(res.Allowed)
	if !res.Allowed {
		s.log.Debug("free trial exhausted", zap.String("identity", identity), zap.Int("used", res.Used))
		return res, quotadomain.ErrFreeTrialExhausted
	}
	return res, nil
}

func (s *Service) Peek(ctx context.Context, identity string) (quotadomain.Result, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return quotadomain.Result{}, quotadomain.ErrInvalidIdentity
	}
	return s.tracker.Peek(ctx, identity, s.catalog.FreeTrialAllowance())
}
