package quota

import (
	"errors"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"github.com/smallbiznis/creditgate/internal/quota/memory"
	"github.com/smallbiznis/creditgate/internal/quota/rediscounter"
	"github.com/smallbiznis/creditgate/internal/quota/repository"
	"github.com/smallbiznis/creditgate/internal/quota/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("quota.service",
	fx.Provide(NewTracker),
	fx.Provide(service.NewService),
)

type TrackerParams struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	Redis  *redis.Client `optional:"true"`
	GenID  *snowflake.Node
	Clock  clock.Clock
	Log    *zap.Logger
}

// NewTracker selects the free-trial counter backend.
func NewTracker(p TrackerParams) (quotadomain.Tracker, error) {
	switch p.Config.QuotaBackend {
	case config.BackendRedis:
		if p.Redis == nil {
			return nil, errors.New("QUOTA_BACKEND=redis requires REDIS_ADDR")
		}
		return rediscounter.NewTracker(p.Redis), nil
	case config.BackendMemory:
		p.Log.Warn("free-trial counters use in-memory tracker; counts are per process")
		return memory.NewTracker(), nil
	default:
		return repository.NewGormTracker(p.DB, p.GenID, p.Clock), nil
	}
}
