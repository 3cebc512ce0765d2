package ledger

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	"github.com/smallbiznis/creditgate/internal/ledger/memory"
	"github.com/smallbiznis/creditgate/internal/ledger/repository"
	"github.com/smallbiznis/creditgate/internal/ledger/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("ledger.service",
	fx.Provide(NewStore),
	fx.Provide(service.NewService),
)

// NewStore selects the ledger backend. The memory store only suits a single
// process; every replica would otherwise hold its own balances.
func NewStore(cfg config.Config, conn *gorm.DB, genID *snowflake.Node, clk clock.Clock, log *zap.Logger) ledgerdomain.Store {
	if cfg.LedgerBackend == config.BackendMemory {
		log.Warn("ledger uses in-memory store; balances are lost on restart")
		return memory.NewStore(genID, clk)
	}
	return repository.NewGormStore(conn, genID, clk)
}
