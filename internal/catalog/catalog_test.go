package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostNormalizesOperation(t *testing.T) {
	holder, err := NewStaticHolder(DefaultConfig())
	require.NoError(t, err)

	code, cost, err := holder.Cost("Market Research")
	require.NoError(t, err)
	assert.Equal(t, "market-research", code)
	assert.Equal(t, int64(2), cost)

	code, cost, err = holder.Cost("unlisted_agent")
	require.NoError(t, err)
	assert.Equal(t, "unlisted-agent", code)
	assert.Equal(t, DefaultOperationCost, cost)

	_, _, err = holder.Cost("   ")
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestPlanLookup(t *testing.T) {
	holder, err := NewStaticHolder(DefaultConfig())
	require.NoError(t, err)

	plan, err := holder.Plan("Pro")
	require.NoError(t, err)
	assert.Equal(t, int64(500), plan.Credits)
	assert.Equal(t, 1, plan.CycleMonths)

	_, err = holder.Plan("enterprise")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestDefaultsHaveTenOperations(t *testing.T) {
	cfg := DefaultConfig()
	assert.Len(t, cfg.Operations, 10)
	assert.Equal(t, DefaultFreeTrialAllowance, cfg.FreeTrialAllowance)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Operations = append(cfg.Operations, Operation{Code: "email-writer", Cost: 1})
	_, err := NewStaticHolder(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Operations = []Operation{{Code: "x", Cost: 0}}
	_, err = NewStaticHolder(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.FreeTrialAllowance = -1
	_, err = NewStaticHolder(cfg)
	assert.Error(t, err)
}

func TestPlanWithoutCycleIsOneOff(t *testing.T) {
	holder, err := NewStaticHolder(Config{
		DefaultCost: 1,
		Plans:       []Plan{{Code: "Launch Pack", Credits: 50}},
	})
	require.NoError(t, err)
	plan, err := holder.Plan("launch-pack")
	require.NoError(t, err)
	assert.Zero(t, plan.CycleMonths)
}

func TestNegativeCycleRejected(t *testing.T) {
	_, err := NewStaticHolder(Config{
		DefaultCost: 1,
		Plans:       []Plan{{Code: "team", Credits: 50, CycleMonths: -1}},
	})
	assert.Error(t, err)
}
