package repository

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditgate/internal/clock"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"github.com/smallbiznis/creditgate/internal/quota/trackertest"
	"github.com/smallbiznis/creditgate/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
)

func TestGormTrackerContract(t *testing.T) {
	trackertest.Run(t, func(t *testing.T) quotadomain.Tracker {
		conn := dbtest.Open(t, &quotadomain.Counter{})
		node, err := snowflake.NewNode(2)
		require.NoError(t, err)
		return NewGormTracker(conn, node, clock.System())
	})
}

func TestGormTrackerContractAcrossConnections(t *testing.T) {
	trackertest.Run(t, func(t *testing.T) quotadomain.Tracker {
		conn := dbtest.OpenShared(t, 4, &quotadomain.Counter{})
		node, err := snowflake.NewNode(2)
		require.NoError(t, err)
		return NewGormTracker(conn, node, clock.System())
	})
}
