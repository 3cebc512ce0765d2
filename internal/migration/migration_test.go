package migration

import (
	"io/fs"
	"testing"

	"github.com/smallbiznis/creditgate/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups, err := fs.Glob(sub, "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(sub, "*.down.sql")
	require.NoError(t, err)

	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}

func TestAutoMigrateCreatesTables(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, AutoMigrate(conn))

	for _, table := range []string{"accounts", "transactions", "free_trial_counters", "reconciliation_items", "api_keys"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}
