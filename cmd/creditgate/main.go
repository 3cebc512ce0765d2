package main

import (
	"hash/fnv"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/internal/migration"
	"github.com/smallbiznis/creditgate/internal/observability"
	"github.com/smallbiznis/creditgate/internal/renewal"
	"github.com/smallbiznis/creditgate/internal/server"
	"github.com/smallbiznis/creditgate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface and the services behind it
		server.Module,

		// Background jobs
		renewal.Module,
	)
	app.Run()
}

// RegisterSnowflake derives the node id from the hostname so replicas do not
// collide on generated ids.
func RegisterSnowflake() (*snowflake.Node, error) {
	host, _ := os.Hostname()
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	return snowflake.NewNode(int64(h.Sum32() % 1024))
}
