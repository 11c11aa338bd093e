package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/backfill"
	"github.com/shelfsync/shelfsync/internal/clock"
	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/credential"
	"github.com/shelfsync/shelfsync/internal/event"
	"github.com/shelfsync/shelfsync/internal/inventory"
	"github.com/shelfsync/shelfsync/internal/marketplace"
	"github.com/shelfsync/shelfsync/internal/migration"
	"github.com/shelfsync/shelfsync/internal/notify"
	"github.com/shelfsync/shelfsync/internal/observability"
	"github.com/shelfsync/shelfsync/internal/relist"
	"github.com/shelfsync/shelfsync/internal/sale"
	"github.com/shelfsync/shelfsync/internal/scheduler"
	"github.com/shelfsync/shelfsync/internal/server"
	"github.com/shelfsync/shelfsync/internal/subscription"
	"github.com/shelfsync/shelfsync/pkg/db"
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

		// Marketplace access
		marketplace.Module,
		fx.Provide(RegisterRefresher),
		credential.Module,

		// Domains
		inventory.Module,
		sale.Module,
		notify.Module,
		event.Module,
		subscription.Module,
		backfill.Module,
		relist.Module,

		// Background jobs and HTTP surface
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// RegisterRefresher lets the vault refresh expired tokens without depending on
// the marketplace package directly.
func RegisterRefresher(client marketplace.Client) credential.Refresher {
	return credential.RefresherFunc(func(ctx context.Context, refreshToken string) (string, string, time.Time, error) {
		resp, err := client.RefreshToken(ctx, refreshToken)
		if err != nil {
			return "", "", time.Time{}, err
		}
		return resp.AccessToken, resp.RefreshToken, resp.ExpiresAt, nil
	})
}
