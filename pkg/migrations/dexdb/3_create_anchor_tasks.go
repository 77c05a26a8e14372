package dexdb

import (
	"context"
	"log"

	"github.com/openbridge/dex-middleware/pkg/db"
	mghelper "github.com/openbridge/dex-middleware/pkg/pgutil/migrations"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, bdb *bun.DB) error {
		log.Println("creating task_anchor table...")
		if err := mghelper.CreateSchema(ctx, bdb, &db.TaskAnchor{}); err != nil {
			return err
		}
		// Deposit matching scans open tasks by (platform, holder_addr).
		return mghelper.CreateModelIndexes(ctx, bdb, &db.TaskAnchor{}, "platform", "holder_addr", "user_id")
	}, func(ctx context.Context, bdb *bun.DB) error {
		log.Println("dropping task_anchor table...")
		return mghelper.DropTables(ctx, bdb, &db.TaskAnchor{})
	})
}
