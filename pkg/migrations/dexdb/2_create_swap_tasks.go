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
		log.Println("creating task_swap table...")
		if err := mghelper.CreateSchema(ctx, bdb, &db.TaskSwap{}); err != nil {
			return err
		}
		// The worker Runner selects on (status, schedule_timestamp).
		if err := mghelper.CreateModelIndexes(ctx, bdb, &db.TaskSwap{}, "status", "deanc_task_id"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, bdb, &db.TaskSwap{}, "user_id")
	}, func(ctx context.Context, bdb *bun.DB) error {
		log.Println("dropping task_swap table...")
		return mghelper.DropTables(ctx, bdb, &db.TaskSwap{})
	})
}
