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
		log.Println("creating monitor tables...")
		if err := mghelper.CreateSchema(ctx, bdb,
			&db.TaskMonitorLog{}, &db.MonitorCursor{}, &db.OpReceipt{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, bdb, &db.TaskMonitorLog{}, "memo_task_id"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, bdb, &db.OpReceipt{}, "to_addr", "memo_task_id")
	}, func(ctx context.Context, bdb *bun.DB) error {
		log.Println("dropping monitor tables...")
		return mghelper.DropTables(ctx, bdb,
			&db.TaskMonitorLog{}, &db.MonitorCursor{}, &db.OpReceipt{})
	})
}
