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
		log.Println("creating bctx tables...")
		if err := mghelper.CreateSchema(ctx, bdb, &db.Bctx{}, &db.BctxLog{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, bdb, &db.Bctx{}, "platform", "status"); err != nil {
			return err
		}
		// Receipt correlation: latest SENT log by chain reference.
		return mghelper.CreateModelIndexes(ctx, bdb, &db.BctxLog{}, "bctx_id", "bc_ref_id")
	}, func(ctx context.Context, bdb *bun.DB) error {
		log.Println("dropping bctx tables...")
		return mghelper.DropTables(ctx, bdb, &db.Bctx{}, &db.BctxLog{})
	})
}
