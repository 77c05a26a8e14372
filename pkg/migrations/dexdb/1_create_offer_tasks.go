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
		log.Println("creating offer task tables...")
		if err := mghelper.CreateSchema(ctx, bdb, &db.TaskCreateOffer{}, &db.TaskDeleteOffer{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, bdb, &db.TaskCreateOffer{}, "user_id", "trade_addr", "offer_id"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, bdb, &db.TaskDeleteOffer{}, "user_id", "offer_id")
	}, func(ctx context.Context, bdb *bun.DB) error {
		log.Println("dropping offer task tables...")
		return mghelper.DropTables(ctx, bdb, &db.TaskCreateOffer{}, &db.TaskDeleteOffer{})
	})
}
