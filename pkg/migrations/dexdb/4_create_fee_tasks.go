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
		log.Println("creating fee task tables...")
		if err := mghelper.CreateSchema(ctx, bdb,
			&db.TaskOfferSellFee{}, &db.TaskFeeRefund{}, &db.TaskFeeRefundLog{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, bdb, &db.TaskOfferSellFee{}, "trade_addr", "tx_status"); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, bdb, &db.TaskFeeRefund{}, "checked_flag"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, bdb, &db.TaskFeeRefundLog{}, "task_id")
	}, func(ctx context.Context, bdb *bun.DB) error {
		log.Println("dropping fee task tables...")
		return mghelper.DropTables(ctx, bdb,
			&db.TaskOfferSellFee{}, &db.TaskFeeRefund{}, &db.TaskFeeRefundLog{})
	})
}
