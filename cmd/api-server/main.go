package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/anchor"
	"github.com/openbridge/dex-middleware/pkg/api"
	"github.com/openbridge/dex-middleware/pkg/app/httpserver"
	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
	"github.com/openbridge/dex-middleware/pkg/config"
	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/offer"
	"github.com/openbridge/dex-middleware/pkg/pgutil"
	"github.com/openbridge/dex-middleware/pkg/signer"
	"github.com/openbridge/dex-middleware/pkg/taskid"
	"github.com/openbridge/dex-middleware/pkg/tokenmeta"
)

const horizonTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting DEX bridge API server",
		zap.String("config", *configPath),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("API server failed", zap.Error(err))
	}
	logger.Info("API server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	bdb, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = bdb.Close() }()
	store := db.NewStore(bdb)

	codec, err := newCodec(cfg.Task.IDAlphabet)
	if err != nil {
		return err
	}

	horizon, err := stellar.NewClient(cfg.Stellar.HorizonURLs, horizonTimeout, logger)
	if err != nil {
		return fmt.Errorf("create horizon client: %w", err)
	}

	signingClient := signer.NewClient(cfg.Signer.URL, cfg.Signer.AppName, cfg.Signer.AppKey,
		cfg.Signer.RequestTimeout, logger)

	builder := stellar.NewTxBuilder(horizon, signingClient, cfg.Stellar.NetworkPassphrase,
		cfg.Stellar.BaseFee, cfg.Stellar.TxTimeout, logger)

	tokens := tokenmeta.NewRegistry(managedAssets(cfg.Tokens), cfg.Stellar.PivotAssetCode)

	fees, err := offer.NewFeeCalculator(cfg.Task.FeeRateBuy, cfg.Task.FeeRateSell,
		cfg.Stellar.PivotAssetCode, cfg.Stellar.FeeCollectorAccount)
	if err != nil {
		return fmt.Errorf("create fee calculator: %w", err)
	}

	offers := offer.NewService(offer.NewPgStore(store), codec, builder, horizon, horizon,
		tokens, fees, cfg.Stellar.ChannelAccount, logger)
	anchors := anchor.NewService(store, tokens, codec, logger)

	handler := api.NewHandler(offers, anchors, store, codec, logger)
	verifier := api.NewTokenVerifier(cfg.Auth)
	router := api.NewRouter(handler, verifier)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return httpserver.ServeAndWait(ctx, logger, srv, cfg.Shutdown.Timeout)
}

func newCodec(alphabet string) (*taskid.Codec, error) {
	if alphabet == "" {
		alphabet = taskid.DefaultAlphabet
	}
	return taskid.NewCodec(alphabet)
}

func managedAssets(tokens []config.TokenConfig) []tokenmeta.ManagedInfo {
	assets := make([]tokenmeta.ManagedInfo, 0, len(tokens))
	for _, t := range tokens {
		assets = append(assets, tokenmeta.ManagedInfo{
			AssetCode:       t.AssetCode,
			Platform:        db.Platform(t.Platform),
			IssuerAddress:   t.IssuerAddress,
			BaseAddress:     t.BaseAddress,
			HolderAddress:   t.HolderAddress,
			ContractAddress: t.ContractAddress,
			Decimals:        t.Decimals,
		})
	}
	return assets
}
