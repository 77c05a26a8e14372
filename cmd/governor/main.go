// The governor is the background daemon of the bridge: it polls every
// configured chain, post-processes task transactions, queues anchor
// issuances, and drives the swap refund and fee refund state machines.
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

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openbridge/dex-middleware/pkg/alarm"
	"github.com/openbridge/dex-middleware/pkg/anchor"
	"github.com/openbridge/dex-middleware/pkg/app/httpserver"
	"github.com/openbridge/dex-middleware/pkg/chain/evm"
	"github.com/openbridge/dex-middleware/pkg/chain/filecoin"
	"github.com/openbridge/dex-middleware/pkg/chain/stellar"
	"github.com/openbridge/dex-middleware/pkg/config"
	"github.com/openbridge/dex-middleware/pkg/db"
	"github.com/openbridge/dex-middleware/pkg/dextask"
	"github.com/openbridge/dex-middleware/pkg/monitor"
	"github.com/openbridge/dex-middleware/pkg/offer"
	"github.com/openbridge/dex-middleware/pkg/pgutil"
	"github.com/openbridge/dex-middleware/pkg/signer"
	"github.com/openbridge/dex-middleware/pkg/taskid"
	"github.com/openbridge/dex-middleware/pkg/tokenmeta"
	"github.com/openbridge/dex-middleware/pkg/worker"
)

const (
	horizonTimeout = 30 * time.Second
	lotusTimeout   = 30 * time.Second
)

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

	logger.Info("Starting DEX bridge governor", zap.String("config", *configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Governor failed", zap.Error(err))
	}
	logger.Info("Governor stopped")
}

type stoppable interface{ Stop() }

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

	sink := alarm.NewLogSink(logger)
	tokens := tokenmeta.NewRegistry(managedAssets(cfg.Tokens), cfg.Stellar.PivotAssetCode)

	horizon, err := stellar.NewClient(cfg.Stellar.HorizonURLs, horizonTimeout, logger)
	if err != nil {
		return fmt.Errorf("create horizon client: %w", err)
	}

	signingClient := signer.NewClient(cfg.Signer.URL, cfg.Signer.AppName, cfg.Signer.AppKey,
		cfg.Signer.RequestTimeout, logger)
	builder := stellar.NewTxBuilder(horizon, signingClient, cfg.Stellar.NetworkPassphrase,
		cfg.Stellar.BaseFee, cfg.Stellar.TxTimeout, logger)

	// Stellar monitor: task processors plus the stellar-side anchor
	// deposit detector.
	taskStore := dextask.NewPgStore(store)
	registry := monitor.NewRegistry[stellar.Operation]()
	if err := registry.Register(dextask.NewCreateSellOfferProcessor(taskStore, codec, cfg.Stellar.PivotAssetCode, logger)); err != nil {
		return err
	}
	if err := registry.Register(dextask.NewCreateBuyOfferProcessor(taskStore, codec, logger)); err != nil {
		return err
	}
	if err := registry.Register(dextask.NewDeanchorProcessor(taskStore, logger)); err != nil {
		return err
	}

	anchorStore := anchor.NewPgStore(store)
	stellarMonitor := monitor.New[int64, stellar.Transaction, stellar.Operation](stellar.NewSource(horizon, codec, logger), store, codec,
		registry, sink, logger, cfg.Stellar.PollingInterval, cfg.Stellar.PageLimit)
	stellarMonitor.AddReceiptHandler(anchor.NewStellarHandler(anchorStore, tokens, sink, logger))

	if err := stellarMonitor.Start(ctx); err != nil {
		return fmt.Errorf("start stellar monitor: %w", err)
	}
	stoppers := []stoppable{stellarMonitor}
	defer func() {
		for i := len(stoppers) - 1; i >= 0; i-- {
			stoppers[i].Stop()
		}
	}()

	// External chain monitors only watch for anchor deposits.
	evmChains := []struct {
		cfg      *config.EVMConfig
		platform db.Platform
	}{
		{&cfg.Ethereum, db.PlatformEthereum},
		{&cfg.Luniverse, db.PlatformLuniverse},
	}
	for _, chain := range evmChains {
		if !chain.cfg.Enabled {
			continue
		}
		client, err := evm.NewClient(ctx, chain.cfg, logger)
		if err != nil {
			return fmt.Errorf("create %s client: %w", chain.platform, err)
		}
		source := evm.NewSource(client, chain.platform, chain.cfg.HolderAddress,
			tokens, chain.cfg.ConfirmationBlocks, chain.cfg.BlockBatchSize, logger)
		m := monitor.New[types.Header, evm.Deposit, evm.Deposit](source, store, codec, monitor.NewRegistry[evm.Deposit](), sink, logger,
			chain.cfg.PollingInterval, int(chain.cfg.BlockBatchSize))
		m.AddReceiptHandler(anchor.NewEvmHandler(chain.platform, anchorStore, tokens, sink, logger))
		if err := m.Start(ctx); err != nil {
			return fmt.Errorf("start %s monitor: %w", chain.platform, err)
		}
		stoppers = append(stoppers, m)
	}

	if cfg.Filecoin.Enabled {
		client := filecoin.NewClient(cfg.Filecoin.RPCURL, cfg.Filecoin.AuthToken, lotusTimeout, logger)
		source := filecoin.NewSource(client, cfg.Filecoin.HolderAddress,
			cfg.Filecoin.ConfirmationBlocks, logger)
		// The tipset walk pages one epoch at a time; the page limit is
		// unused.
		m := monitor.New[filecoin.TipSet, filecoin.Deposit, filecoin.Deposit](source, store, codec, monitor.NewRegistry[filecoin.Deposit](), sink, logger,
			cfg.Filecoin.PollingInterval, 1)
		m.AddReceiptHandler(anchor.NewFilecoinHandler(anchorStore, tokens, sink, logger))
		if err := m.Start(ctx); err != nil {
			return fmt.Errorf("start filecoin monitor: %w", err)
		}
		stoppers = append(stoppers, m)
	}

	// Queued issuance submitter.
	issuer := anchor.NewIssuer(store, builder, sink, logger,
		cfg.Stellar.ChannelAccount, cfg.Task.WorkerTickInterval, cfg.Stellar.PageLimit)
	issuer.Start(ctx)
	stoppers = append(stoppers, issuer)

	// Swap refund state machine.
	anchorClient := anchor.NewClient(cfg.Anchor.URL, cfg.Anchor.APIKey, cfg.Anchor.RequestTimeout, logger)
	refundLedger := anchor.NewDeanchorLedger(anchorClient, builder, tokens,
		cfg.Stellar.ChannelAccount, cfg.Stellar.DeanchorFeeAccount, logger)

	runner := worker.NewRunner(store, sink, logger, cfg.Task.WorkerTickInterval,
		worker.NewSwapRefundWorker(store, refundLedger, codec, logger,
			cfg.Task.RefundMaxRetries, cfg.Task.RefundRetryInterval),
		worker.NewSwapRefundTxCatchWorker(store, stellarMonitor, logger,
			cfg.Task.TxCatchMaxRetries, cfg.Task.RefundRetryInterval),
	)
	runner.Start(ctx)
	stoppers = append(stoppers, runner)

	// Offer fee refund payouts.
	feeRefunds := offer.NewFeeRefundService(offer.NewPgStore(store), builder, tokens, sink, logger,
		cfg.Stellar.ChannelAccount, cfg.Stellar.FeeHolderAccount,
		cfg.Task.RefundMaxRetries, cfg.Task.RefundRetryInterval)
	feeRefunds.Start()
	stoppers = append(stoppers, feeRefunds)

	if !cfg.Monitoring.Enabled {
		<-ctx.Done()
		logger.Info("Shutdown signal received")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Monitoring.MetricsPort),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
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
