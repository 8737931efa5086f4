package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/domwhitecode/polymarket-copy-trading-bot/api"
	"github.com/domwhitecode/polymarket-copy-trading-bot/config"
	"github.com/domwhitecode/polymarket-copy-trading-bot/handlers"
	"github.com/domwhitecode/polymarket-copy-trading-bot/models"
	"github.com/domwhitecode/polymarket-copy-trading-bot/storage"
	"github.com/domwhitecode/polymarket-copy-trading-bot/syncer"
	"github.com/domwhitecode/polymarket-copy-trading-bot/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("BOT_CONFIG"))
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if cfg.Chain.PrivateKey == "" {
		logger.Fatal("POLYMARKET_PRIVATE_KEY not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewPostgres(ctx, cfg.Data.DatabaseURL, cfg.Data.RedisURL, logger)
	if err != nil {
		logger.Fatal("failed to init storage", zap.Error(err))
	}
	defer store.Close()

	auth, err := api.NewAuthFromKey(cfg.Chain.PrivateKey)
	if err != nil {
		logger.Fatal("failed to init auth", zap.Error(err))
	}

	// The operator's trading wallet: the proxy when configured, the signing
	// wallet otherwise.
	wallet := utils.NormalizeAddress(auth.GetAddress().Hex())
	if cfg.Chain.ProxyWallet != "" {
		wallet = utils.NormalizeAddress(cfg.Chain.ProxyWallet)
	}

	dataClient := api.NewDataClient(cfg.Endpoints.DataAPIURL,
		time.Duration(cfg.Cache.PositionsTTLSecs)*time.Second)

	clobClient, err := api.NewClobClient(cfg.Endpoints.ClobURL, auth,
		time.Duration(cfg.Cache.BookTTLSecs)*time.Second, logger)
	if err != nil {
		logger.Fatal("failed to init clob client", zap.Error(err))
	}
	if cfg.Chain.ProxyWallet != "" {
		clobClient.SetFunder(cfg.Chain.ProxyWallet)
		clobClient.SetSignatureType(2)
	}

	ctfClient, err := api.NewCTFClient(cfg.Chain.RPCURL, cfg.Chain.PrivateKey,
		cfg.Chain.ChainID, cfg.Redemption.GasLimit, cfg.Redemption.GasPriceBumpPct, logger)
	if err != nil {
		logger.Fatal("failed to init ctf client", zap.Error(err))
	}

	gate := syncer.NewGate()

	liquidator := syncer.NewLiquidator(dataClient, clobClient, clobClient, gate, wallet,
		syncer.LiquidatorConfig{
			MaxRetries:    cfg.Trading.MaxSellRetries,
			RetryBackoff:  time.Duration(cfg.Trading.RetryBackoffMS) * time.Millisecond,
			DustThreshold: cfg.Trading.DustThreshold,
			BulkSellDelay: time.Duration(cfg.Trading.BulkSellDelayMS) * time.Millisecond,
		}, logger)

	redeemer := syncer.NewRedeemer(dataClient, ctfClient, gate, wallet,
		syncer.RedeemerConfig{
			ZeroDustThreshold: cfg.Redemption.ZeroDustThreshold,
			BatchDelay:        time.Duration(cfg.Redemption.BatchDelayMS) * time.Millisecond,
		}, logger)

	// Tracked wallets: the traders we mirror, plus our own so bot executions
	// land in the store too.
	tracked := []string{wallet}
	for _, w := range cfg.TrackedWallets {
		tracked = append(tracked, utils.NormalizeAddress(w))
	}

	feed := api.NewStreamClient(cfg.Endpoints.LiveWSURL, logger)
	monitor := syncer.NewMonitor(feed, store, syncer.MonitorConfig{
		ReconnectBase:        time.Duration(cfg.Monitor.ReconnectBaseMS) * time.Millisecond,
		MaxReconnectAttempts: cfg.Monitor.MaxReconnectAttempts,
		Freshness:            time.Duration(cfg.Monitor.FreshnessHours) * time.Hour,
	}, logger)
	monitor.Watch(tracked)

	poller := syncer.NewPoller(store, time.Duration(cfg.Monitor.PollIntervalMS)*time.Millisecond,
		func(ev models.Event) {
			if ev.Trade != nil {
				logger.Info("fallback observation",
					zap.String("wallet", utils.ShortAddress(ev.Trade.Wallet)),
					zap.String("side", ev.Trade.Side),
					zap.Float64("size", ev.Trade.Size))
			}
		}, logger)
	poller.SetWallets(tracked)

	monitor.SetFallbackHooks(
		func() {
			if err := poller.Start(ctx); err != nil {
				logger.Error("failed to start poller", zap.Error(err))
			}
		},
		poller.Stop,
	)

	if err := monitor.Start(ctx); err != nil {
		logger.Fatal("failed to start monitor", zap.Error(err))
	}
	defer monitor.Stop()

	// HTTP API
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	h := handlers.NewHandler(store, liquidator, redeemer, monitor, ctfClient, gate, wallet, logger)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMS) * time.Millisecond,
	}

	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutMS)*time.Millisecond)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
