package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/instazora/creatorcoins/internal/config"
	"github.com/instazora/creatorcoins/internal/feed"
	"github.com/instazora/creatorcoins/internal/nft"
	"github.com/instazora/creatorcoins/internal/notify"
	"github.com/instazora/creatorcoins/internal/provider"
	"github.com/instazora/creatorcoins/internal/server"
	"github.com/instazora/creatorcoins/internal/session"
	"github.com/instazora/creatorcoins/internal/spendperm"
	"github.com/instazora/creatorcoins/internal/storage"
	"github.com/instazora/creatorcoins/internal/subaccount"
	"github.com/instazora/creatorcoins/internal/tipping"
	"github.com/instazora/creatorcoins/internal/trading"
)

func main() {
	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Load config
	cfg := config.Load()

	if cfg.WalletRPCURL == "" {
		log.Error("WALLET_RPC_URL is required")
		os.Exit(1)
	}

	funding := provider.EtherToWei(cfg.FundingAmountETH)
	if funding == nil {
		log.Error("invalid FUNDING_AMOUNT_ETH", "value", cfg.FundingAmountETH)
		os.Exit(1)
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Notification hub, with an optional telegram sink
	var sinks []notify.Sink
	if cfg.BotToken != "" && cfg.NotifyChat != 0 {
		tg, err := notify.NewTelegramSink(cfg.BotToken, cfg.NotifyChat, log)
		if err != nil {
			log.Error("init telegram sink", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, tg)
		log.Info("telegram notifications enabled", "chat_id", cfg.NotifyChat)
	}
	hub := notify.NewHub(log, sinks...)

	// Account session and the managers that hang off it
	sess := session.NewManager(func() (provider.Provider, error) {
		return provider.Dial(cfg.WalletRPCURL)
	}, log)

	subs := subaccount.NewManager(sess.Provider, cfg.AppOrigin, log)
	perms := spendperm.NewManager(spendperm.NewProviderSDK(sess.Provider), log)

	tips := tipping.New(perms, subs, hub, store, log)
	trader := trading.NewTrader(sess.Provider, subs, hub, log)

	feedClient := feed.NewClient(cfg.IndexerBaseURL, cfg.IndexerAPIKey)
	coinFeed := feed.New(feedClient, cfg.FeedPageSize, log)

	nfts := nft.NewClient(cfg.GraphQLURL, cfg.IndexerAPIKey)
	minter := nft.NewMinter(subs, hub, log)

	poller := subaccount.NewPoller(subs, log)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess.OnConnect(func(cctx context.Context, primary common.Address) {
		if sub, err := subs.Ensure(cctx, primary, funding); err != nil {
			log.Warn("sub-account setup", "error", err)
		} else {
			log.Info("sub-account ready", "address", sub.Address.Hex())
		}
	})
	sess.OnDisconnect(func() {
		subs.Reset()
		perms.Reset()
	})

	sess.Initialize()

	// Warm the feed so the first page is ready before any client asks
	coinFeed.Refresh(ctx)

	// Start the balance poller
	go poller.Start(ctx, cfg.BalancePollEvery)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	srv := server.New(server.Deps{
		Session: sess,
		Subs:    subs,
		Perms:   perms,
		Tips:    tips,
		Trader:  trader,
		Feed:    coinFeed,
		NFTs:    nfts,
		Minter:  minter,
		Hub:     hub,
		Store:   store,
		Poller:  poller,
		ChainID: cfg.ChainID,
		Funding: funding,

		AllowanceETH: cfg.AllowanceETH,
		PeriodDays:   cfg.PermissionPeriodDays,
	}, log)

	log.Info("starting api server...")
	if err := srv.Start(ctx, cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
		log.Error("api server", "error", err)
		os.Exit(1)
	}
}
