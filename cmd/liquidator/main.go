package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"math/big"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"liquidation-bot-go/internal/bot"
	"liquidation-bot-go/internal/config"
	"liquidation-bot-go/internal/exchange"
	"liquidation-bot-go/internal/logger"
	"liquidation-bot-go/internal/models"
	"liquidation-bot-go/internal/persistence"
	"liquidation-bot-go/internal/reporter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
)

const privateKeyEnv = "LIQUIDATOR_PRIVATE_KEY"

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live, dry-run or simulate")
	simTraders := flag.Int("traders", 200, "number of seeded traders in simulate mode")
	flag.Parse()

	// Default logger until the config is loaded.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := execute(*configPath, *mode, *simTraders); err != nil {
		logger.S().Errorf("Bot stopped with error: %v", err)
		logger.S().Sync()
		os.Exit(1)
	}
	logger.S().Info("Bot stopped")
	logger.S().Sync()
}

// execute loads the config, builds the dependencies for mode and runs the bot
// until it stops. Every resource it opens is released before it returns.
func execute(configPath, mode string, simTraders int) error {
	if err := godotenv.Load(); err != nil {
		logger.S().Info("No .env file found, reading secrets from the environment")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.InitLogger(cfg.LogConfig)

	var deps bot.Deps
	switch mode {
	case "live", "dry-run":
		var closeClients func()
		deps, closeClients, err = connect(cfg, mode == "dry-run")
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer closeClients()
	case "simulate":
		sim := seedSimulation(cfg, simTraders)
		stop := make(chan struct{})
		defer close(stop)
		go simulateActivity(sim, time.Duration(cfg.FetcherRetryIntervalSec)*time.Second, stop)
		deps = bot.Deps{
			Source:    sim,
			Sender:    sim,
			Providers: []bot.Provider{{Name: "simulated", Checker: sim}},
		}
	default:
		return fmt.Errorf("unknown mode %q, use live, dry-run or simulate", mode)
	}

	return run(cfg, deps)
}

// run starts a session and its reporters and blocks until a signal arrives
// or the session fails.
func run(cfg *models.Config, deps bot.Deps) error {
	b := bot.New(deps, bot.SettingsFromConfig(cfg), logger.L().Named("bot"))

	reporters := []reporter.Reporter{reporter.NewConsole(logger.L().Named("report"), os.Stdout)}

	var metrics *reporter.Metrics
	var stream *reporter.Stream
	if cfg.MetricsAddr != "" {
		metrics = reporter.NewMetrics()
		stream = reporter.NewStream(logger.L().Named("stream"))
		reporters = append(reporters, metrics, stream)
	}
	if cfg.JournalPath != "" {
		j, err := persistence.NewBadgerJournal(cfg.JournalPath)
		if err != nil {
			return err
		}
		reporters = append(reporters, reporter.NewJournal(j, logger.L().Named("journal")))
	}

	session, err := b.Start(context.Background())
	if err != nil {
		for _, r := range reporters {
			r.Close()
		}
		return err
	}
	logger.S().Infof("Session %s started", session.ID())

	fanout := reporter.NewFanout(cfg.EventBufferSize, logger.L().Named("fanout"), reporters...)
	reported := make(chan struct{})
	go func() {
		fanout.Run(session.Events())
		close(reported)
	}()

	serveCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := reporter.Serve(serveCtx, cfg.MetricsAddr, reporter.NewRouter(metrics, stream), logger.L().Named("http")); err != nil {
				logger.S().Errorf("HTTP server failed: %v", err)
			}
		}()
	}

	joined := make(chan error, 1)
	go func() { joined <- session.Join() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.S().Infof("Received %s, stopping", sig)
		err = session.Stop()
	case err = <-joined:
	}

	<-reported
	return err
}

// connect dials the primary node and every support provider.
func connect(cfg *models.Config, dryRun bool) (bot.Deps, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	key, err := loadPrivateKey(dryRun)
	if err != nil {
		return bot.Deps{}, nil, err
	}

	primary, err := exchange.Dial(ctx, cfg.RPCURL, logger.L().Named("rpc"))
	if err != nil {
		return bot.Deps{}, nil, err
	}
	closers := []func(){primary.Close}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	ex, err := exchange.NewLiveExchange(primary, exchange.LiveExchangeConfig{
		Exchange:          common.HexToAddress(cfg.ExchangeAddress),
		LiquidationBotAPI: common.HexToAddress(cfg.LiquidationBotAPIAddress),
		ChainID:           big.NewInt(cfg.ChainID),
		PrivateKey:        key,
		GasLimit:          cfg.GasLimit,
		DryRun:            dryRun,
	}, logger.L().Named("exchange"))
	if err != nil {
		closeAll()
		return bot.Deps{}, nil, err
	}
	if dryRun {
		logger.S().Warn("Dry-run mode: liquidations are simulated and never sent")
	} else {
		logger.S().Infof("Sending liquidations from %s", ex.From().Hex())
	}

	deps := bot.Deps{
		Source:    ex,
		Sender:    ex,
		Providers: []bot.Provider{{Name: "primary", Checker: ex}},
	}
	for _, p := range cfg.SupportProviders {
		client, err := exchange.Dial(ctx, p.RPCURL, logger.L().Named("rpc"))
		if err != nil {
			closeAll()
			return bot.Deps{}, nil, fmt.Errorf("support provider %s: %w", p.Name, err)
		}
		closers = append(closers, client.Close)
		deps.Providers = append(deps.Providers, bot.Provider{
			Name: p.Name,
			Checker: exchange.NewContractChecker(client,
				common.HexToAddress(cfg.ExchangeAddress), common.HexToAddress(p.LiquidationBotAPIAddress)),
		})
	}
	return deps, closeAll, nil
}

func loadPrivateKey(dryRun bool) (*ecdsa.PrivateKey, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(os.Getenv(privateKeyEnv)), "0x")
	if raw == "" {
		if dryRun {
			return nil, nil
		}
		return nil, fmt.Errorf("%s must be set in live mode", privateKeyEnv)
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", privateKeyEnv, err)
	}
	return key, nil
}

// seedSimulation opens n positions, every tenth of them liquidatable.
func seedSimulation(cfg *models.Config, n int) *exchange.SimulatedExchange {
	start := cfg.ExchangeLaunchBlock
	if start > 0 {
		start--
	}
	sim := exchange.NewSimulatedExchange(start)

	traders := make([]models.Trader, n)
	for i := range traders {
		traders[i] = simulatedTrader(i)
	}
	sim.OpenPosition(traders...)
	for i := 0; i < n; i += 10 {
		sim.SetLiquidatable(true, traders[i])
	}
	logger.S().Infof("Simulation seeded with %d positions", n)
	return sim
}

// simulateActivity opens a new position on every tick. About a third of the
// new positions are liquidatable.
func simulateActivity(sim *exchange.SimulatedExchange, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	next := 1 << 20
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t := simulatedTrader(next)
			next++
			sim.OpenPosition(t)
			if rand.Intn(3) == 0 {
				sim.SetLiquidatable(true, t)
			}
		}
	}
}

func simulatedTrader(i int) models.Trader {
	return common.BytesToAddress(crypto.Keccak256(big.NewInt(int64(i)).Bytes()))
}
