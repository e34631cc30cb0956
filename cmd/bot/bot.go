package bot

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/dualarb/api"
	"github.com/michaelpento.lv/dualarb/chain"
	"github.com/michaelpento.lv/dualarb/config"
	"github.com/michaelpento.lv/dualarb/credential"
	"github.com/michaelpento.lv/dualarb/dex"
	"github.com/michaelpento.lv/dualarb/dex/uniswap"
	"github.com/michaelpento.lv/dualarb/executor"
	"github.com/michaelpento.lv/dualarb/gas"
	"github.com/michaelpento.lv/dualarb/ledger"
	"github.com/michaelpento.lv/dualarb/notify"
	"github.com/michaelpento.lv/dualarb/orchestrator"
	"github.com/michaelpento.lv/dualarb/quote"
	"github.com/michaelpento.lv/dualarb/scheduler"
	"github.com/michaelpento.lv/dualarb/simulator"
	"github.com/michaelpento.lv/dualarb/store"
	"github.com/michaelpento.lv/dualarb/store/memory"
	"github.com/michaelpento.lv/dualarb/store/postgres"
	redisstore "github.com/michaelpento.lv/dualarb/store/redis"
	"github.com/michaelpento.lv/dualarb/strategies/arbitrage"
	"github.com/michaelpento.lv/dualarb/types"
	"github.com/michaelpento.lv/dualarb/utils/metrics"
)

// Bot wires every component from one config
type Bot struct {
	cfg       *config.Config
	mode      executor.Mode
	registry  *chain.Registry
	detector  *arbitrage.Detector
	ledger    *ledger.Ledger
	scheduler *scheduler.Scheduler
	api       *api.Server
	logger    *zap.Logger
	closers   []func()
}

// New builds the bot. Metrics are registered on reg, which the API serves at /metrics.
func New(ctx context.Context, cfg *config.Config, reg *prometheus.Registry, logger *zap.Logger) (_ *Bot, err error) {
	b := &Bot{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	b.registry, err = cfg.Registry()
	if err != nil {
		return nil, err
	}
	pairs, err := cfg.TradingPairs()
	if err != nil {
		return nil, err
	}
	static, err := cfg.TradingSettings()
	if err != nil {
		return nil, err
	}

	clients, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}

	routers := make(map[uint64]dex.Router, len(clients))
	pricers := make(map[uint64]gas.GasPricer, len(clients))
	chainClients := make(map[uint64]executor.ChainClient, len(clients))
	for id, client := range clients {
		c, _ := b.registry.Chain(id)
		routers[id] = uniswap.NewUniswapV2(client, c.RouterAddress, c.Name)
		pricers[id] = client
		chainClients[id] = client
	}

	ns := cfg.Metrics.Namespace
	quotes, err := quote.NewProvider(b.registry, routers, cfg.QuoteOptions(), metrics.NewQuoteMetrics(reg, ns), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote provider: %w", err)
	}

	var (
		settings  store.SettingsSource = store.NewStaticSettings(static)
		publisher notify.Publisher     = notify.Noop{}
		audit     store.AuditSink      = memory.NewAuditLog()
		wallets   store.WalletStore    = memory.NewWalletStore()
	)

	if cfg.Redis.Enabled {
		rdb, err := redisstore.Dial(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = rdb.Close() })
		settings = redisstore.NewSettings(rdb, cfg.Redis.SettingsKey, settings, logger)
		publisher = redisstore.NewPublisher(rdb, "")
		logger.Info("Using redis settings and notifications", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.Postgres.Enabled {
		pool, err := postgres.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		audit = postgres.NewAuditLog(pool)
		wallets = postgres.NewWalletStore(pool)
		logger.Info("Using postgres audit log and wallets")
	}

	b.mode = ResolveMode(cfg.ExecutionMode(), cfg.PrivateKey != "")
	var (
		strategy executor.Strategy
		signers  = make(map[uint64]types.Signer, len(clients))
	)
	switch b.mode {
	case executor.ModeReal:
		if err := b.verifyChainIDs(ctx, clients); err != nil {
			return nil, err
		}
		key, err := credential.ParseKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		for id, client := range clients {
			signers[id] = credential.NewKeyed(key, id, client, logger)
		}
		strategy = executor.NewReal(chainClients, quotes, cfg.Execution.ReceiptPollInterval, logger)
	default:
		strategy = simulator.NewSimulator(cfg.SimulatorConfig(), logger)
	}
	logger.Info("Execution strategy selected", zap.String("mode", string(b.mode)))

	b.ledger = ledger.New(b.registry, wallets, logger)
	gasFiller := gas.NewEstimator(pricers, b.registry, quotes, cfg.Gas.Units, cfg.Gas.TTL, logger)

	orch := orchestrator.New(cfg.OrchestratorConfig(), orchestrator.Deps{
		Registry:  b.registry,
		Pairs:     pairs,
		Strategy:  strategy,
		Signers:   signers,
		Settings:  settings,
		Gas:       gasFiller,
		Ledger:    b.ledger,
		Audit:     audit,
		Publisher: publisher,
		Metrics:   metrics.NewExecutionMetrics(reg, ns),
	}, logger)

	b.detector = arbitrage.NewDetector(arbitrage.Deps{
		Pairs:     pairs,
		Quotes:    quotes,
		Settings:  settings,
		Gas:       gasFiller,
		Executor:  orch,
		Publisher: publisher,
		Metrics:   metrics.NewScanMetrics(reg, ns),
	}, logger)

	b.scheduler = scheduler.New(cfg.Scheduler, b.detector, settings, logger)
	if cfg.API.Enabled {
		b.api = api.NewServer(cfg.API, b.detector, b.ledger, reg, logger)
	}
	return b, nil
}

// ResolveMode turns auto into real when a key is available and simulated otherwise
func ResolveMode(mode executor.Mode, hasKey bool) executor.Mode {
	if mode != executor.ModeAuto {
		return mode
	}
	if hasKey {
		return executor.ModeReal
	}
	return executor.ModeSimulated
}

func (b *Bot) dial(ctx context.Context) (map[uint64]*ethclient.Client, error) {
	clients := make(map[uint64]*ethclient.Client)
	for _, c := range b.registry.Chains() {
		client, err := ethclient.DialContext(ctx, c.RPCEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to dial chain %d (%s): %w", c.ChainID, c.Name, err)
		}
		clients[c.ChainID] = client
		b.closers = append(b.closers, client.Close)
	}
	return clients, nil
}

func (b *Bot) verifyChainIDs(ctx context.Context, clients map[uint64]*ethclient.Client) error {
	for id, client := range clients {
		got, err := client.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("failed to read chain id from chain %d rpc: %w", id, err)
		}
		if !got.IsUint64() || got.Uint64() != id {
			return fmt.Errorf("rpc for chain %d reports chain id %s", id, got)
		}
	}
	return nil
}

func (b *Bot) Mode() executor.Mode { return b.mode }
func (b *Bot) Registry() *chain.Registry { return b.registry }
func (b *Bot) Detector() *arbitrage.Detector { return b.detector }
func (b *Bot) Ledger() *ledger.Ledger { return b.ledger }
func (b *Bot) Scheduler() *scheduler.Scheduler { return b.scheduler }

// Start runs the scan scheduler and the API server
func (b *Bot) Start() error {
	b.logger.Info("Starting arbitrage bot",
		zap.String("mode", string(b.mode)),
		zap.Int("pairs", len(b.detector.Pairs())),
		zap.Uint64s("chains", b.registry.IDs()))

	if err := b.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if b.api != nil {
		b.api.Start()
	}
	return nil
}

// Stop stops the scheduler and API and releases connections
func (b *Bot) Stop() {
	b.logger.Info("Stopping arbitrage bot...")
	b.scheduler.Stop()
	if b.api != nil {
		if err := b.api.Stop(); err != nil {
			b.logger.Error("Failed to stop API server", zap.Error(err))
		}
	}
	b.Close()
}

// Close releases RPC, redis and postgres connections
func (b *Bot) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
