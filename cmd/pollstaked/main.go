package main

import (
	"flag"
	"log/slog"
	"math/big"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pollstake/config"
	"pollstake/core/events"
	"pollstake/core/ledger"
	"pollstake/core/state"
	"pollstake/core/types"
	"pollstake/native/poll"
	"pollstake/native/registry"
	"pollstake/observability/logging"
	"pollstake/rpc"
	"pollstake/storage"
)

var genesisAppliedKey = []byte("genesis/applied")

// logEmitter forwards settlement events to the structured logger so an
// external indexer can tail the log stream.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok || carrier.Event() == nil {
		return
	}
	payload := carrier.Event()
	args := make([]any, 0, len(payload.Attributes)*2)
	for key, value := range payload.Attributes {
		args = append(args, key, value)
	}
	l.logger.Info(payload.Type, args...)
}

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	logger := logging.Setup("pollstaked", cfg.Environment)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	led := ledger.New(manager)
	emitter := logEmitter{logger: logging.Component(logger, "settlement")}

	engine := poll.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(led)
	engine.SetEmitter(emitter)

	reg := registry.New()
	reg.SetState(manager)
	reg.SetDeployer(engine)
	reg.SetEmitter(emitter)
	engine.SetPolicy(reg)

	if err := bootstrap(cfg, db, led, reg, logger); err != nil {
		logger.Error("genesis bootstrap failed", "err", err)
		os.Exit(1)
	}

	go func() {
		metricsLog := logging.Component(logger, "metrics")
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsLog.Info("starting metrics server", "addr", cfg.MetricsAddress)
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			metricsLog.Error("metrics server stopped", "err", err)
		}
	}()

	server := rpc.NewServer(engine, reg, led, logging.Component(logger, "rpc"))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "err", err)
		os.Exit(1)
	}
}

// bootstrap installs the genesis policy and mints the configured balances.
// Runs once; restarts keep whatever the admin has mutated since.
func bootstrap(cfg *config.Config, db storage.Database, led *ledger.Ledger, reg *registry.Registry, logger *slog.Logger) error {
	admin, err := config.ParseAddress(cfg.Genesis.Admin)
	if err != nil {
		return err
	}
	if admin == ([20]byte{}) {
		logger.Warn("genesis admin not configured; registry remains uninitialised")
		return nil
	}
	feeRecipient, err := config.ParseAddress(cfg.Genesis.FeeRecipient)
	if err != nil {
		return err
	}
	rescueRecipient, err := config.ParseAddress(cfg.Genesis.RescueRecipient)
	if err != nil {
		return err
	}
	if err := reg.Bootstrap(registry.Policy{
		Admin:           admin,
		FeeRecipient:    feeRecipient,
		RescueRecipient: rescueRecipient,
		FeeRateBps:      cfg.Genesis.FeeRateBps,
	}); err != nil {
		return err
	}

	applied, err := db.Has(genesisAppliedKey)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for raw, amount := range cfg.Genesis.Balances {
		addr, err := config.ParseAddress(raw)
		if err != nil {
			return err
		}
		value, ok := new(big.Int).SetString(amount, 10)
		if !ok || value.Sign() <= 0 {
			logger.Warn("skipping malformed genesis balance", "address", raw, "amount", amount)
			continue
		}
		if err := led.Mint(addr, cfg.Token, value); err != nil {
			return err
		}
	}
	return db.Put(genesisAppliedKey, []byte{1})
}
