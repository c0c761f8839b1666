// @title Stakepool API
// @description Commitment pools with escrowed stakes settled on chain
// @BasePath /api/v1
// @schemes http
package main

import (
	"context"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/limbo/stakepool/internal/api"
	"github.com/limbo/stakepool/internal/chain"
	"github.com/limbo/stakepool/internal/lock"
	"github.com/limbo/stakepool/internal/metrics"
	"github.com/limbo/stakepool/internal/repository"
	"github.com/limbo/stakepool/internal/repository/memory"
	"github.com/limbo/stakepool/internal/scheduler"
	"github.com/limbo/stakepool/internal/service"
	"github.com/limbo/stakepool/pkg/cleanup"
	"github.com/limbo/stakepool/pkg/config"
	jwtservice "github.com/limbo/stakepool/pkg/jwt_service"
)

func init() {
	service.InitValidator()
}

func main() {
	cfg := config.New()
	logger := newLogger(cfg.GetStringOr("LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	repos := newRepositories(cfg)
	locker := newLocker(ctx, cfg)
	bridge, decimals := newBridge(ctx, cfg, logger, m)
	clock := service.SystemClock{}

	ledger := service.NewStakeLedgerService(repos.Ledger, bridge, logger)
	proofs := service.NewProofTrackerService(repos, locker, clock, logger, m)
	settlement := service.NewSettlementService(repos, bridge, locker, clock, logger, m)
	pools := service.NewPoolsService(repos, ledger, settlement, locker, clock, logger, m)
	leaderboard := service.NewLeaderboardService(repos.Pools, repos.Profiles)

	sweeper := scheduler.NewSweeper(ledger, settlement, pools, proofs, scheduler.Config{
		Schedule:  cfg.GetStringOr("SWEEP_SCHEDULE", scheduler.DefaultSchedule),
		BatchSize: cfg.GetInt("SWEEP_BATCH_SIZE", 100),
	}, logger)
	if err := sweeper.Start(); err != nil {
		log.Fatal("starting sweeper error: " + err.Error())
	}
	cleanup.Register(&cleanup.Job{
		Name: "stopping sweeper",
		F:    sweeper.Stop,
	})

	serv := api.New(&api.ServicesList{
		PoolsService:       pools,
		ProofsService:      proofs,
		SettlementService:  settlement,
		LeaderboardService: leaderboard,
		Balances:           bridge,
		JwtService:         jwtservice.New(cfg.GetString("JWT_SECRET")),
		Metrics:            m,
		ProofRatePerMinute: cfg.GetInt("PROOF_RATE_PER_MIN", 10),
		BalanceDecimals:    decimals,
	})
	addr := cfg.GetStringOr("API_ADDRESS", ":8080")
	logger.Info("api listening", slog.String("address", addr))
	if err := serv.Run(ctx, addr); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
	}
	if failed := cleanup.CleanUp(); failed > 0 {
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newRepositories(cfg *config.Config) service.Repositories {
	switch backend := cfg.GetStringOr("STORE_BACKEND", "postgres"); backend {
	case "memory":
		store := memory.New()
		return service.Repositories{
			Pools:        store.Pools(),
			Participants: store.Participants(),
			Ledger:       store.Ledger(),
			Proofs:       store.Proofs(),
			Profiles:     store.Profiles(),
			Payouts:      store.Payouts(),
		}
	case "postgres":
		conn := repository.NewPgPool(&repository.PGCfg{
			Address:  cfg.GetString("POSTGRES_DB_ADDRESS"),
			Username: cfg.GetString("POSTGRES_USER"),
			Password: cfg.GetString("POSTGRES_PASSWORD"),
			DB:       cfg.GetString("POSTGRES_DB"),
		})
		return service.Repositories{
			Pools:        repository.NewPoolsRepoWithConn(conn),
			Participants: repository.NewParticipantsRepoWithConn(conn),
			Ledger:       repository.NewLedgerRepoWithConn(conn),
			Proofs:       repository.NewProofsRepoWithConn(conn),
			Profiles:     repository.NewProfilesRepoWithConn(conn),
			Payouts:      repository.NewPayoutsRepoWithConn(conn),
		}
	default:
		log.Fatal("unknown STORE_BACKEND: " + backend)
		return service.Repositories{}
	}
}

func newLocker(ctx context.Context, cfg *config.Config) lock.Locker {
	switch backend := cfg.GetStringOr("LOCK_BACKEND", "memory"); backend {
	case "memory":
		return lock.NewMemoryLocker()
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.GetStringOr("REDIS_ADDR", "localhost:6379"),
			Password: cfg.GetString("REDIS_PASSWORD"),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("pinging redis error: " + err.Error())
		}
		cleanup.Register(&cleanup.Job{
			Name: "closing redis client",
			F:    rdb.Close,
		})
		return lock.NewRedisLocker(rdb)
	default:
		log.Fatal("unknown LOCK_BACKEND: " + backend)
		return nil
	}
}

// newBridge connects to the chain named by CHAIN_RPC_URL, or runs a simulated
// chain when it is empty. Returns the decimals of balances it reports.
func newBridge(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (chain.ChainBridge, int32) {
	var inner chain.ChainBridge
	decimals := int32(cfg.GetInt("BALANCE_DECIMALS", 18))
	rpcURL := cfg.GetString("CHAIN_RPC_URL")
	if rpcURL == "" {
		sim := chain.NewSimulatedBridge()
		sim.AutoConfirmUnknown = true
		logger.Warn("CHAIN_RPC_URL is empty, running on a simulated chain")
		inner = sim
		decimals = 0
	} else {
		scale, ok := new(big.Int).SetString(cfg.GetStringOr("CHAIN_UNIT_SCALE", "1"), 10)
		if !ok {
			log.Fatal("CHAIN_UNIT_SCALE must be an integer")
		}
		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		evm, closeClient, err := chain.DialEVM(dialCtx, chain.EVMConfig{
			RPCURL:        rpcURL,
			PrivateKeyHex: cfg.GetString("ESCROW_PRIVATE_KEY"),
			UnitScale:     scale,
			Confirmations: uint64(cfg.GetInt("CHAIN_CONFIRMATIONS", 12)),
		})
		if err != nil {
			log.Fatal("connecting to chain error: " + err.Error())
		}
		cleanup.Register(&cleanup.Job{
			Name: "closing chain rpc client",
			F: func() error {
				closeClient()
				return nil
			},
		})
		logger.Info("escrow account", slog.String("address", evm.EscrowAddress()))
		inner = evm
	}
	return chain.NewRetryingBridge(inner, chain.RetryConfig{
		MaxAttempts:     cfg.GetInt("TRANSFER_MAX_ATTEMPTS", 5),
		InitialInterval: cfg.GetDuration("TRANSFER_INITIAL_BACKOFF", 500*time.Millisecond),
		MaxInterval:     cfg.GetDuration("TRANSFER_MAX_BACKOFF", 30*time.Second),
		OnRetry:         m.TransferRetry,
	}, logger), decimals
}
