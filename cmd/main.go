/**
 * @description
 * This is the main entry point for the BeefChain sync service. It loads the
 * configuration, connects the ledger RPC and relayer, the off-chain cache, the
 * payment store, RabbitMQ and Redis, then wires the application service, the
 * reconciliation scheduler and the HTTP server together.
 *
 * @dependencies
 * - github.com/joho/godotenv: Local .env loading.
 * - github.com/jackc/pgx/v5: PostgreSQL driver for payment records.
 * - github.com/redis/go-redis/v9: Distributed submission rate limit.
 * - github.com/prometheus/client_golang: Metrics registry.
 * - internal/api, internal/app, internal/config, internal/ledger, internal/scheduler, internal/store.
 * - pkg/cacheclient, pkg/ledgerclient, pkg/payment, pkg/rabbitmq.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/vices1967-beep/beefchain/internal/api"
	"github.com/vices1967-beep/beefchain/internal/app"
	"github.com/vices1967-beep/beefchain/internal/config"
	"github.com/vices1967-beep/beefchain/internal/ledger"
	"github.com/vices1967-beep/beefchain/internal/scheduler"
	"github.com/vices1967-beep/beefchain/internal/store"
	"github.com/vices1967-beep/beefchain/pkg/cacheclient"
	"github.com/vices1967-beep/beefchain/pkg/ledgerclient"
	"github.com/vices1967-beep/beefchain/pkg/payment"
	rmrabbit "github.com/vices1967-beep/beefchain/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.LedgerRPCURL) == "" || strings.TrimSpace(cfg.ContractAddress) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"ledger rpc url and contract address must be configured\" env=LEDGER_RPC_URL,CONTRACT_ADDRESS")
	}
	if strings.TrimSpace(cfg.WalletJWTSecret) == "" {
		log.Println("level=warn component=bootstrap msg=\"wallet jwt secret missing; wallet routes will answer 503\" env=WALLET_JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting beefchain sync service\" port=%s", cfg.ServerPort)

	// Payment records live in Postgres when configured; otherwise in memory.
	var payments store.PaymentRepository
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"database url missing; payment records kept in memory\" env=DATABASE_URL")
		payments = store.NewMemoryRepository()
	} else {
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
		}
		poolConfig.MaxConns = 20
		poolConfig.MinConns = 2
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute

		// Disable prepared statement caching to prevent conflicts
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
		}
		defer dbpool.Close()

		repository := store.NewPostgresRepository(dbpool)
		schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 15*time.Second)
		if err := repository.EnsureSchema(schemaCtx); err != nil {
			cancelSchema()
			log.Fatalf("level=fatal component=bootstrap msg=\"payment schema setup failed\" err=%v", err)
		}
		cancelSchema()
		payments = repository
		log.Println("level=info component=bootstrap msg=\"database connected\"")
	}

	var publisher rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; submission rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; submission rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; submission rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := app.NewMetrics(registry)

	ledgerClient := ledgerclient.NewClient(cfg.LedgerRPCURL, cfg.LedgerRelayerURL, cfg.LedgerRelayerAPIKey, cfg.ContractAddress, cfg.LedgerRequestsPerSecond)
	reader := ledger.NewReader(ledgerClient, cfg.LedgerReadTimeout())
	cache := cacheclient.NewClient(cfg.CacheBaseURL, cfg.CacheOrigin)

	fees, err := payment.NewFeeSchedule(cfg.SystemWallet, cfg.SystemFeePercent, payment.BasePrices{
		AnimalTransfer:   cfg.PriceAnimalTransfer,
		BatchTransfer:    cfg.PriceBatchTransfer,
		AnimalAcceptance: cfg.PriceAnimalAcceptance,
	})
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"fee schedule invalid\" err=%v", err)
	}
	facilitator := payment.NewMockFacilitator(fees)

	beefchainService := app.NewService(
		reader,
		ledgerClient,
		cache,
		facilitator,
		fees,
		payments,
		publisher,
		app.Options{
			ConfirmFallback:          cfg.ConfirmationFallback(),
			ReconcileConcurrency:     cfg.ReconcileConcurrency,
			OverviewScanLimit:        cfg.OverviewScanLimit,
			FallbackAnimalWeightKg:   cfg.FallbackAnimalWeightKg,
			UnitPricePerKg:           cfg.UnitPricePerKg,
			SubmitRateLimitPerMinute: cfg.SubmitRateLimitPerMinute,
		},
	)
	beefchainService.SetMetrics(metrics)
	if redisClient != nil {
		beefchainService.SetSubmissionRateLimiter(
			app.NewRedisSubmissionRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
		)
	}

	// Reconcile requests from other services arrive over RabbitMQ.
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; reconcile requests disabled\" err=%v", err)
		} else {
			defer rabbitConsumer.Close()
			reconcileConsumer := app.NewReconcileRequestConsumer(beefchainService)
			if err := rabbitConsumer.ConsumeReconcileRequests(rmrabbit.EventsExchange, cfg.ReconcileEventQueue, reconcileConsumer.HandleRequest); err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"reconcile consumer start failed\" err=%v", err)
			}
		}
	}

	jobLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "scheduler")
	jobs := scheduler.NewJobs(beefchainService, cfg.ReconcileScopes, 2*time.Minute, jobLogger)
	cronScheduler := scheduler.NewScheduler(jobs, jobLogger, cfg.ReconcileSchedule)
	if err := cronScheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
	}

	handler := api.NewHandler(beefchainService)
	router := api.NewRouter(handler, cfg.WalletJWTSecret, cfg.InternalAPIKey, registry)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	stopCtx := cronScheduler.Stop()
	<-stopCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
