package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GaloyMoney/bria-sub001/internal/batch"
	"github.com/GaloyMoney/bria-sub001/internal/jobs"
	"github.com/GaloyMoney/bria-sub001/internal/ledger"
	"github.com/GaloyMoney/bria-sub001/internal/payout"
	"github.com/GaloyMoney/bria-sub001/internal/signing"
	"github.com/GaloyMoney/bria-sub001/internal/wallet"
	"github.com/GaloyMoney/bria-sub001/pkg/bitcoind"
	"github.com/GaloyMoney/bria-sub001/pkg/config"
	"github.com/GaloyMoney/bria-sub001/pkg/db"
	"github.com/GaloyMoney/bria-sub001/pkg/feerate"
	"github.com/GaloyMoney/bria-sub001/pkg/logger"
	"github.com/GaloyMoney/bria-sub001/pkg/metrics"
	"github.com/GaloyMoney/bria-sub001/pkg/migrate"
	"github.com/GaloyMoney/bria-sub001/pkg/outbox"
	"github.com/GaloyMoney/bria-sub001/pkg/redis"
	"github.com/GaloyMoney/bria-sub001/pkg/signer"
)

const lockKeyFormat = "bria:job-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "job-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "job-worker"

	logg = logger.New(logger.Options{
		ServiceName: "job-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	bitcoindClient, err := bitcoind.New(cfg.Bitcoin)
	if err != nil {
		logg.Error(context.Background(), "failed to connect to bitcoind", err)
		os.Exit(1)
	}
	defer bitcoindClient.Close()

	signerClient, err := signer.New(cfg.Signer)
	if err != nil {
		logg.Error(context.Background(), "failed to create signer", err)
		os.Exit(1)
	}
	signerFingerprint := signerClient.Fingerprint()
	if signerFingerprint == "" {
		signerFingerprint = cfg.Signer.Fingerprint
	}
	if signerFingerprint == "" {
		logg.Error(context.Background(), "signer fingerprint not configured", errors.New("set BRIA_SIGNER_FINGERPRINT for remote signers"))
		os.Exit(1)
	}

	conn := dbClient.DB()
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)
	walletRepo := wallet.NewRepository(conn)
	payoutRepo := payout.NewRepository(conn)
	batchRepo := batch.NewRepository(conn)
	jobRepo := jobs.NewRepository(conn)

	ledgerService, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}
	feeEstimator := feerate.NewMempoolClient(cfg.Feerate.MempoolURL, cfg.Feerate.Timeout, cfg.Feerate.FallbackSatsPerVByte)
	batchService, err := batch.NewService(dbClient, batchRepo, payoutRepo, nodeFunder{bitcoindClient}, feeEstimator, outboxService)
	if err != nil {
		logg.Error(context.Background(), "failed to create batch service", err)
		os.Exit(1)
	}
	signingService, err := signing.NewService(signing.NewRepository(conn), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create signing service", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(registryParams{
		logg:           logg,
		dbClient:       dbClient,
		batchService:   batchService,
		batchRepo:      batchRepo,
		walletRepo:     walletRepo,
		payoutRepo:     payoutRepo,
		ledgerService:  ledgerService,
		signingService: signingService,
		signers:        []jobs.BatchSigner{{Fingerprint: signerFingerprint, Client: signerClient}},
		broadcaster:    bitcoindClient,
		outboxService:  outboxService,
		jobRepo:        jobRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build job registry", err)
		os.Exit(1)
	}

	lock, err := jobs.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create scheduler lock", err)
		os.Exit(1)
	}

	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)
	scheduler, err := jobs.NewService(jobs.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Repo:     jobRepo,
		Lock:     lock,
		Metrics:  jobMetrics,
		Config:   cfg.Jobs,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create job scheduler", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	httpServer := newHTTPServer(cfg, dbClient)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "health listener stopped unexpectedly", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "error shutting down health listener", err)
		}
	}()

	logg.Info(ctx, "starting job worker")

	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "job worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "job worker shutting down gracefully")
}

type registryParams struct {
	logg           *logger.Logger
	dbClient       *db.Client
	batchService   batch.Service
	batchRepo      batch.Repository
	walletRepo     wallet.Repository
	payoutRepo     payout.Repository
	ledgerService  ledger.Service
	signingService signing.Service
	signers        []jobs.BatchSigner
	broadcaster    bitcoind.Broadcaster
	outboxService  *outbox.Service
	jobRepo        jobs.Repository
}

func buildRegistry(params registryParams) (*jobs.Registry, error) {
	processBatchGroup, err := jobs.NewProcessBatchGroupJob(jobs.ProcessBatchGroupJobParams{
		Logger:    params.logg,
		Batches:   params.batchService,
		BatchRepo: params.batchRepo,
		Runs:      params.jobRepo,
	})
	if err != nil {
		return nil, err
	}
	accounting, err := jobs.NewBatchWalletAccountingJob(jobs.BatchWalletAccountingJobParams{
		Logger:     params.logg,
		DB:         params.dbClient,
		BatchRepo:  params.batchRepo,
		WalletRepo: params.walletRepo,
		Ledger:     params.ledgerService,
	})
	if err != nil {
		return nil, err
	}
	signingJob, err := jobs.NewBatchWalletSigningJob(jobs.BatchWalletSigningJobParams{
		Logger:    params.logg,
		BatchRepo: params.batchRepo,
		Sessions:  params.signingService,
		Signers:   params.signers,
		Runs:      params.jobRepo,
	})
	if err != nil {
		return nil, err
	}
	finalizing, err := jobs.NewBatchWalletFinalizingJob(jobs.BatchWalletFinalizingJobParams{
		Logger:    params.logg,
		BatchRepo: params.batchRepo,
		Sessions:  params.signingService,
		Runs:      params.jobRepo,
	})
	if err != nil {
		return nil, err
	}
	broadcastStep, err := jobs.NewBatchFinalizingJob(jobs.BatchFinalizingJobParams{
		Logger:      params.logg,
		DB:          params.dbClient,
		BatchRepo:   params.batchRepo,
		WalletRepo:  params.walletRepo,
		PayoutRepo:  params.payoutRepo,
		Ledger:      params.ledgerService,
		Broadcaster: params.broadcaster,
		Outbox:      params.outboxService,
	})
	if err != nil {
		return nil, err
	}
	return jobs.NewRegistry(processBatchGroup, accounting, signingJob, finalizing, broadcastStep), nil
}

func newHTTPServer(cfg *config.Config, dbClient *db.Client) *http.Server {
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok", "env": cfg.App.Env}
		if err := dbClient.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	router.Handle("/metrics", promhttp.Handler())

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	return &http.Server{Addr: ":" + port, Handler: router}
}

// nodeFunder adapts the bitcoind client to the batch funding boundary.
type nodeFunder struct {
	client *bitcoind.Client
}

func (f nodeFunder) FundPsbt(ctx context.Context, outputs map[string]int64, satsPerVByte uint64) (*batch.FundedPsbt, error) {
	funded, err := f.client.FundPsbt(ctx, outputs, satsPerVByte)
	if err != nil {
		return nil, err
	}
	return &batch.FundedPsbt{Psbt: funded.Psbt, FeeSats: funded.FeeSats}, nil
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
