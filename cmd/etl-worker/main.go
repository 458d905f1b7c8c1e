package main

import (
	"context"
	"database/sql"
	stdlog "log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/loghub/etl-core/internal/activities"
	"github.com/loghub/etl-core/internal/config"
	"github.com/loghub/etl-core/internal/log"
	"github.com/loghub/etl-core/internal/objectstore"
	"github.com/loghub/etl-core/pkg/copier"
	"github.com/loghub/etl-core/pkg/dispatchqueue"
	"github.com/loghub/etl-core/pkg/etlhelper"
	"github.com/loghub/etl-core/pkg/ledger"
	"github.com/loghub/etl-core/pkg/scan"
)

func main() {
	cfg := config.LoadWorkerConfig()
	logger := log.GetLogger()

	if cfg.DatabaseURL == "" {
		stdlog.Fatal("DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		stdlog.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	retention := time.Duration(cfg.LedgerRetentionDays) * 24 * time.Hour
	ledgerStore, err := ledger.NewPostgresStore(db, retention)
	if err != nil {
		stdlog.Fatalf("Failed to create ledger store: %v", err)
	}

	queueName := getEnv("ETL_QUEUE_NAME", "copy-tasks")
	queue, err := dispatchqueue.NewPostgresQueue(db, queueName)
	if err != nil {
		stdlog.Fatalf("Failed to create dispatch queue: %v", err)
	}

	store := openObjectStore(cfg)

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		stdlog.Fatalf("Failed to create Temporal client: %v", err)
	}
	defer c.Close()

	signaler := activities.NewTemporalSignaler(c)
	dispatcher := etlhelper.NewDispatcher(ledgerStore, nil, signaler, logger)
	scanner := scan.NewScanner(store, ledgerStore, queue, logger)

	consumer := copier.NewCopier(store, dispatcher, copier.NewRegistry(), logger)
	consumeCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	go func() {
		if err := consumer.Run(consumeCtx, queue); err != nil && consumeCtx.Err() == nil {
			logger.WithError(err).Error("copy consumer stopped")
		}
	}()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	acts := activities.New(scanner, dispatcher)
	w.RegisterActivity(acts.ScanObjects)
	w.RegisterActivity(acts.DispatchETLCommand)

	logger.WithField("taskQueue", cfg.TemporalTaskQueue).Info("etl worker started")
	if err := w.Run(worker.InterruptCh()); err != nil {
		stdlog.Fatalf("Worker failed: %v", err)
	}
}

// openObjectStore connects to MinIO when configured, otherwise falls back to
// the local filesystem store for dev.
func openObjectStore(cfg *config.WorkerConfig) objectstore.ObjectStore {
	if cfg.MinioEndpoint == "" {
		stdlog.Print("MINIO_ENDPOINT not set, using local object store")
		return objectstore.NewLocalStore(getEnv("LOCAL_STORE_ROOT", ""))
	}
	store, err := objectstore.NewS3Client(&objectstore.Config{
		EndpointURL:     cfg.MinioEndpoint,
		Region:          cfg.MinioRegion,
		UseSSL:          cfg.MinioUseSSL,
		AccessKeyID:     cfg.MinioAccessKey,
		SecretAccessKey: cfg.MinioSecretKey,
	})
	if err != nil {
		stdlog.Fatalf("Failed to create object store client: %v", err)
	}
	return store
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
