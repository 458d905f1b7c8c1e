package main

import (
	"database/sql"
	"fmt"
	stdlog "log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/loghub/etl-core/internal/config"
	"github.com/loghub/etl-core/internal/log"
	"github.com/loghub/etl-core/internal/objectstore"
	"github.com/loghub/etl-core/pkg/catalog"
	"github.com/loghub/etl-core/pkg/dispatchqueue"
	"github.com/loghub/etl-core/pkg/ledger"
	"github.com/loghub/etl-core/pkg/scan"
)

func main() {
	root := &cobra.Command{
		Use:   "etlctl",
		Short: "Operate the log-archive ETL core from the command line",
	}
	root.AddCommand(newScanCmd(), newDDLCmd(), newLedgerCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newScanCmd() *cobra.Command {
	var (
		srcPath         string
		dstPath         string
		queueName       string
		executionName   string
		size            string
		maxRecords      int64
		merge           bool
		deleteOnSuccess bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a staging prefix and enqueue copy-task batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			options := map[string]any{
				"srcPath":         srcPath,
				"dstPath":         dstPath,
				"sqsName":         queueName,
				"executionName":   executionName,
				"maxRecords":      maxRecords,
				"merge":           merge,
				"deleteOnSuccess": deleteOnSuccess,
			}
			if size != "" {
				options["size"] = size
			}
			cfg, err := scan.ParseScanConfig(options)
			if err != nil {
				return err
			}

			db, ledgerStore, err := openLedger()
			if err != nil {
				return err
			}
			defer db.Close()
			queue, err := dispatchqueue.NewPostgresQueue(db, cfg.QueueName)
			if err != nil {
				return err
			}

			scanner := scan.NewScanner(openObjectStore(), ledgerStore, queue, log.GetLogger())
			batches, err := scanner.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dispatched %d batches for execution %s\n", batches, cfg.ExecutionName)
			return nil
		},
	}
	cmd.Flags().StringVar(&srcPath, "src", "", "source path (s3://bucket/prefix)")
	cmd.Flags().StringVar(&dstPath, "dst", "", "destination path (s3://bucket/prefix)")
	cmd.Flags().StringVar(&queueName, "queue", "copy-tasks", "dispatch queue name")
	cmd.Flags().StringVar(&executionName, "execution-name", "", "workflow execution name")
	cmd.Flags().StringVar(&size, "size", "", "merge target size (e.g. 100MiB)")
	cmd.Flags().Int64Var(&maxRecords, "max-records", -1, "max objects to list, -1 for unbounded")
	cmd.Flags().BoolVar(&merge, "merge", true, "merge objects per destination partition")
	cmd.Flags().BoolVar(&deleteOnSuccess, "delete-on-success", false, "remove source objects after copy")
	return cmd
}

func newDDLCmd() *cobra.Command {
	var (
		database  string
		table     string
		action    string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "ddl [partition tuples...]",
		Short: "Print idempotent ALTER TABLE partition statements",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			statements, err := catalog.GenerateAlterPartition(database, table, args, catalog.Action(action), batchSize)
			if err != nil {
				return err
			}
			for _, stmt := range statements {
				fmt.Fprintln(cmd.OutOrStdout(), stmt)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "catalog database")
	cmd.Flags().StringVar(&table, "table", "", "catalog table")
	cmd.Flags().StringVar(&action, "action", "ADD", "ADD or DROP")
	cmd.Flags().IntVar(&batchSize, "batch-size", 20, "partitions per statement, 0 for one statement")
	return cmd
}

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the execution ledger",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete ledger rows past their expiration time",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, ledgerStore, err := openLedger()
			if err != nil {
				return err
			}
			defer db.Close()
			purged, err := ledgerStore.PurgeExpired(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired rows\n", purged)
			return nil
		},
	})
	return cmd
}

func openLedger() (*sql.DB, *ledger.PostgresStore, error) {
	cfg := config.LoadWorkerConfig()
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	retention := time.Duration(cfg.LedgerRetentionDays) * 24 * time.Hour
	store, err := ledger.NewPostgresStore(db, retention)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, store, nil
}

func openObjectStore() objectstore.ObjectStore {
	cfg := config.LoadWorkerConfig()
	if cfg.MinioEndpoint == "" {
		return objectstore.NewLocalStore(os.Getenv("LOCAL_STORE_ROOT"))
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
