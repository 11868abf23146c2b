package cli

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/gamelake/igdb-pipeline/pkg/config"
	"github.com/gamelake/igdb-pipeline/pkg/igdb"
	"github.com/gamelake/igdb-pipeline/pkg/logging"
	"github.com/gamelake/igdb-pipeline/pkg/metrics"
	"github.com/gamelake/igdb-pipeline/pkg/pipeline"
	"github.com/gamelake/igdb-pipeline/pkg/ratelimit"
	"github.com/gamelake/igdb-pipeline/pkg/storage"
)

type runOptions struct {
	fullRefresh bool
	date        string
	entities    []string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the extraction pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.fullRefresh, "full-refresh", false, "force full extraction and supersede prior snapshot files")
	cmd.Flags().StringVar(&opts.date, "date", "", "target partition date YYYY-MM-DD (default: today, UTC)")
	cmd.Flags().StringSliceVar(&opts.entities, "entities", nil, "comma-separated subset of entities (default: all)")

	return cmd
}

func runPipeline(ctx context.Context, opts *runOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(logging.Config{Level: logging.LogLevel(cfg.LogLevel), Pretty: cfg.LogPretty})

	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr)
		defer srv.Shutdown(context.Background())
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis at %s: %w", cfg.RedisAddr, err)
	}

	minioClient, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return fmt.Errorf("connect object store at %s: %w", cfg.S3Endpoint, err)
	}

	store := storage.NewMinioStore(minioClient, cfg.Bucket)
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}

	auth := igdb.NewTwitchTokenProvider(cfg.ClientID, cfg.ClientSecret, nil)
	auth.SetTokenURL(cfg.TokenURL)

	client, err := igdb.New(igdb.Config{
		BaseURL:  cfg.BaseURL,
		ClientID: cfg.ClientID,
		Auth:     auth,
		Gate:     ratelimit.New(cfg.RequestsPerSecond, cfg.MaxConcurrency),
	})
	if err != nil {
		return err
	}

	orchestrator, err := pipeline.New(pipeline.Config{
		Fetcher:   client,
		Loader:    storage.NewJSONLLoader(store),
		Store:     store,
		State:     storage.NewRedisStateManager(redisClient, ""),
		BatchSize: cfg.BatchSize,
		WaveSize:  cfg.WaveSize,
	})
	if err != nil {
		return err
	}

	results, runErr := orchestrator.Run(ctx, pipeline.RunOptions{
		FullRefresh: opts.fullRefresh,
		Date:        opts.date,
		Entities:    opts.entities,
	})

	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = "FAILED: " + r.Err.Error()
		}
		fmt.Printf("%-22s %-12s %8d records %4d files %8.1fs  %s\n",
			r.Entity, r.Mode, r.Records, r.Files, r.Elapsed.Seconds(), status)
	}

	return runErr
}
