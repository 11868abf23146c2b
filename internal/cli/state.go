package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/gamelake/igdb-pipeline/pkg/config"
	"github.com/gamelake/igdb-pipeline/pkg/igdb"
	"github.com/gamelake/igdb-pipeline/pkg/logging"
	"github.com/gamelake/igdb-pipeline/pkg/storage"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset per-entity run state",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show the last successful run time of every entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStateManager(cmd.Context(), func(ctx context.Context, state storage.StateManager) error {
				for _, entity := range igdb.Catalog() {
					last, err := state.LastRunTime(ctx, entity.Name)
					if err != nil {
						return err
					}
					when := "never"
					if last != nil {
						when = last.UTC().Format("2006-01-02 15:04:05 MST")
					}
					fmt.Printf("%-22s %s\n", entity.Name, when)
				}
				return nil
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset <entity>",
		Short: "Clear an entity's state so its next run is a full load",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if _, ok := igdb.LookupEntity(name); !ok {
				return fmt.Errorf("unknown entity %q", name)
			}
			return withStateManager(cmd.Context(), func(ctx context.Context, state storage.StateManager) error {
				if err := state.Reset(ctx, name); err != nil {
					return err
				}
				fmt.Printf("state reset for %s\n", name)
				return nil
			})
		},
	}

	cmd.AddCommand(list, reset)
	return cmd
}

func withStateManager(ctx context.Context, fn func(context.Context, storage.StateManager) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(logging.Config{Level: logging.LogLevel(cfg.LogLevel), Pretty: cfg.LogPretty})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis at %s: %w", cfg.RedisAddr, err)
	}

	return fn(ctx, storage.NewRedisStateManager(redisClient, ""))
}
