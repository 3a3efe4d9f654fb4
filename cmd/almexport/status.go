package main

import (
	"fmt"
	"time"

	"github.com/Sternrassler/alm-export/pkg/config"
	"github.com/Sternrassler/alm-export/pkg/progress"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		runID       string
		preferences string
		redisAddr   string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the progress of an export run published to Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				prefs config.Preferences
				err   error
			)
			if preferences != "" {
				prefs, err = config.Load(preferences)
			} else {
				prefs, err = config.FromEnv()
			}
			if err != nil {
				return fmt.Errorf("load preferences: %w", err)
			}
			if redisAddr != "" {
				prefs.Redis.Addr = redisAddr
			}

			rdb := redis.NewClient(&redis.Options{
				Addr:     prefs.Redis.Addr,
				Password: prefs.Redis.Password,
				DB:       prefs.Redis.DB,
			})
			defer rdb.Close()

			state, err := progress.NewStore(rdb, prefs.Progress.TTL).Load(cmd.Context(), runID)
			if err != nil {
				return err
			}

			status := "running"
			switch {
			case state.Finished:
				status = "finished"
			case state.IsStale(10 * time.Minute):
				status = "stale"
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s %.1f%% (%d/%d) started %s, updated %s\n",
				state.RunID, status, state.Percent(), min(state.Advanced, state.Total), state.Total,
				state.StartedAt.Local().Format(time.DateTime), state.LastUpdate.Local().Format(time.DateTime))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&runID, "run-id", "", "export run identifier")
	f.StringVarP(&preferences, "preferences", "p", "", "preferences file providing the redis section")
	f.StringVar(&redisAddr, "redis-addr", "", "redis address (overrides redis.addr)")
	_ = cmd.MarkFlagRequired("run-id")

	return cmd
}
