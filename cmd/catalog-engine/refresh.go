package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh <source/id>",
	Short: "Re-fetch a record and update every copy of it",
	Long: `Re-fetch one metacard from the catalog and propagate the fresh data to every
record sharing its identity: each query of each workspace that holds it and
the alert collection.

With --run, stored workspaces are searched first so their records are live
holders. Without it, only alert copies and the local cache are refreshed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().Bool("run", false, "search every stored workspace before refreshing")
	refreshCmd.Flags().Int("concurrency", 0, "parallel fetches per refresh (default: refresh.concurrency)")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	key, err := parseKey(args[0])
	if err != nil {
		return err
	}

	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		engineCfg.Refresh.Concurrency = n
	}

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if run, _ := cmd.Flags().GetBool("run"); run {
		for _, w := range sess.Workspaces() {
			if _, err := runWorkspace(ctx, sess, w.ID()); err != nil {
				return err
			}
		}
	}

	rec, err := sess.resolve(ctx, key)
	if err != nil {
		return err
	}
	rep := sess.RefreshResult(ctx, rec)
	fmt.Printf("%s: %d holders, %d refreshed, %d failed\n", key, rep.Targets, rep.Refreshed, rep.Failed)
	if err := rep.Err(); err != nil {
		logger.Warn("refresh incomplete", zap.Stringer("key", key), zap.Error(err))
		return err
	}
	fmt.Printf("title: %s\n", rec.Title())
	return nil
}
