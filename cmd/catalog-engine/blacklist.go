package main

import (
	"github.com/spf13/cobra"
)

var blacklistCmd = &cobra.Command{
	Use:   "blacklist",
	Short: "Hide records from workspace aggregates",
}

var blacklistAddCmd = &cobra.Command{
	Use:   "add <source/id>",
	Short: "Hide a record from every workspace aggregate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		sess, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()
		return sess.Hide(ctx, key)
	},
}

var blacklistRemoveCmd = &cobra.Command{
	Use:   "remove <source/id>",
	Short: "Show a hidden record again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		sess, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()
		return sess.Unhide(ctx, key)
	},
}

var blacklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hidden identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()
		listReferences(sess.Blacklist())
		return nil
	},
}

func init() {
	blacklistCmd.AddCommand(blacklistAddCmd, blacklistRemoveCmd, blacklistListCmd)
	rootCmd.AddCommand(blacklistCmd)
}
