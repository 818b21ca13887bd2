package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/catalog-engine/internal/reference"
)

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Manage records referenced from alerts",
}

var alertAddCmd = &cobra.Command{
	Use:   "add <source/id>",
	Short: "Reference a record from the alert collection",
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

		rec, err := sess.resolve(ctx, key)
		if err != nil {
			return err
		}
		return sess.AddAlert(ctx, rec)
	},
}

var alertRemoveCmd = &cobra.Command{
	Use:   "remove <source/id>",
	Short: "Drop a record from the alert collection",
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
		return sess.RemoveAlert(ctx, key)
	},
}

var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alert references",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()
		listReferences(sess.Alerts())
		return nil
	},
}

func init() {
	alertCmd.AddCommand(alertAddCmd, alertRemoveCmd, alertListCmd)
	rootCmd.AddCommand(alertCmd)
}

// listReferences prints a collection's identities with the record title when
// the record is held.
func listReferences(c *reference.Collection) {
	for _, key := range c.Keys() {
		if rec, ok := c.Lookup(key); ok {
			fmt.Printf("%s\t%s\n", key, rec.Title())
			continue
		}
		fmt.Println(key)
	}
}
