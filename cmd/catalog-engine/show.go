package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <source/id>",
	Short: "Print a record with its validation issues and preview",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().Bool("validation", false, "fetch validation issues")
	showCmd.Flags().Bool("preview", false, "fetch the HTML preview")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

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
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec.Metacard()); err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetBool("validation"); v {
		issues, err := rec.Validation(ctx)
		if err != nil {
			return fmt.Errorf("validation: %w", err)
		}
		fmt.Printf("\n%d validation issues\n", len(issues))
		for _, is := range issues {
			fmt.Printf("  %s [%s] %s\n", is.Attribute, is.Severity, strings.Join(is.Messages, "; "))
		}
	}
	if p, _ := cmd.Flags().GetBool("preview"); p {
		html, err := rec.Preview(ctx)
		if err != nil {
			return fmt.Errorf("preview: %w", err)
		}
		fmt.Printf("\n%s\n", html)
	}
	return nil
}
