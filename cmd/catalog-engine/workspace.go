package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/catalog-engine/internal/store"
	"github.com/pdiddy/catalog-engine/internal/workspace"
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Manage workspaces and their aggregated results",
}

var wsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored workspaces",
	Args:  cobra.NoArgs,
	RunE:  runWorkspaceList,
}

var wsCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create an empty workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceCreate,
}

var wsAddQueryCmd = &cobra.Command{
	Use:   "add-query <workspace-id> <cql>",
	Short: "Add a query to a workspace",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkspaceAddQuery,
}

var wsRemoveQueryCmd = &cobra.Command{
	Use:   "remove-query <workspace-id> <query-id>",
	Short: "Remove a query from a workspace",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkspaceRemoveQuery,
}

var wsRunCmd = &cobra.Command{
	Use:   "run <workspace-id>",
	Short: "Run every query in a workspace and print the aggregate",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceRun,
}

var wsDeleteCmd = &cobra.Command{
	Use:   "delete <workspace-id>",
	Short: "Delete a workspace and its queries",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceDelete,
}

var wsExportCmd = &cobra.Command{
	Use:   "export <workspace-id> <file>",
	Short: "Run a workspace and write it with its results to a YAML file",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkspaceExport,
}

var wsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Store a workspace file and cache its results",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceImport,
}

func init() {
	wsAddQueryCmd.Flags().String("id", "", "query id (default: random)")
	wsAddQueryCmd.Flags().String("title", "", "query title")
	wsAddQueryCmd.Flags().StringSlice("source", nil, "sources to query (default: catalog.sources)")
	wsAddQueryCmd.Flags().StringSlice("sort", nil, "sort as attribute:asc|desc, repeatable")
	wsAddQueryCmd.Flags().Int("page-size", 0, "records per source (default: catalog.page_size)")
	wsAddQueryCmd.Flags().Int("start", 1, "1-based index of the first record per source")

	workspaceCmd.AddCommand(wsListCmd, wsCreateCmd, wsAddQueryCmd, wsRemoveQueryCmd,
		wsRunCmd, wsDeleteCmd, wsExportCmd, wsImportCmd)
	rootCmd.AddCommand(workspaceCmd)
}

func runWorkspaceList(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tTITLE\tQUERIES\n")
	for _, w := range sess.Workspaces() {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", w.ID(), w.Title(), len(w.Queries()))
	}
	return tw.Flush()
}

func runWorkspaceCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	w, err := sess.NewWorkspace("", args[0])
	if err != nil {
		return err
	}
	if err := sess.SaveWorkspace(ctx, w.ID()); err != nil {
		return err
	}
	fmt.Println(w.ID())
	return nil
}

func runWorkspaceAddQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	desc, err := descriptorFromFlags(cmd, args[1])
	if err != nil {
		return err
	}
	desc.ID, _ = cmd.Flags().GetString("id")
	desc.Title, _ = cmd.Flags().GetString("title")

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	w, err := sess.Workspace(args[0])
	if err != nil {
		return err
	}
	rs, err := w.AddQuery(desc)
	if err != nil {
		return err
	}
	if err := sess.SaveWorkspace(ctx, w.ID()); err != nil {
		return err
	}
	fmt.Println(rs.ID())
	return nil
}

func runWorkspaceRemoveQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	w, err := sess.Workspace(args[0])
	if err != nil {
		return err
	}
	if err := w.RemoveQuery(args[1]); err != nil {
		return err
	}
	return sess.SaveWorkspace(ctx, w.ID())
}

// runWorkspace executes every query of the workspace and waits for the
// aggregate to settle.
func runWorkspace(ctx context.Context, sess *session, id string) (*workspace.Workspace, error) {
	w, err := sess.Workspace(id)
	if err != nil {
		return nil, err
	}
	done, err := w.SearchAll(ctx)
	if err != nil {
		return nil, err
	}
	if err := wait(ctx, done); err != nil {
		w.CancelAll()
		logger.Warn("workspace search interrupted", zap.String("workspace", id))
	}
	w.Aggregate().Flush()
	for _, rs := range w.Queries() {
		sess.cacheResults(ctx, rs.Results())
	}
	return w, nil
}

func runWorkspaceRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	w, err := runWorkspace(ctx, sess, args[0])
	if err != nil {
		return err
	}
	for _, rs := range w.Queries() {
		fmt.Printf("Query %s: %s\n", rs.ID(), rs.Descriptor().CQL)
		printStatus(os.Stdout, rs)
		fmt.Println()
	}
	fmt.Printf("Aggregate (%d results, %d hidden identities)\n", w.Aggregate().Len(), sess.Blacklist().Len())
	printRecords(os.Stdout, w.Aggregate().Results(), 0)
	return nil
}

func runWorkspaceDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return sess.RemoveWorkspace(ctx, args[0])
}

func runWorkspaceExport(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	w, err := runWorkspace(ctx, sess, args[0])
	if err != nil {
		return err
	}
	if err := workspace.WriteFile(args[1], w); err != nil {
		return err
	}
	fmt.Printf("Wrote %d results to %s\n", w.Aggregate().Len(), args[1])
	return nil
}

func runWorkspaceImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, err := workspace.ReadFile(args[0])
	if err != nil {
		return err
	}
	if f.ID == "" {
		return fmt.Errorf("workspace file %s has no id", args[0])
	}

	st, err := store.Open(engineCfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SaveWorkspace(ctx, store.Workspace{ID: f.ID, Title: f.Title, Queries: f.Queries}); err != nil {
		return err
	}
	var cached int
	for _, m := range f.Metacards() {
		if err := st.PutMetacard(ctx, m); err != nil {
			logger.Warn("skipping result", zap.String("id", m.ID), zap.Error(err))
			continue
		}
		cached++
	}
	fmt.Printf("Imported workspace %s (%d queries, %d cached results)\n", f.ID, len(f.Queries), cached)
	return nil
}
