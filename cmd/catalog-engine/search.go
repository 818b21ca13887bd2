package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/catalog-engine/internal/workspace"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search <cql>",
	Short: "Run an ad-hoc query across catalog sources",
	Long: `Run a CQL query against every configured source, merge the responses into
a single de-duplicated result set, and print per-source status and the
results.

Use --save to keep the query and its results as a workspace file.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringSlice("source", nil, "sources to query (default: catalog.sources)")
	searchCmd.Flags().StringSlice("sort", nil, "sort as attribute:asc|desc, repeatable")
	searchCmd.Flags().Int("page-size", 0, "records per source (default: catalog.page_size)")
	searchCmd.Flags().Int("start", 1, "1-based index of the first record per source")
	searchCmd.Flags().Int("page", 1, "page of merged results to print")
	searchCmd.Flags().Int("per-page", 0, "merged results per printed page (default: all)")
	searchCmd.Flags().Bool("json", false, "print results as JSON")
	searchCmd.Flags().String("save", "", "write the query and results to a workspace file")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	desc, err := descriptorFromFlags(cmd, args[0])
	if err != nil {
		return err
	}

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	rs, err := sess.SetActive(desc)
	if err != nil {
		return err
	}
	done, err := rs.StartSearch(ctx)
	if err != nil {
		return err
	}
	if err := wait(ctx, done); err != nil {
		rs.CancelCurrentSearches()
		fmt.Fprintln(os.Stderr, "search canceled; showing partial results")
	}

	records := rs.Results()
	sess.cacheResults(ctx, records)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		cards := make([]types.Metacard, 0, len(records))
		for _, rec := range records {
			cards = append(cards, rec.Metacard())
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Status  []types.SourceStatus `json:"status"`
			Results []types.Metacard     `json:"results"`
		}{rs.Status(), cards})
	}

	printStatus(os.Stdout, rs)
	fmt.Println()
	n, _ := cmd.Flags().GetInt("page")
	perPage, _ := cmd.Flags().GetInt("per-page")
	page := rs.Page(n, perPage)
	printRecords(os.Stdout, page.Records, (page.Number-1)*page.Size)
	if page.Pages > 1 {
		fmt.Printf("\nPage %d of %d (%d results)\n", page.Number, page.Pages, page.Total)
	}

	if path, _ := cmd.Flags().GetString("save"); path != "" {
		w, err := sess.NewWorkspace("", desc.CQL)
		if err != nil {
			return err
		}
		saved, err := w.AddQuery(desc)
		if err != nil {
			return err
		}
		// The workspace query re-runs the same search so the saved file
		// holds the aggregate view of it.
		done, err := saved.StartSearch(ctx)
		if err != nil {
			return err
		}
		if err := wait(ctx, done); err != nil {
			return err
		}
		w.Aggregate().Flush()
		if err := workspace.WriteFile(path, w); err != nil {
			return err
		}
		fmt.Printf("\nSaved %d results to %s\n", w.Aggregate().Len(), path)
	}
	return nil
}

// descriptorFromFlags builds a query descriptor from the shared query flags.
func descriptorFromFlags(cmd *cobra.Command, cql string) (types.QueryDescriptor, error) {
	sources, _ := cmd.Flags().GetStringSlice("source")
	if len(sources) == 0 {
		sources = engineCfg.Catalog.Sources
	}
	pageSize, _ := cmd.Flags().GetInt("page-size")
	if pageSize <= 0 {
		pageSize = engineCfg.Catalog.PageSize
	}
	start, _ := cmd.Flags().GetInt("start")

	desc := types.QueryDescriptor{
		CQL:        cql,
		Sources:    sources,
		PageSize:   pageSize,
		StartIndex: start,
	}
	sorts, _ := cmd.Flags().GetStringSlice("sort")
	for _, s := range sorts {
		attr, dir, _ := strings.Cut(s, ":")
		if attr == "" {
			return desc, fmt.Errorf("invalid sort %q", s)
		}
		spec := types.SortSpec{Attribute: attr, Direction: types.SortAscending}
		switch strings.ToLower(dir) {
		case "", "asc":
		case "desc":
			spec.Direction = types.SortDescending
		default:
			return desc, fmt.Errorf("invalid sort direction %q", dir)
		}
		desc.Sort = append(desc.Sort, spec)
	}
	return desc, nil
}
