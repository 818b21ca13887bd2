package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"github.com/pdiddy/catalog-engine/internal/cluster"
	"github.com/pdiddy/catalog-engine/internal/result"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster <workspace-id>",
	Short: "Group a workspace's results into map clusters",
	Long: `Run a workspace, project its aggregate into a map view, and group records
whose screen positions are close into clusters. Records outside the view,
on the far side of the globe, or without usable geometry are excluded.`,
	Args: cobra.ExactArgs(1),
	RunE: runCluster,
}

func init() {
	clusterCmd.Flags().Float64("lon", 0, "longitude at the center of the view")
	clusterCmd.Flags().Float64("lat", 0, "latitude at the center of the view")
	clusterCmd.Flags().Float64("zoom", 2, "map zoom level (flat view)")
	clusterCmd.Flags().Float64("width", 1024, "view width in pixels")
	clusterCmd.Flags().Float64("height", 768, "view height in pixels")
	clusterCmd.Flags().Bool("globe", false, "use an orthographic globe instead of a flat map")
	clusterCmd.Flags().Float64("globe-radius", 300, "globe radius in pixels")
	rootCmd.AddCommand(clusterCmd)
}

func runCluster(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	proj := projectorFromFlags(cmd)

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	w, err := runWorkspace(ctx, sess, args[0])
	if err != nil {
		return err
	}
	res := sess.CalculateClusters(w.Aggregate().Results(), proj)

	fmt.Printf("%d clusters, %d individual, %d excluded\n\n", len(res.Clusters), len(res.Individuals), res.Excluded)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "GROUP\tSIZE\tCENTER\tMEMBERS\n")
	for i, members := range res.Clusters {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", i+1, len(members), center(members), titles(members))
	}
	for _, rec := range res.Individuals {
		fmt.Fprintf(tw, "-\t1\t%s\t%s\n", center([]*result.Record{rec}), rec.Title())
	}
	return tw.Flush()
}

func projectorFromFlags(cmd *cobra.Command) cluster.Projector {
	lon, _ := cmd.Flags().GetFloat64("lon")
	lat, _ := cmd.Flags().GetFloat64("lat")
	width, _ := cmd.Flags().GetFloat64("width")
	height, _ := cmd.Flags().GetFloat64("height")
	if globe, _ := cmd.Flags().GetBool("globe"); globe {
		radius, _ := cmd.Flags().GetFloat64("globe-radius")
		return cluster.Globe{Center: orb.Point{lon, lat}, Radius: radius, Width: width, Height: height}
	}
	zoom, _ := cmd.Flags().GetFloat64("zoom")
	return cluster.Viewport{Center: orb.Point{lon, lat}, Zoom: zoom, Width: width, Height: height}
}

// center is the mean lon/lat of the members' geometry centroids.
func center(members []*result.Record) string {
	var sum orb.Point
	var n float64
	for _, rec := range members {
		c, err := cluster.Centroid(rec.Geometry())
		if err != nil {
			continue
		}
		sum[0] += c[0]
		sum[1] += c[1]
		n++
	}
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("%.4f,%.4f", sum[0]/n, sum[1]/n)
}

func titles(members []*result.Record) string {
	const limit = 3
	out := ""
	for i, rec := range members {
		if i == limit {
			return fmt.Sprintf("%s, +%d more", out, len(members)-limit)
		}
		if i > 0 {
			out += ", "
		}
		out += rec.Title()
	}
	return out
}
