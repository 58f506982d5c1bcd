package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/strata/internal/types"
)

func newStatsCmd() *cobra.Command {
	opts := &localOptions{}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show item counts and database details for an organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := db.GetStats(context.Background(), opts.orgID)
			if err != nil {
				return err
			}

			path := opts.dbPath
			var sizeBytes int64
			if info, statErr := os.Stat(path); statErr == nil {
				sizeBytes = info.Size()
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, map[string]any{
					"organization_id": opts.orgID,
					"stats":           stats,
					"path":            path,
					"size_bytes":      sizeBytes,
				})
			}

			fmt.Fprintf(out, "Organization: %s\n", opts.orgID)
			fmt.Fprintf(out, "Items:        %s (%s roots)\n", humanize.Comma(stats.ItemCount), humanize.Comma(stats.RootCount))
			for _, tf := range types.Timeframes {
				fmt.Fprintf(out, "  %-10s  %s\n", tf, humanize.Comma(stats.TimeframeStats[tf]))
			}
			fmt.Fprintf(out, "Last change:  #%d\n", stats.LatestSequence)
			if stats.LastSnapshot != nil {
				fmt.Fprintf(out, "Snapshot:     %s\n", humanize.Time(*stats.LastSnapshot))
			} else {
				fmt.Fprintln(out, "Snapshot:     never")
			}
			fmt.Fprintf(out, "Size:         %s\n", humanize.Bytes(uint64(sizeBytes)))
			fmt.Fprintf(out, "Path:         %s\n", path)
			return nil
		},
	}
	opts.register(cmd)

	return cmd
}
