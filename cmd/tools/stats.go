package main

import (
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/factory"
	"github.com/lychee-technology/fedsparql/internal/voidstats"
	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		snapshot   string
		partitions bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the loaded VoID statistics",
		Long: `Print the VoID statistics of the configured backend, or of a snapshot
file given with --snapshot. With --format json the statistics are printed
as a snapshot document.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var idx *voidstats.Index
			if snapshot != "" {
				loaded, err := voidstats.FileLoader{Path: snapshot}.Load(cmd.Context())
				if err != nil {
					return err
				}
				idx = loaded
			} else {
				cfg, err := rootOpts.loadConfig()
				if err != nil {
					return err
				}
				if idx, err = factory.LoadStatistics(cmd.Context(), cfg); err != nil {
					return err
				}
				if idx == nil {
					return fedsparql.NewConfigurationError(fedsparql.ErrCodeStatisticsUnavailable, "no statistics backend configured")
				}
			}

			if rootOpts.Format == "json" {
				return voidstats.EncodeSnapshot(cmd.OutOrStdout(), idx)
			}
			return printStats(cmd, idx, partitions)
		},
	}

	cmd.Flags().StringVar(&snapshot, "snapshot", "", "read statistics from this snapshot file")
	cmd.Flags().BoolVar(&partitions, "partitions", false, "list property and class partitions")
	return cmd
}

func printStats(cmd *cobra.Command, idx *voidstats.Index, partitions bool) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tTRIPLES\tSUBJECTS\tOBJECTS\tPROPERTIES\tCLASSES")
	for _, ds := range idx.Datasets() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n",
			ds.Endpoint, ds.Triples, ds.DistinctSubjects, ds.DistinctObjects, ds.Properties, len(ds.ClassPartitions))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !partitions {
		return nil
	}

	for _, ds := range idx.Datasets() {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", ds.Endpoint)
		tw = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  KIND\tIRI\tTRIPLES\tSUBJECTS\tOBJECTS\tENTITIES")
		for _, pred := range idx.Predicates(fedsparql.NewSource(ds.Endpoint)) {
			p := ds.PropertyPartitions[pred]
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\t%d\t%d\n", voidstats.KindProperty, pred, p.Triples, p.DistinctSubjects, p.DistinctObjects, p.Entities)
		}
		for _, class := range slices.Sorted(maps.Keys(ds.ClassPartitions)) {
			p := ds.ClassPartitions[class]
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\t%d\t%d\n", voidstats.KindClass, class, p.Triples, p.DistinctSubjects, p.DistinctObjects, p.Entities)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
