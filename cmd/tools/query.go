package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/iter"
	"github.com/lychee-technology/fedsparql/internal/remote"
	"github.com/spf13/cobra"
)

const queryFileHelp = `The query file holds a JSON basic graph pattern; "-" reads it from stdin:

  {"patterns": [["?x", "foaf:knows", "?y"], ["?y", "foaf:name", "?n"]],
   "filters": ["?n != \"Bob\""], "distinct": true}`

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	var report bool

	cmd := &cobra.Command{
		Use:   "query <query-file>",
		Short: "Evaluate a basic graph pattern over the federation",
		Long:  "Evaluate a basic graph pattern over the federation.\n\n" + queryFileHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := readQueryFile(cmd, args[0])
			if err != nil {
				return err
			}
			fed, err := rootOpts.federation(cmd.Context(), func(cfg *fedsparql.Config) {
				cfg.Evaluation.IncludeExecutionReport = cfg.Evaluation.IncludeExecutionReport || report
			})
			if err != nil {
				return err
			}

			it, err := fed.Execute(cmd.Context(), q)
			if err != nil {
				return err
			}
			rows, err := iter.Collect(it)
			if err != nil {
				return err
			}
			if err := writeRows(cmd.OutOrStdout(), rootOpts.Format, fedsparql.Vars(q.Where), rows); err != nil {
				return err
			}

			if rep, ok := it.(fedsparql.Reporter); ok && report {
				if r := rep.Report(); r != nil {
					enc := json.NewEncoder(cmd.ErrOrStderr())
					enc.SetIndent("", "  ")
					return enc.Encode(r)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&report, "report", false, "print the execution report to stderr")
	return cmd
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <query-file>",
		Short: "Print the optimized plan with estimated cardinalities and costs",
		Long:  "Print the optimized plan with estimated cardinalities and costs.\n\n" + queryFileHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := readQueryFile(cmd, args[0])
			if err != nil {
				return err
			}
			fed, err := rootOpts.federation(cmd.Context())
			if err != nil {
				return err
			}
			plan, err := fed.Explain(cmd.Context(), q)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"plan": plan})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(plan, "\n"))
			return err
		},
	}
}

// NewSourcesCommand creates the sources command.
func NewSourcesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sources <query-file>",
		Short: "Show the sources selected for each pattern",
		Long:  "Show the sources selected for each pattern.\n\n" + queryFileHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readQueryRequest(cmd, args[0])
			if err != nil {
				return err
			}
			patterns, err := req.TriplePatterns()
			if err != nil {
				return err
			}
			fed, err := rootOpts.federation(cmd.Context())
			if err != nil {
				return err
			}
			mapped, err := fed.MapSources(cmd.Context(), patterns)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return json.NewEncoder(out).Encode(mapped)
			}
			for _, mp := range mapped {
				for _, p := range mp.Patterns {
					fmt.Fprintln(out, p.String())
				}
				for _, src := range mp.Sources {
					fmt.Fprintf(out, "  -> %s\n", src.Endpoint)
				}
			}
			return nil
		},
	}
}

func readQueryRequest(cmd *cobra.Command, path string) (fedsparql.QueryRequest, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fedsparql.QueryRequest{}, fmt.Errorf("read query file: %w", err)
	}

	var req fedsparql.QueryRequest
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return fedsparql.QueryRequest{}, fmt.Errorf("parse query file: %w", err)
	}
	return req, nil
}

func readQueryFile(cmd *cobra.Command, path string) (*fedsparql.Query, error) {
	req, err := readQueryRequest(cmd, path)
	if err != nil {
		return nil, err
	}
	return req.Query()
}

// writeRows prints rows as a SPARQL JSON document or as a tab aligned table
// with one column per variable.
func writeRows(w io.Writer, format string, vars []string, rows []fedsparql.BindingSet) error {
	if format == "json" {
		return remote.WriteResults(w, vars, rows)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := make([]string, len(vars))
	for i, v := range vars {
		header[i] = "?" + v
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		cells := make([]string, len(vars))
		for i, v := range vars {
			if t, ok := row[v]; ok {
				cells[i] = t.String()
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}
