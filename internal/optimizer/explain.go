package optimizer

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/estimator"
)

// Explain renders a plan tree with estimated cardinalities and costs, one
// operator per line, children indented by two spaces.
func Explain(pass *estimator.Pass, n fedsparql.Node) string {
	var sb strings.Builder
	explain(&sb, pass, n, 0)
	return sb.String()
}

func explain(sb *strings.Builder, pass *estimator.Pass, n fedsparql.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch v := n.(type) {
	case *fedsparql.AccessPlan:
		fmt.Fprintf(sb, "%sAccessPlan sources=%s card=%.1f cost=%.1f\n", indent, v.Sources, pass.Cardinality(v), pass.Cost(v))
		for _, p := range v.Patterns {
			fmt.Fprintf(sb, "%s  %s .\n", indent, p)
		}
		writeFilters(sb, indent+"  ", v.Filters)
	case *fedsparql.Join:
		fmt.Fprintf(sb, "%sJoin algo=%s exec=%s card=%.1f cost=%.1f\n", indent, v.Algo, v.Exec, pass.Cardinality(v), pass.Cost(v))
		writeFilters(sb, indent+"  ", v.Filters)
		explain(sb, pass, v.Left, depth+1)
		explain(sb, pass, v.Right, depth+1)
	case *fedsparql.LeftJoin:
		fmt.Fprintf(sb, "%sLeftJoin (optional branch not evaluated)\n", indent)
		explain(sb, pass, v.Left, depth+1)
		explain(sb, pass, v.Right, depth+1)
	case *fedsparql.BGP:
		fmt.Fprintf(sb, "%sBGP (unoptimized) patterns=%d\n", indent, len(v.Patterns))
		for _, p := range v.Patterns {
			fmt.Fprintf(sb, "%s  %s .\n", indent, p)
		}
		writeFilters(sb, indent+"  ", v.Filters)
	}
}

func writeFilters(sb *strings.Builder, indent string, filters []fedsparql.Filter) {
	for _, f := range filters {
		fmt.Fprintf(sb, "%sFILTER (%s)\n", indent, f.Expr)
	}
}
