package run

import (
	"fmt"
	"io"
	"math"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/stat"

	"github.com/benchra/benchra/internal/rundata"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
)

// report prints the per-block summary table, the pairwise significance
// verdicts and the list of failed blocks.
func (p *Processor) report(w io.Writer) {
	fmt.Fprintln(w)
	bold.Fprintln(w, "Benchmark results")

	table := tablewriter.NewWriter(w)
	table.Header("Block", "Property", "Mean", "Std dev", "Runs")
	for _, block := range p.blocks {
		if p.store.HasError(block.ID) {
			continue
		}
		series := p.store.Series(block.ID)
		for _, prop := range series.Properties() {
			values := series.Data[prop]
			if len(values) == 0 {
				continue
			}
			mean := stat.Mean(values, nil)
			stddev := 0.0
			if len(values) > 1 {
				stddev = math.Sqrt(stat.Variance(values, nil))
			}
			_ = table.Append(
				block.Description(),
				prop,
				fmt.Sprintf("%.5g", mean),
				fmt.Sprintf("%.5g", stddev),
				fmt.Sprintf("%d", len(values)),
			)
		}
	}
	if err := table.Render(); err != nil {
		red.Fprintln(w, "rendering summary table failed:", err)
	}

	p.reportPairs(w)
	p.reportFailed(w)
}

// reportPairs prints the tester verdict for every healthy block pair on
// the wall-time property.
func (p *Processor) reportPairs(w io.Writer) {
	classifier := p.store.Classifier()
	var healthy []int
	for _, block := range p.blocks {
		if !p.store.HasError(block.ID) && !p.store.Series(block.ID).Discarded {
			healthy = append(healthy, block.ID)
		}
	}
	if len(healthy) < 2 {
		return
	}
	fmt.Fprintln(w)
	bold.Fprintf(w, "Pairwise comparison (%s test, %s)\n", classifier.TesterName(), rundata.TimeProperty)
	for i, a := range healthy {
		for _, b := range healthy[i+1:] {
			sa := p.store.Series(a).Data[rundata.TimeProperty]
			sb := p.store.Series(b).Data[rundata.TimeProperty]
			if len(sa) == 0 || len(sb) == 0 {
				continue
			}
			pval := classifier.Test(sa, sb)
			line := fmt.Sprintf("  %s vs %s: %s (p=%.4f)",
				p.describe(a), p.describe(b), classifier.Classify(sa, sb), pval)
			switch {
			case classifier.IsUnequal(sa, sb):
				green.Fprintln(w, line)
			case classifier.IsEqual(sa, sb):
				fmt.Fprintln(w, line)
			default:
				yellow.Fprintln(w, line)
			}
		}
	}
}

func (p *Processor) reportFailed(w io.Writer) {
	failed := p.store.ErroneousIDs()
	if len(failed) == 0 {
		return
	}
	fmt.Fprintln(w)
	red.Fprintf(w, "%d block(s) failed:\n", len(failed))
	for _, id := range failed {
		red.Fprintf(w, "  %s: %v\n", p.describe(id), p.store.BlockError(id))
	}
}
