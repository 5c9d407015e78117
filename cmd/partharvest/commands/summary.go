package commands

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/use-agent/partharvest/harvest"
	"github.com/use-agent/partharvest/models"
)

// renderSummary prints the run totals and, when any, the skipped identifiers.
func renderSummary(w io.Writer, s models.RunSummary, outcomes []harvest.ItemOutcome) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Harvest summary")
	t.AppendRows([]table.Row{
		{"Records scraped", s.Committed},
		{"Requested", s.Requested},
		{"Skipped", s.Skipped},
		{"Browser restarts", s.Restarts},
		{"Identity rotations", s.Rotations},
	})
	if s.Halted {
		t.AppendRow(table.Row{"Halted", s.HaltReason})
	}
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"CSV", s.CSVPath},
		{"JSON", s.JSONPath},
	})
	t.SetStyle(table.StyleRounded)
	t.Render()

	skipped := table.NewWriter()
	skipped.SetOutputMirror(w)
	skipped.AppendHeader(table.Row{"Identifier", "Code", "Error"})
	for _, o := range outcomes {
		if o.Status != harvest.ItemSkipped {
			continue
		}
		msg := ""
		if o.Err != nil {
			msg = o.Err.Error()
		}
		skipped.AppendRow(table.Row{o.Identifier, o.Code, msg})
	}
	if skipped.Length() == 0 {
		return
	}
	skipped.SetStyle(table.StyleRounded)
	skipped.Render()
}
