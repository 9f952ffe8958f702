package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/3leaps/jobsender/pkg/jobset"
	"github.com/3leaps/jobsender/pkg/jobstate"
)

// outcomeJSON is the JSON form of an outcome; errors are rendered as text.
type outcomeJSON struct {
	jobset.Outcome
	Error string `json:"error,omitempty"`
}

type reportJSON struct {
	Op        string        `json:"op"`
	Empty     bool          `json:"empty,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Changed   []int         `json:"changed"`
	Failed    []int         `json:"failed"`
	Outcomes  []outcomeJSON `json:"outcomes"`
}

func printReport(w io.Writer, rep jobset.Report, asJSON bool) error {
	if asJSON {
		out := reportJSON{
			Op:        rep.Op,
			Empty:     rep.Empty,
			Cancelled: rep.Cancelled,
			Changed:   jobset.Indices(rep.Changed()),
			Failed:    jobset.Indices(rep.Failures()),
			Outcomes:  make([]outcomeJSON, len(rep.Outcomes)),
		}
		for i, o := range rep.Outcomes {
			out.Outcomes[i] = outcomeJSON{Outcome: o}
			if o.Err != nil {
				out.Outcomes[i].Error = o.Err.Error()
			}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if rep.Empty {
		_, err := fmt.Fprintf(w, "%s: no jobs selected\n", rep.Op)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tFROM\tTO\tHANDLE\tRESULT")
	for _, o := range rep.Outcomes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", o.Index, dash(o.From), dash(o.To), dash(o.Handle), result(o))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	summary := []string{fmt.Sprintf("%d changed", len(rep.Changed()))}
	if f := rep.Failures(); len(f) > 0 {
		summary = append(summary, fmt.Sprintf("%d failed (%s)", len(f), jobstate.CompactIndexList(jobset.Indices(f))))
	}
	if s := rep.Skipped(); len(s) > 0 {
		summary = append(summary, fmt.Sprintf("%d skipped", len(s)))
	}
	_, err := fmt.Fprintf(w, "%s: %s\n", rep.Op, strings.Join(summary, ", "))
	return err
}

func result(o jobset.Outcome) string {
	switch {
	case o.Err != nil && o.Note != "":
		return "error: " + o.Err.Error() + " (" + o.Note + ")"
	case o.Err != nil:
		return "error: " + o.Err.Error()
	case o.Skipped:
		return "skipped: " + o.Note
	case o.Note != "":
		return o.Note
	}
	return "ok"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
