package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/jobsender/pkg/jobstate"
)

var statusLong bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded state of the batch",
	Long: `Show the states recorded in the batch state file. Status does not talk to
the scheduler; run retrieve first to refresh the states.

Examples:
  clustermanager status
  clustermanager status --long
  clustermanager status --json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVarP(&statusLong, "long", "l", false, "List every job")
}

type statusJSON struct {
	BatchID   string               `json:"batch_id"`
	Name      string               `json:"name"`
	Flavor    string               `json:"flavor"`
	Cluster   jobstate.Cluster     `json:"cluster"`
	CreatedAt time.Time            `json:"created_at"`
	Counts    map[string]int       `json:"counts"`
	Jobs      []jobstate.JobRecord `json:"jobs"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	b, err := openBatch()
	if err != nil {
		return err
	}
	if err := printStatus(cmd.OutOrStdout(), b.store, statusLong, jsonOut, time.Now()); err != nil {
		return exitError(int(foundry.ExitFileWriteError), "Failed to write status", err)
	}
	return nil
}

func printStatus(w io.Writer, s *jobstate.Store, long, asJSON bool, now time.Time) error {
	records := s.Records()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(statusJSON{
			BatchID:   s.BatchID,
			Name:      s.Batch.Name,
			Flavor:    s.Batch.Flavor,
			Cluster:   s.Batch.Cluster,
			CreatedAt: s.CreatedAt,
			Counts:    s.Counts(),
			Jobs:      records,
		})
	}

	fmt.Fprintf(w, "Batch %s (%s, %s on %s)\n", s.Batch.Name, s.BatchID, s.Batch.Flavor, dash(s.Batch.Cluster.Backend))
	fmt.Fprintf(w, "Created %s, %d jobs\n\n", humanize.RelTime(s.CreatedAt, now, "ago", "from now"), len(records))

	byLabel := make(map[string][]int)
	for _, r := range records {
		byLabel[r.Label()] = append(byLabel[r.Label()], r.Index)
	}
	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	slices.Sort(labels)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tJOBS\tINDICES")
	for _, l := range labels {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", l, len(byLabel[l]), jobstate.CompactIndexList(byLabel[l]))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !long {
		return nil
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATE\tHANDLE\tSUBMITS\tUPDATED\tLAST ERROR")
	for _, r := range records {
		updated := "-"
		if !r.UpdatedAt.IsZero() {
			updated = humanize.RelTime(r.UpdatedAt, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", r.Index, r.Label(), dash(r.Handle), r.SubmitCount, updated, dash(r.LastError))
	}
	return tw.Flush()
}
