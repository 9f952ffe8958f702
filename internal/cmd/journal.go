package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/jobsender/internal/observability"
	"github.com/3leaps/jobsender/pkg/jobset"
	"github.com/3leaps/jobsender/pkg/output"
)

// journal appends the report of an operation to the batch journal. A
// failing journal never fails the command; the state file stays the
// source of truth.
func (b *batch) journal(rep jobset.Report, saveErr error) {
	path := b.cfg.JournalPath()
	if path == "" {
		return
	}
	if err := writeJournal(path, b, rep, saveErr); err != nil {
		observability.CLILogger.Warn("Failed to append to batch journal", zap.String("path", path), zap.Error(err))
	}
}

func writeJournal(path string, b *batch, rep jobset.Report, saveErr error) (err error) {
	w, err := output.OpenJournal(path, b.store.BatchID, b.store.Batch.Cluster.Backend)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()

	// The command context may already be cancelled; the journal still
	// records what happened.
	ctx := context.Background()
	for _, o := range rep.Outcomes {
		rec := &output.OutcomeRecord{
			Op:      rep.Op,
			Index:   o.Index,
			From:    o.From,
			To:      o.To,
			Handle:  o.Handle,
			Skipped: o.Skipped,
			Note:    o.Note,
		}
		if o.Err != nil {
			rec.Error = o.Err.Error()
		}
		if err := w.WriteOutcome(ctx, rec); err != nil {
			return err
		}
	}

	if saveErr != nil {
		if err := w.WriteError(ctx, &output.ErrorRecord{Code: output.ErrCodeStateWrite, Op: rep.Op, Message: saveErr.Error()}); err != nil {
			return err
		}
	}
	if rep.Cancelled {
		if err := w.WriteError(ctx, &output.ErrorRecord{Code: output.ErrCodeCancelled, Op: rep.Op, Message: "interrupted before every job was processed"}); err != nil {
			return err
		}
	}

	elapsed := time.Since(b.started)
	return w.WriteSummary(ctx, &output.SummaryRecord{
		Op:            rep.Op,
		Selected:      len(rep.Outcomes),
		Changed:       jobset.Indices(rep.Changed()),
		Failed:        jobset.Indices(rep.Failures()),
		Skipped:       len(rep.Skipped()),
		Cancelled:     rep.Cancelled,
		DryRun:        b.cfg.DryRun,
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
	})
}
