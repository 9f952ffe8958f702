package jobset

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/jobsender/pkg/cluster"
	"github.com/3leaps/jobsender/pkg/jobstate"
	"github.com/3leaps/jobsender/pkg/workenv"
)

// Default selection rules.
var (
	// DefaultPrepare selects jobs whose directory has not been written.
	DefaultPrepare = jobstate.InState(jobstate.StateUnset)

	// DefaultRetrieve selects jobs the scheduler still holds. Terminal jobs
	// are never queried again.
	DefaultRetrieve = jobstate.InState(jobstate.StateSubmitted, jobstate.StateRunning)

	// DefaultResubmit selects failed, aborted and never-submitted jobs.
	// Successful jobs are only resubmitted when named explicitly.
	DefaultResubmit = jobstate.AnyOf(
		jobstate.FinishedWith(jobstate.StatusFail),
		jobstate.InState(jobstate.StateAborted, jobstate.StateConfigured),
	)

	// DefaultReconfigure selects jobs whose configuration failed.
	DefaultReconfigure = jobstate.InState(jobstate.StateUnset)

	// DefaultKill selects jobs the scheduler still holds.
	DefaultKill = jobstate.InState(jobstate.StateSubmitted, jobstate.StateRunning)
)

// Prepare writes the job directory of every selected unset job, moving it
// to configured. A configuration error leaves the job unset.
func (c *Controller) Prepare(ctx context.Context, store *jobstate.Store, sel Selection) Report {
	return c.run(ctx, OpPrepare, store, sel, DefaultPrepare, func(_ context.Context, rec jobstate.JobRecord) (jobstate.JobRecord, Outcome) {
		if rec.State != jobstate.StateUnset {
			return rec, skip("already " + rec.Label())
		}
		rec, err := c.materialize(rec)
		return rec, Outcome{Err: err}
	})
}

// Send prepares and submits the selected jobs. Unset jobs are materialized
// first; configured jobs are submitted. Jobs in any other state are left
// alone. By default every job of the store is considered.
func (c *Controller) Send(ctx context.Context, store *jobstate.Store, sel Selection) Report {
	return c.run(ctx, OpSend, store, sel, nil, func(ctx context.Context, rec jobstate.JobRecord) (jobstate.JobRecord, Outcome) {
		switch rec.State {
		case jobstate.StateUnset:
			var err error
			if rec, err = c.materialize(rec); err != nil {
				return rec, Outcome{Err: err}
			}
		case jobstate.StateConfigured:
		default:
			return rec, skip("already " + rec.Label())
		}
		rec, err := c.submit(ctx, rec)
		return rec, Outcome{Err: err}
	})
}

// Retrieve queries the scheduler for every selected submitted or running
// job and applies the reported status. Queries that fail or return an
// unrecognized status leave the job unchanged and are reported.
func (c *Controller) Retrieve(ctx context.Context, store *jobstate.Store, sel Selection) Report {
	return c.run(ctx, OpRetrieve, store, sel, DefaultRetrieve, func(ctx context.Context, rec jobstate.JobRecord) (jobstate.JobRecord, Outcome) {
		if !rec.State.Alive() {
			return rec, skip("not on the cluster (" + rec.Label() + ")")
		}
		if c.adapter == nil {
			return rec, Outcome{Err: errNoAdapter}
		}
		if err := c.wait(ctx); err != nil {
			return rec, Outcome{Err: err}
		}

		remote, err := c.adapter.Query(ctx, rec.Handle)
		if err != nil {
			c.touch(&rec, err)
			c.log.Warn("Job status query failed", zap.Int("index", rec.Index), zap.String("handle", rec.Handle), zap.Error(err))
			return rec, Outcome{Err: err}
		}

		next := rec
		switch remote {
		case cluster.RemotePending:
			// A running job reported as queued again stays running.
		case cluster.RemoteRunning:
			next.State = jobstate.StateRunning
		case cluster.RemoteSucceeded:
			next.State = jobstate.StateFinished
			next.Status = c.verify(rec)
		case cluster.RemoteFailed:
			next.State = jobstate.StateFinished
			next.Status = jobstate.StatusFail
		case cluster.RemoteAborted:
			next.State = jobstate.StateAborted
		default:
			err := fmt.Errorf("%w: handle %s reported status %q", cluster.ErrQuery, rec.Handle, remote)
			c.touch(&rec, err)
			return rec, Outcome{Err: err}
		}

		if next.State == rec.State && next.Status == rec.Status {
			return rec, Outcome{Note: string(remote)}
		}
		c.touch(&next, nil)
		c.log.Info("Job state changed", zap.Int("index", rec.Index),
			zap.String("from", rec.Label()), zap.String("to", next.Label()))
		return next, Outcome{Note: string(remote)}
	})
}

// verify runs the environment's finished-job check, if it has one.
func (c *Controller) verify(rec jobstate.JobRecord) jobstate.Status {
	v, ok := c.env.(workenv.Verifier)
	if !ok {
		return jobstate.StatusSuccess
	}
	status := v.CheckFinished(rec.WorkSpec)
	if status != jobstate.StatusSuccess {
		c.log.Warn("Job finished but its output does not show success", zap.Int("index", rec.Index), zap.String("dir", rec.WorkSpec.Dir))
		return jobstate.StatusFail
	}
	return status
}

// Resubmit resets the selected jobs to configured and submits them again.
// Unset jobs are materialized first. By default failed, aborted and
// configured jobs are selected; an explicit list is used verbatim.
func (c *Controller) Resubmit(ctx context.Context, store *jobstate.Store, sel Selection) Report {
	return c.run(ctx, OpResubmit, store, sel, DefaultResubmit, func(ctx context.Context, rec jobstate.JobRecord) (jobstate.JobRecord, Outcome) {
		if rec.State == jobstate.StateUnset {
			var err error
			if rec, err = c.materialize(rec); err != nil {
				return rec, Outcome{Err: err}
			}
		} else {
			if rec.State.Alive() {
				c.log.Warn("Resubmitting a job the scheduler still holds", zap.Int("index", rec.Index), zap.String("handle", rec.Handle))
			}
			rec.State = jobstate.StateConfigured
			rec.Status = jobstate.StatusNone
			rec.Handle = ""
		}
		rec, err := c.submit(ctx, rec)
		return rec, Outcome{Err: err}
	})
}

// Reconfigure rewrites the job directory of the selected jobs, leaving them
// configured with no handle or status. A configuration error leaves the job
// unset. By default unset jobs are selected.
func (c *Controller) Reconfigure(ctx context.Context, store *jobstate.Store, sel Selection) Report {
	return c.run(ctx, OpReconfigure, store, sel, DefaultReconfigure, func(_ context.Context, rec jobstate.JobRecord) (jobstate.JobRecord, Outcome) {
		if rec.State.Alive() {
			c.log.Warn("Reconfiguring a job the scheduler still holds", zap.Int("index", rec.Index), zap.String("handle", rec.Handle))
		}
		rec, err := c.materialize(rec)
		return rec, Outcome{Err: err}
	})
}

// Kill asks the scheduler to terminate the selected jobs and marks them
// aborted, even when the scheduler does not confirm; such jobs are reported
// with the kill error. Aborted jobs are left alone, and jobs that were never
// submitted have nothing to kill. By default submitted and running jobs are
// selected.
func (c *Controller) Kill(ctx context.Context, store *jobstate.Store, sel Selection) Report {
	return c.run(ctx, OpKill, store, sel, DefaultKill, func(ctx context.Context, rec jobstate.JobRecord) (jobstate.JobRecord, Outcome) {
		switch {
		case rec.State == jobstate.StateAborted:
			return rec, skip("already aborted")
		case rec.Handle == "":
			return rec, skip("never submitted (" + rec.Label() + ")")
		}
		if c.adapter == nil {
			return rec, Outcome{Err: errNoAdapter}
		}
		if err := c.wait(ctx); err != nil {
			return rec, Outcome{Err: err}
		}

		err := c.adapter.Kill(ctx, rec.Handle)
		rec.State = jobstate.StateAborted
		rec.Status = jobstate.StatusNone
		c.touch(&rec, err)
		if err != nil {
			c.log.Warn("Kill not confirmed, job marked aborted", zap.Int("index", rec.Index), zap.String("handle", rec.Handle), zap.Error(err))
			return rec, Outcome{Err: err, Note: "marked aborted without confirmation"}
		}
		c.log.Info("Job killed", zap.Int("index", rec.Index), zap.String("handle", rec.Handle))
		return rec, Outcome{}
	})
}
