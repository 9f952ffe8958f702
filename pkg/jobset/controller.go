// Package jobset drives bulk lifecycle transitions over a batch of jobs.
//
// A Controller applies one operation (send, retrieve, resubmit,
// reconfigure, kill) to a selection of records in a jobstate.Store. Each
// record is processed independently: a failure on one job is recorded in its
// Outcome and never stops the others. Remote calls run sequentially in
// ascending index order, optionally paced by a rate limit.
//
// The store is mutated in place; persisting it is up to the caller.
package jobset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/jobsender/pkg/cluster"
	"github.com/3leaps/jobsender/pkg/jobstate"
)

// Operation names used in reports.
const (
	OpPrepare     = "prepare"
	OpSend        = "send"
	OpRetrieve    = "retrieve"
	OpResubmit    = "resubmit"
	OpReconfigure = "reconfigure"
	OpKill        = "kill"
)

// Environment materializes job directories. workenv.Environment satisfies
// it; when the value also implements workenv.Verifier, finished jobs are
// checked before being marked successful.
type Environment interface {
	Materialize(spec jobstate.WorkSpec) (string, error)
}

// Selection picks the records an operation acts on. With no indices the
// operation's default rule applies; an explicit list is used verbatim.
type Selection struct {
	Indices []int
}

// Explicit reports whether the selection names jobs.
func (s Selection) Explicit() bool {
	return len(s.Indices) > 0
}

// Options configures a Controller.
type Options struct {
	// Adapter talks to the scheduler. Required for every operation but
	// Prepare and Reconfigure.
	Adapter cluster.Adapter

	// Env materializes job directories. Required for Prepare, Send,
	// Resubmit and Reconfigure.
	Env Environment

	// RateLimit caps scheduler calls per second. Zero means unlimited.
	RateLimit float64

	Logger *zap.Logger

	// Now overrides time.Now for record timestamps (tests).
	Now func() time.Time
}

// Controller applies lifecycle operations to a store.
type Controller struct {
	adapter cluster.Adapter
	env     Environment
	limiter *rate.Limiter
	log     *zap.Logger
	now     func() time.Time
}

// New creates a controller.
func New(opts Options) *Controller {
	c := &Controller{
		adapter: opts.Adapter,
		env:     opts.Env,
		log:     opts.Logger,
		now:     opts.Now,
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

var (
	errNoAdapter = errors.New("no cluster adapter configured")
	errNoEnv     = errors.New("no work environment configured")
)

// step processes one record and returns its outcome. The record passed in
// is a copy; the step returns the updated copy to merge back.
type step func(ctx context.Context, rec jobstate.JobRecord) (jobstate.JobRecord, Outcome)

// run resolves the selection and applies fn to each record in order.
func (c *Controller) run(ctx context.Context, op string, store *jobstate.Store, sel Selection, def jobstate.Predicate, fn step) Report {
	rep := Report{Op: op}

	var records []jobstate.JobRecord
	if sel.Explicit() {
		found, missing := store.SelectIndices(sel.Indices)
		records = found
		for _, idx := range missing {
			rep.add(Outcome{Index: idx, Err: fmt.Errorf("%w: %d", jobstate.ErrUnknownIndex, idx)})
		}
	} else {
		records = store.Select(def)
	}
	if len(records) == 0 && len(rep.Outcomes) == 0 {
		rep.Empty = true
		c.log.Info("No jobs selected", zap.String("op", op))
		return rep
	}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			rep.Cancelled = true
			for _, rest := range records[i:] {
				rep.add(Outcome{Index: rest.Index, From: rest.Label(), To: rest.Label(), Handle: rest.Handle,
					Skipped: true, Note: "not processed: " + err.Error()})
			}
			c.log.Warn("Operation interrupted", zap.String("op", op), zap.Int("remaining", len(records)-i), zap.Error(err))
			break
		}

		from := rec.Label()
		updated, out := fn(ctx, rec)
		out.Index = rec.Index
		out.From = from
		// Only the caller's context marks the run interrupted; a scheduler
		// command timeout stays a per-job failure.
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(out.Err, ctxErr) {
			rep.Cancelled = true
			out = Outcome{Index: rec.Index, From: from, Skipped: true, Note: "not processed: " + out.Err.Error()}
		}
		if !out.Skipped {
			if err := store.Replace(updated); err != nil {
				out.Err = errors.Join(out.Err, err)
				updated = rec
			}
		} else {
			updated = rec
		}
		out.To = updated.Label()
		out.Handle = updated.Handle
		rep.add(out)
	}

	sortOutcomes(rep.Outcomes)
	return rep
}

// wait blocks until the rate limiter admits a scheduler call.
func (c *Controller) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// touch stamps a record after a change and records its last error.
func (c *Controller) touch(rec *jobstate.JobRecord, err error) {
	rec.UpdatedAt = c.now().UTC()
	if err != nil {
		rec.LastError = err.Error()
	} else {
		rec.LastError = ""
	}
}

func skip(note string) Outcome {
	return Outcome{Skipped: true, Note: note}
}

// materialize writes the record's job directory and moves it to
// configured. On failure the record is left unset.
func (c *Controller) materialize(rec jobstate.JobRecord) (jobstate.JobRecord, error) {
	if c.env == nil {
		return rec, errNoEnv
	}
	script, err := c.env.Materialize(rec.WorkSpec)
	if err != nil {
		rec.State = jobstate.StateUnset
		rec.Status = jobstate.StatusNone
		rec.Handle = ""
		c.touch(&rec, err)
		c.log.Warn("Job configuration failed", zap.Int("index", rec.Index), zap.Error(err))
		return rec, err
	}
	rec.WorkSpec.Script = script
	rec.State = jobstate.StateConfigured
	rec.Status = jobstate.StatusNone
	rec.Handle = ""
	c.touch(&rec, nil)
	c.log.Debug("Job configured", zap.Int("index", rec.Index), zap.String("dir", rec.WorkSpec.Dir))
	return rec, nil
}

// submit hands a configured record to the scheduler. On failure the record
// stays configured.
func (c *Controller) submit(ctx context.Context, rec jobstate.JobRecord) (jobstate.JobRecord, error) {
	if c.adapter == nil {
		return rec, errNoAdapter
	}
	if err := c.wait(ctx); err != nil {
		return rec, err
	}
	handle, err := c.adapter.Submit(ctx, rec.WorkSpec)
	if err != nil {
		c.touch(&rec, err)
		c.log.Warn("Job submission failed", zap.Int("index", rec.Index), zap.Error(err))
		return rec, err
	}
	rec.State = jobstate.StateSubmitted
	rec.Handle = handle
	rec.SubmitCount++
	c.touch(&rec, nil)
	c.log.Info("Job submitted", zap.Int("index", rec.Index), zap.String("handle", handle))
	return rec, nil
}
