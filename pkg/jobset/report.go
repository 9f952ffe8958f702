package jobset

import (
	"cmp"
	"slices"

	"go.uber.org/multierr"
)

// Outcome is what one operation did to one job.
type Outcome struct {
	Index int `json:"index"`

	// From and To are state labels (e.g. "finished/fail") before and after.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	Handle string `json:"handle,omitempty"`

	// Err is the per-job failure, if any. The job keeps the state in To.
	Err error `json:"-"`

	// Skipped marks jobs the operation left untouched on purpose.
	Skipped bool   `json:"skipped,omitempty"`
	Note    string `json:"note,omitempty"`
}

// Changed reports whether the job moved to another state. A kill that was
// not confirmed still changes the job.
func (o Outcome) Changed() bool {
	return !o.Skipped && o.From != o.To
}

// Report collects the outcomes of one operation, in ascending job index.
type Report struct {
	Op       string    `json:"op"`
	Outcomes []Outcome `json:"outcomes"`

	// Empty is set when the selection matched no job at all.
	Empty bool `json:"empty,omitempty"`

	// Cancelled is set when the context ended before every selected job
	// was processed.
	Cancelled bool `json:"cancelled,omitempty"`
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Failures returns the outcomes carrying an error.
func (r *Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Changed returns the outcomes whose job changed state.
func (r *Report) Changed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Changed() {
			out = append(out, o)
		}
	}
	return out
}

// Skipped returns the outcomes left untouched on purpose.
func (r *Report) Skipped() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Skipped {
			out = append(out, o)
		}
	}
	return out
}

// Indices returns the job indices of outcomes.
func Indices(outcomes []Outcome) []int {
	out := make([]int, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Index
	}
	return out
}

// Err combines every per-job failure, or returns nil.
func (r *Report) Err() error {
	var err error
	for _, o := range r.Outcomes {
		err = multierr.Append(err, o.Err)
	}
	return err
}

func sortOutcomes(outcomes []Outcome) {
	slices.SortStableFunc(outcomes, func(a, b Outcome) int { return cmp.Compare(a.Index, b.Index) })
}
