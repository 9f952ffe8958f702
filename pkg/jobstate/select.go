package jobstate

// Predicate selects records by their current state.
type Predicate func(JobRecord) bool

// InState matches records in any of the given states.
func InState(states ...State) Predicate {
	return func(r JobRecord) bool {
		for _, s := range states {
			if r.State == s {
				return true
			}
		}
		return false
	}
}

// FinishedWith matches finished records carrying the given status.
func FinishedWith(status Status) Predicate {
	return func(r JobRecord) bool {
		return r.State == StateFinished && r.Status == status
	}
}

// AnyOf matches records accepted by at least one predicate.
func AnyOf(preds ...Predicate) Predicate {
	return func(r JobRecord) bool {
		for _, p := range preds {
			if p != nil && p(r) {
				return true
			}
		}
		return false
	}
}

// Indices returns the indices of records in order.
func Indices(records []JobRecord) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = r.Index
	}
	return out
}
