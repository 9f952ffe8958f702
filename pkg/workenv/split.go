package workenv

import (
	"strconv"

	"github.com/3leaps/jobsender/pkg/manifest"
)

// eventRange is the slice of events one job processes.
type eventRange struct {
	skip  int
	count int
}

// splitEvents divides evtmax events over njobs jobs. Every job but the last
// processes evtmax/njobs events; the last one also takes the remainder.
// njobs <= 0 selects one job per manifest.EventsPerJob events.
func splitEvents(flavor string, evtmax, njobs int) ([]eventRange, error) {
	if evtmax <= 0 {
		return nil, configErr(flavor, "evtmax", "number of events must be positive, got %d", evtmax)
	}
	if njobs <= 0 {
		njobs = max(evtmax/manifest.EventsPerJob, 1)
	}
	if njobs > evtmax {
		return nil, configErr(flavor, "njobs", "%d jobs requested for only %d events", njobs, evtmax)
	}

	per := evtmax / njobs
	out := make([]eventRange, njobs)
	for i := range njobs - 1 {
		out[i] = eventRange{skip: i * per, count: per}
	}
	last := (njobs - 1) * per
	out[njobs-1] = eventRange{skip: last, count: evtmax - last}
	return out, nil
}

func (r eventRange) params() map[string]string {
	return map[string]string{
		ParamSkipEvents: strconv.Itoa(r.skip),
		ParamMaxEvents:  strconv.Itoa(r.count),
	}
}
