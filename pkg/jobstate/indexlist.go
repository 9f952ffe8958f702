package jobstate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxIndexListLen bounds the number of indices a job list may expand to.
const MaxIndexListLen = 100000

// ParseIndexList parses an operator-supplied job list such as "1,3,5-7".
//
// Ranges are inclusive. The result is ascending and de-duplicated. An empty
// string yields an empty list. Lists expanding past MaxIndexListLen
// indices are rejected.
func ParseIndexList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			n, err := parseIndex(part)
			if err != nil {
				return nil, err
			}
			if len(out) >= MaxIndexListLen {
				return nil, fmt.Errorf("invalid job list: more than %d jobs", MaxIndexListLen)
			}
			out = append(out, n)
			continue
		}
		from, err := parseIndex(lo)
		if err != nil {
			return nil, err
		}
		to, err := parseIndex(hi)
		if err != nil {
			return nil, err
		}
		if to < from {
			return nil, fmt.Errorf("invalid job range %q: end before start", part)
		}
		if to-from >= MaxIndexListLen-len(out) {
			return nil, fmt.Errorf("invalid job range %q: more than %d jobs", part, MaxIndexListLen)
		}
		for i := from; i <= to; i++ {
			out = append(out, i)
		}
	}
	return normalizeIndices(out), nil
}

func parseIndex(s string) (int, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid job index %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid job index %q: must be non-negative", s)
	}
	return n, nil
}

// CompactIndexList renders indices joining consecutive runs with a dash,
// e.g. [1 2 3 4 5 45 48 51 52 53 60] -> "1-5,45,48,51-53,60".
func CompactIndexList(indices []int) string {
	if len(indices) == 0 {
		return ""
	}
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)

	var b strings.Builder
	start, last := sorted[0], sorted[0]
	flush := func() {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if start == last {
			b.WriteString(strconv.Itoa(start))
		} else {
			fmt.Fprintf(&b, "%d-%d", start, last)
		}
	}
	for _, n := range sorted[1:] {
		if n == last {
			continue
		}
		if n != last+1 {
			flush()
			start = n
		}
		last = n
	}
	flush()
	return b.String()
}
