package records

import (
	"sort"
	"strconv"
)

// YearRange is a closed interval of model years, Start <= End.
type YearRange struct {
	Start int
	End   int
}

// CompressYears collapses a set of discrete years into the minimal list of
// contiguous ranges, sorted ascending. Input may contain duplicates and be
// unordered; it is treated as a set. No two returned ranges overlap or touch
// (end+1 == next start would have been merged). An empty input yields nil.
func CompressYears(years []int) []YearRange {
	if len(years) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(years))
	uniq := make([]int, 0, len(years))
	for _, y := range years {
		if _, ok := seen[y]; !ok {
			seen[y] = struct{}{}
			uniq = append(uniq, y)
		}
	}
	sort.Ints(uniq)

	var out []YearRange
	start, prev := uniq[0], uniq[0]
	for _, y := range uniq[1:] {
		if y != prev+1 {
			out = append(out, YearRange{Start: start, End: prev})
			start = y
		}
		prev = y
	}
	out = append(out, YearRange{Start: start, End: prev})
	return out
}

// Years expands the range back into its member years.
func (r YearRange) Years() []int {
	out := make([]int, 0, r.End-r.Start+1)
	for y := r.Start; y <= r.End; y++ {
		out = append(out, y)
	}
	return out
}

// FormatYearSpan renders a range for display: a single year collapses to
// "2014", anything wider becomes "2014 - 2017". It is the read-side twin of
// CompressYears and follows the same contiguity rule.
func FormatYearSpan(start, end int) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return strconv.Itoa(start) + " - " + strconv.Itoa(end)
}
