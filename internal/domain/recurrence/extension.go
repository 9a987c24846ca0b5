package recurrence

import (
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// NewEndDate returns the date of the last of total+|cancelled| generated
// occurrences. Removing the cancelled dates from that prefix leaves exactly
// total deliverable dates. Cancelled dates that are not occurrences of the
// rule, and duplicates, do not count.
//
// Restoring a cancellation is the same call with a smaller set, so the end
// date moves back by one occurrence. Dates before the end never renumber.
func NewEndDate(rule Rule, total int, cancelled []shared.Date) (shared.Date, error) {
	if total <= 0 {
		return shared.Date{}, shared.ErrInvalidTotalSessions
	}

	count := total + len(uniqueOccurrences(rule, cancelled))
	occs := rule.Occurrences(count)
	if len(occs) < count {
		return shared.Date{}, shared.ErrHorizonExhausted
	}
	return occs[len(occs)-1].Date, nil
}

// Deliverable returns the first total non-cancelled occurrences of rule.
// Sequence numbers remain those of the unfiltered stream.
func Deliverable(rule Rule, total int, cancelled []shared.Date) []Occurrence {
	out := make([]Occurrence, 0, max(total, 0))
	if total <= 0 {
		return out
	}

	skip := uniqueOccurrences(rule, cancelled)
	for occ := range rule.All() {
		if _, ok := skip[occ.Date]; ok {
			continue
		}
		out = append(out, occ)
		if len(out) == total {
			break
		}
	}
	return out
}

func uniqueOccurrences(rule Rule, dates []shared.Date) map[shared.Date]struct{} {
	set := make(map[shared.Date]struct{}, len(dates))
	for _, d := range dates {
		if rule.IsOccurrence(d) {
			set[d] = struct{}{}
		}
	}
	return set
}
