package recurrence

import (
	"iter"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// HorizonDays bounds every walk over the calendar (about ten years).
const HorizonDays = 3660

// Occurrence is one generated lesson date. Sequence numbers start at 1.
type Occurrence struct {
	Sequence int         `json:"sequence"`
	Date     shared.Date `json:"date"`
}

// accepts reports whether d passes the rule's day filter.
func (r Rule) accepts(d shared.Date) bool {
	switch r.Frequency {
	case Daily:
		return true
	case Weekly:
		return r.Days.Has(d.Weekday())
	case Biweekly:
		return r.Days.Has(d.Weekday()) && r.weekIndex(d)%2 == 0
	default:
		return false
	}
}

// weekIndex counts Sunday-started weeks from the week of StartDate.
func (r Rule) weekIndex(d shared.Date) int {
	anchor := r.StartDate.AddDays(-int(r.StartDate.Weekday()))
	return anchor.DaysUntil(d) / 7
}

// All lazily yields occurrences in ascending date order, starting at
// StartDate (day 0) and stopping at the safety horizon.
func (r Rule) All() iter.Seq[Occurrence] {
	return func(yield func(Occurrence) bool) {
		seq := 0
		d := r.StartDate
		for step := 0; step < HorizonDays; step++ {
			if r.accepts(d) {
				seq++
				if !yield(Occurrence{Sequence: seq, Date: d}) {
					return
				}
			}
			d = d.AddDays(1)
		}
	}
}

// Occurrences returns the first count occurrences. Fewer are returned only
// when the safety horizon is reached. Output is deterministic for a rule.
func (r Rule) Occurrences(count int) []Occurrence {
	if count <= 0 {
		return []Occurrence{}
	}
	out := make([]Occurrence, 0, min(count, HorizonDays))
	for occ := range r.All() {
		out = append(out, occ)
		if len(out) == count {
			break
		}
	}
	return out
}

// Dates is Occurrences without sequence numbers.
func (r Rule) Dates(count int) []shared.Date {
	occs := r.Occurrences(count)
	dates := make([]shared.Date, len(occs))
	for i, o := range occs {
		dates[i] = o.Date
	}
	return dates
}

// Between returns the occurrences whose dates fall in [from, to].
func (r Rule) Between(from, to shared.Date) []Occurrence {
	out := make([]Occurrence, 0)
	if to.Before(from) {
		return out
	}
	for occ := range r.All() {
		if occ.Date.After(to) {
			break
		}
		if !occ.Date.Before(from) {
			out = append(out, occ)
		}
	}
	return out
}

// Find walks the stream up to the given date and reports the occurrence
// landing on it, if any.
func (r Rule) Find(d shared.Date) (Occurrence, bool) {
	if d.Before(r.StartDate) {
		return Occurrence{}, false
	}
	for occ := range r.All() {
		if occ.Date == d {
			return occ, true
		}
		if occ.Date.After(d) {
			break
		}
	}
	return Occurrence{}, false
}

// IsOccurrence reports whether d is a generated date of r.
func (r Rule) IsOccurrence(d shared.Date) bool {
	if d.Before(r.StartDate) || r.StartDate.DaysUntil(d) >= HorizonDays {
		return false
	}
	return r.accepts(d)
}
