package schedule

import (
	"sort"
	"strings"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/recurrence"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// CancelledOccurrence is one withdrawn lesson date.
type CancelledOccurrence struct {
	Date        shared.Date  `json:"date"`
	Reason      string       `json:"reason"`
	CancelledBy shared.Actor `json:"cancelled_by"`
	CancelledAt time.Time    `json:"cancelled_at"`
}

// EndDateChange reports how a cancellation or restore moved the series end.
type EndDateChange struct {
	Date       shared.Date
	OldEndDate shared.Date
	NewEndDate shared.Date
}

// IsCancelled reports whether d is in the cancellation set.
func (s *Schedule) IsCancelled(d shared.Date) bool {
	for _, c := range s.Cancellations {
		if c.Date == d {
			return true
		}
	}
	return false
}

// CancelledDates returns the cancelled dates in ascending order.
func (s *Schedule) CancelledDates() []shared.Date {
	dates := make([]shared.Date, len(s.Cancellations))
	for i, c := range s.Cancellations {
		dates[i] = c.Date
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// authorize allows the schedule's own teacher and admins.
func (s *Schedule) authorize(by shared.Actor) error {
	switch by.Kind {
	case shared.ActorAdmin:
		return nil
	case shared.ActorTeacher:
		if shared.TeacherID(by.ID) == s.TeacherID {
			return nil
		}
	}
	return shared.ErrNotScheduleTeacher
}

// CancelOccurrence withdraws one upcoming lesson and pushes the end date
// forward so the student still gets TotalSessions lessons.
func (s *Schedule) CancelOccurrence(d shared.Date, reason string, by shared.Actor, now time.Time) (EndDateChange, error) {
	if err := s.authorize(by); err != nil {
		return EndDateChange{}, err
	}
	if !s.Generates(d) {
		return EndDateChange{}, shared.ErrDateNotInSchedule
	}
	if s.IsCancelled(d) {
		return EndDateChange{}, shared.ErrAlreadyCancelled
	}
	if d.Before(s.Today(now)) {
		return EndDateChange{}, shared.ErrOccurrencePassed
	}

	s.Cancellations = append(s.Cancellations, CancelledOccurrence{
		Date:        d,
		Reason:      strings.TrimSpace(reason),
		CancelledBy: by,
		CancelledAt: now.UTC(),
	})
	return s.extend(d, now)
}

// RestoreOccurrence removes a cancellation before its date passes and
// pulls the end date back using the same computation.
func (s *Schedule) RestoreOccurrence(d shared.Date, by shared.Actor, now time.Time) (EndDateChange, error) {
	if err := s.authorize(by); err != nil {
		return EndDateChange{}, err
	}
	idx := -1
	for i, c := range s.Cancellations {
		if c.Date == d {
			idx = i
			break
		}
	}
	if idx < 0 {
		return EndDateChange{}, shared.ErrNotCancelled
	}
	if d.Before(s.Today(now)) {
		return EndDateChange{}, shared.ErrOccurrencePassed
	}

	s.Cancellations = append(s.Cancellations[:idx], s.Cancellations[idx+1:]...)
	return s.extend(d, now)
}

// extend recomputes the end date from the current cancellation set.
func (s *Schedule) extend(d shared.Date, now time.Time) (EndDateChange, error) {
	old := s.Rule.EndDate
	end, err := recurrence.NewEndDate(s.Rule, s.TotalSessions, s.CancelledDates())
	if err != nil {
		return EndDateChange{}, err
	}
	s.Rule = s.Rule.WithEndDate(end)
	s.UpdatedAt = now.UTC()
	return EndDateChange{Date: d, OldEndDate: old, NewEndDate: end}, nil
}
