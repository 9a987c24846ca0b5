// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/recurrence"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET OCCURRENCES QUERY
// Lists the lesson dates of a schedule with their cancellation flag and an
// attendance summary, for the teacher's calendar view.
// ══════════════════════════════════════════════════════════════════════════════

// GetOccurrencesQuery contains the parameters.
type GetOccurrencesQuery struct {
	ScheduleID shared.ScheduleID

	// From and To narrow the window; zero values mean the whole series.
	From shared.Date
	To   shared.Date
}

// Validate validates the query.
func (q GetOccurrencesQuery) Validate() error {
	if !q.ScheduleID.IsValid() {
		return shared.NewDomainError("schedule", "Query", shared.ErrInvalidID, "invalid schedule ID")
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return shared.ErrInvalidDateRange
	}
	return nil
}

// OccurrenceDTO is one lesson date.
type OccurrenceDTO struct {
	Sequence     int         `json:"sequence"`
	Date         shared.Date `json:"date"`
	StartsAt     string      `json:"starts_at"`
	EndsAt       string      `json:"ends_at"`
	Cancelled    bool        `json:"cancelled"`
	CancelReason string      `json:"cancel_reason,omitempty"`
	Present      int         `json:"present"`
	Absent       int         `json:"absent"`
	Late         int         `json:"late"`
	Excused      int         `json:"excused"`
}

// OccurrencesDTO is the query result.
type OccurrencesDTO struct {
	ScheduleID    shared.ScheduleID `json:"schedule_id"`
	Title         string            `json:"title"`
	Rule          recurrence.Rule   `json:"rule"`
	TotalSessions int               `json:"total_sessions"`
	Cancelled     int               `json:"cancelled"`
	WeeklyHours   float64           `json:"weekly_hours"`
	ContractHours float64           `json:"contract_hours"`
	Occurrences   []OccurrenceDTO   `json:"occurrences"`
}

// GetOccurrencesHandler handles GetOccurrencesQuery.
type GetOccurrencesHandler struct {
	schedules schedule.Repository
}

// NewGetOccurrencesHandler creates a new GetOccurrencesHandler.
func NewGetOccurrencesHandler(schedules schedule.Repository) *GetOccurrencesHandler {
	return &GetOccurrencesHandler{schedules: schedules}
}

// Handle executes the query.
func (h *GetOccurrencesHandler) Handle(ctx context.Context, q GetOccurrencesQuery) (*OccurrencesDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_occurrences: validation failed: %w", err)
	}
	s, err := h.schedules.GetByID(ctx, q.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("get_occurrences: %w", err)
	}

	from, to := s.Rule.StartDate, s.Rule.EndDate
	if !q.From.IsZero() && q.From.After(from) {
		from = q.From
	}
	if !q.To.IsZero() && q.To.Before(to) {
		to = q.To
	}

	reasons := make(map[shared.Date]string, len(s.Cancellations))
	for _, c := range s.Cancellations {
		reasons[c.Date] = c.Reason
	}

	occs := s.Rule.Between(from, to)
	out := &OccurrencesDTO{
		ScheduleID:    s.ID,
		Title:         s.Title,
		Rule:          s.Rule,
		TotalSessions: s.TotalSessions,
		Cancelled:     len(s.Cancellations),
		WeeklyHours:   s.Rule.WeeklyHours(),
		ContractHours: s.Rule.ContractHours(s.TotalSessions),
		Occurrences:   make([]OccurrenceDTO, 0, len(occs)),
	}
	for _, o := range occs {
		dto := OccurrenceDTO{
			Sequence: o.Sequence,
			Date:     o.Date,
			StartsAt: s.Rule.StartsAt(o.Date).Format(time.RFC3339),
			EndsAt:   s.Rule.EndsAt(o.Date).Format(time.RFC3339),
		}
		if reason, ok := reasons[o.Date]; ok {
			dto.Cancelled = true
			dto.CancelReason = reason
		}
		for _, student := range s.Students() {
			switch s.AttendanceFor(o.Date, student).Status {
			case schedule.AttendancePresent:
				dto.Present++
			case schedule.AttendanceLate:
				dto.Late++
			case schedule.AttendanceExcused:
				dto.Excused++
			default:
				dto.Absent++
			}
		}
		out.Occurrences = append(out.Occurrences, dto)
	}
	return out, nil
}
