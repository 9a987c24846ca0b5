package query

import (
	"context"
	"fmt"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// GetEnrollmentQuery returns the ledger of one enrollment.
type GetEnrollmentQuery struct {
	EnrollmentID shared.EnrollmentID
}

// EnrollmentDTO is the ledger view.
type EnrollmentDTO struct {
	ID                shared.EnrollmentID  `json:"id"`
	ScheduleID        shared.ScheduleID    `json:"schedule_id"`
	StudentID         shared.StudentID     `json:"student_id"`
	TeacherID         shared.TeacherID     `json:"teacher_id"`
	Status            enrollment.Status    `json:"status"`
	SessionsRemaining int                  `json:"sessions_remaining"`
	TotalSessions     int                  `json:"total_sessions"`
	PaidSessions      int                  `json:"paid_sessions"`
	DeductedDates     []shared.Date        `json:"deducted_dates"`
	Released          shared.Money         `json:"released"`
	PendingRelease    shared.Money         `json:"pending_release"`
	Tranches          []enrollment.Tranche `json:"tranches"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// GetEnrollmentHandler handles GetEnrollmentQuery.
type GetEnrollmentHandler struct {
	enrollments enrollment.Repository
}

// NewGetEnrollmentHandler creates a new GetEnrollmentHandler.
func NewGetEnrollmentHandler(enrollments enrollment.Repository) *GetEnrollmentHandler {
	return &GetEnrollmentHandler{enrollments: enrollments}
}

// Handle executes the query.
func (h *GetEnrollmentHandler) Handle(ctx context.Context, q GetEnrollmentQuery) (*EnrollmentDTO, error) {
	if !q.EnrollmentID.IsValid() {
		return nil, fmt.Errorf("get_enrollment: %w",
			shared.NewDomainError("enrollment", "Query", shared.ErrInvalidID, "invalid enrollment ID"))
	}
	e, err := h.enrollments.GetByID(ctx, q.EnrollmentID)
	if err != nil {
		return nil, fmt.Errorf("get_enrollment: %w", err)
	}

	dto := &EnrollmentDTO{
		ID:                e.ID,
		ScheduleID:        e.ScheduleID,
		StudentID:         e.StudentID,
		TeacherID:         e.TeacherID,
		Status:            e.Status,
		SessionsRemaining: e.SessionsRemaining,
		TotalSessions:     e.TotalSessions,
		PaidSessions:      e.PaidSessions(),
		DeductedDates:     make([]shared.Date, 0, len(e.Deductions)),
		Tranches:          e.Tranches,
		UpdatedAt:         e.UpdatedAt,
	}
	for _, d := range e.Deductions {
		dto.DeductedDates = append(dto.DeductedDates, d.Date)
	}
	for _, r := range e.Releases {
		if r.IsReleased() {
			dto.Released += r.Amount
		} else {
			dto.PendingRelease += r.Amount
		}
	}
	return dto, nil
}
