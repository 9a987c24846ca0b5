package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// EnrollmentRepository implements enrollment.Repository.
type EnrollmentRepository struct {
	mu          sync.RWMutex
	enrollments map[shared.EnrollmentID]*enrollment.Enrollment
}

// NewEnrollmentRepository creates an empty repository.
func NewEnrollmentRepository() *EnrollmentRepository {
	return &EnrollmentRepository{enrollments: make(map[shared.EnrollmentID]*enrollment.Enrollment)}
}

var _ enrollment.Repository = (*EnrollmentRepository)(nil)

// Create implements enrollment.Repository.
func (r *EnrollmentRepository) Create(_ context.Context, e *enrollment.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.enrollments {
		if x.ID == e.ID || (x.ScheduleID == e.ScheduleID && x.StudentID == e.StudentID) {
			return shared.NewDomainError("enrollment", "Create", shared.ErrAlreadyExists, "enrollment already exists")
		}
	}
	e.Version = 1
	r.enrollments[e.ID] = cloneEnrollment(e)
	return nil
}

// GetByID implements enrollment.Repository.
func (r *EnrollmentRepository) GetByID(_ context.Context, id shared.EnrollmentID) (*enrollment.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.enrollments[id]
	if !ok {
		return nil, shared.ErrEnrollmentNotFound
	}
	return cloneEnrollment(e), nil
}

// GetBySchedule implements enrollment.Repository.
func (r *EnrollmentRepository) GetBySchedule(_ context.Context, scheduleID shared.ScheduleID, studentID shared.StudentID) (*enrollment.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.enrollments {
		if e.ScheduleID == scheduleID && e.StudentID == studentID {
			return cloneEnrollment(e), nil
		}
	}
	return nil, shared.ErrEnrollmentNotFound
}

// UpdateLedger implements enrollment.Repository.
func (r *EnrollmentRepository) UpdateLedger(_ context.Context, e *enrollment.Enrollment, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.enrollments[e.ID]
	if !ok {
		return shared.ErrEnrollmentNotFound
	}
	if stored.Version != expectedVersion {
		return shared.ErrLedgerConflict
	}
	e.Version = expectedVersion + 1
	r.enrollments[e.ID] = cloneEnrollment(e)
	return nil
}

// ListByStatus implements enrollment.Repository.
func (r *EnrollmentRepository) ListByStatus(_ context.Context, statuses ...enrollment.Status) ([]*enrollment.Enrollment, error) {
	r.mu.RLock()
	out := make([]*enrollment.Enrollment, 0)
	for _, e := range r.enrollments {
		if slices.Contains(statuses, e.Status) {
			out = append(out, cloneEnrollment(e))
		}
	}
	r.mu.RUnlock()
	sortEnrollments(out)
	return out, nil
}

// ListWithUnreleasedPayouts implements enrollment.Repository.
func (r *EnrollmentRepository) ListWithUnreleasedPayouts(_ context.Context, limit int) ([]*enrollment.Enrollment, error) {
	r.mu.RLock()
	out := make([]*enrollment.Enrollment, 0)
	for _, e := range r.enrollments {
		if len(e.UnreleasedPayouts()) > 0 {
			out = append(out, cloneEnrollment(e))
		}
	}
	r.mu.RUnlock()
	sortEnrollments(out)
	return paginate(out, 0, limit), nil
}

func sortEnrollments(es []*enrollment.Enrollment) {
	sort.Slice(es, func(i, j int) bool { return es[i].ID < es[j].ID })
}

func cloneEnrollment(e *enrollment.Enrollment) *enrollment.Enrollment {
	c := *e
	c.Tranches = slices.Clone(e.Tranches)
	c.Deductions = slices.Clone(e.Deductions)
	c.Releases = slices.Clone(e.Releases)
	return &c
}
