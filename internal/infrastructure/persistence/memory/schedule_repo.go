package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ScheduleRepository implements schedule.Repository.
type ScheduleRepository struct {
	mu        sync.RWMutex
	schedules map[shared.ScheduleID]*schedule.Schedule
}

// NewScheduleRepository creates an empty repository.
func NewScheduleRepository() *ScheduleRepository {
	return &ScheduleRepository{schedules: make(map[shared.ScheduleID]*schedule.Schedule)}
}

var _ schedule.Repository = (*ScheduleRepository)(nil)

// Create implements schedule.Repository.
func (r *ScheduleRepository) Create(_ context.Context, s *schedule.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[s.ID]; ok {
		return shared.NewDomainError("schedule", "Create", shared.ErrAlreadyExists, "schedule already exists")
	}
	s.Version = 1
	r.schedules[s.ID] = cloneSchedule(s)
	return nil
}

// GetByID implements schedule.Repository.
func (r *ScheduleRepository) GetByID(_ context.Context, id shared.ScheduleID) (*schedule.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, shared.ErrScheduleNotFound
	}
	return cloneSchedule(s), nil
}

// GetByMeetingID implements schedule.Repository. The oldest active schedule
// wins when a room is reused.
func (r *ScheduleRepository) GetByMeetingID(_ context.Context, meetingID string) (*schedule.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *schedule.Schedule
	for _, s := range r.schedules {
		if s.MeetingID != meetingID || meetingID == "" {
			continue
		}
		if found == nil || (s.Status == schedule.StatusActive && found.Status != schedule.StatusActive) ||
			(s.Status == found.Status && s.CreatedAt.Before(found.CreatedAt)) {
			found = s
		}
	}
	if found == nil {
		return nil, shared.ErrScheduleNotFound
	}
	return cloneSchedule(found), nil
}

// Update implements schedule.Repository.
func (r *ScheduleRepository) Update(_ context.Context, s *schedule.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.schedules[s.ID]
	if !ok {
		return shared.ErrScheduleNotFound
	}
	if stored.Version != s.Version {
		return shared.ErrConcurrentModification
	}
	s.Version++
	r.schedules[s.ID] = cloneSchedule(s)
	return nil
}

// ListActive implements schedule.Repository.
func (r *ScheduleRepository) ListActive(_ context.Context, f schedule.ListFilter) ([]*schedule.Schedule, error) {
	r.mu.RLock()
	out := make([]*schedule.Schedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		if s.Status != schedule.StatusActive {
			continue
		}
		if f.Kind != "" && s.Kind != f.Kind {
			continue
		}
		if f.TeacherID != "" && s.TeacherID != f.TeacherID {
			continue
		}
		out = append(out, cloneSchedule(s))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, f.Offset, f.Limit), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneSchedule(s *schedule.Schedule) *schedule.Schedule {
	c := *s
	c.GroupStudentIDs = slices.Clone(s.GroupStudentIDs)
	c.Cancellations = slices.Clone(s.Cancellations)
	c.Attendance = make([]schedule.AttendanceEntry, len(s.Attendance))
	for i, e := range s.Attendance {
		c.Attendance[i] = schedule.AttendanceEntry{
			SessionDate: e.SessionDate,
			Records:     slices.Clone(e.Records),
		}
	}
	return &c
}
