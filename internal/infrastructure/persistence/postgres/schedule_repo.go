package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/recurrence"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ScheduleRepository implements schedule.Repository for PostgreSQL.
type ScheduleRepository struct {
	conn *Connection
}

var _ schedule.Repository = (*ScheduleRepository)(nil)

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(conn *Connection) *ScheduleRepository {
	return &ScheduleRepository{conn: conn}
}

const scheduleColumns = `id, teacher_id, title, kind, status, private_student_id, group_student_ids,
	meeting_id, rule, total_sessions, price, cancellations, attendance,
	created_at, updated_at, version`

// scheduleRow is the column image of a schedule.
type scheduleRow struct {
	ID            string
	TeacherID     string
	Title         string
	Kind          string
	Status        string
	PrivateID     *string
	Group         []byte
	MeetingID     string
	Rule          []byte
	TotalSessions int
	Price         int64
	Cancellations []byte
	Attendance    []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int
}

func toScheduleRow(s *schedule.Schedule) (*scheduleRow, error) {
	group, err := json.Marshal(nonNil(s.GroupStudentIDs))
	if err != nil {
		return nil, err
	}
	rule, err := json.Marshal(s.Rule)
	if err != nil {
		return nil, err
	}
	cancellations, err := json.Marshal(nonNil(s.Cancellations))
	if err != nil {
		return nil, err
	}
	attendance, err := json.Marshal(nonNil(s.Attendance))
	if err != nil {
		return nil, err
	}

	row := &scheduleRow{
		ID:            s.ID.String(),
		TeacherID:     s.TeacherID.String(),
		Title:         s.Title,
		Kind:          string(s.Kind),
		Status:        string(s.Status),
		Group:         group,
		MeetingID:     s.MeetingID,
		Rule:          rule,
		TotalSessions: s.TotalSessions,
		Price:         int64(s.Price),
		Cancellations: cancellations,
		Attendance:    attendance,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		Version:       s.Version,
	}
	if s.PrivateStudentID != "" {
		id := s.PrivateStudentID.String()
		row.PrivateID = &id
	}
	return row, nil
}

func (r *scheduleRow) toDomain() (*schedule.Schedule, error) {
	s := &schedule.Schedule{
		ID:            shared.ScheduleID(r.ID),
		TeacherID:     shared.TeacherID(r.TeacherID),
		Title:         r.Title,
		Kind:          schedule.Kind(r.Kind),
		Status:        schedule.Status(r.Status),
		MeetingID:     r.MeetingID,
		TotalSessions: r.TotalSessions,
		Price:         shared.Money(r.Price),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		Version:       r.Version,
	}
	if r.PrivateID != nil {
		s.PrivateStudentID = shared.StudentID(*r.PrivateID)
	}

	var rule recurrence.Rule
	if err := json.Unmarshal(r.Rule, &rule); err != nil {
		return nil, fmt.Errorf("decode rule of schedule %s: %w", r.ID, err)
	}
	s.Rule = rule
	if err := json.Unmarshal(r.Group, &s.GroupStudentIDs); err != nil {
		return nil, fmt.Errorf("decode group of schedule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.Cancellations, &s.Cancellations); err != nil {
		return nil, fmt.Errorf("decode cancellations of schedule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.Attendance, &s.Attendance); err != nil {
		return nil, fmt.Errorf("decode attendance of schedule %s: %w", r.ID, err)
	}
	return s, nil
}

func scanSchedule(row pgx.Row) (*schedule.Schedule, error) {
	var sr scheduleRow
	err := row.Scan(
		&sr.ID, &sr.TeacherID, &sr.Title, &sr.Kind, &sr.Status, &sr.PrivateID, &sr.Group,
		&sr.MeetingID, &sr.Rule, &sr.TotalSessions, &sr.Price, &sr.Cancellations, &sr.Attendance,
		&sr.CreatedAt, &sr.UpdatedAt, &sr.Version,
	)
	if err != nil {
		return nil, err
	}
	return sr.toDomain()
}

// ─────────────────────────────────────────────────────────────────────────────
// Operations
// ─────────────────────────────────────────────────────────────────────────────

// Create implements schedule.Repository.
func (r *ScheduleRepository) Create(ctx context.Context, s *schedule.Schedule) error {
	row, err := toScheduleRow(s)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)`,
		row.ID, row.TeacherID, row.Title, row.Kind, row.Status, row.PrivateID, row.Group,
		row.MeetingID, row.Rule, row.TotalSessions, row.Price, row.Cancellations, row.Attendance,
		row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("schedule", "Create", shared.ErrAlreadyExists, "schedule already exists")
		}
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	s.Version = 1
	return nil
}

// GetByID implements schedule.Repository.
func (r *ScheduleRepository) GetByID(ctx context.Context, id shared.ScheduleID) (*schedule.Schedule, error) {
	s, err := scanSchedule(r.conn.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return s, nil
}

// GetByMeetingID implements schedule.Repository. An active schedule wins
// over finished ones that reused the room.
func (r *ScheduleRepository) GetByMeetingID(ctx context.Context, meetingID string) (*schedule.Schedule, error) {
	meetingID = strings.TrimSpace(meetingID)
	if meetingID == "" {
		return nil, shared.ErrScheduleNotFound
	}
	s, err := scanSchedule(r.conn.QueryRow(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE meeting_id = $1
		ORDER BY (status = 'active') DESC, updated_at DESC
		LIMIT 1`, meetingID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to get schedule by meeting: %w", err)
	}
	return s, nil
}

// Update implements schedule.Repository with a version check.
func (r *ScheduleRepository) Update(ctx context.Context, s *schedule.Schedule) error {
	row, err := toScheduleRow(s)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE schedules SET
			title = $2, status = $3, group_student_ids = $4, meeting_id = $5, rule = $6,
			cancellations = $7, attendance = $8, updated_at = $9, version = version + 1
		WHERE id = $1 AND version = $10`,
		row.ID, row.Title, row.Status, row.Group, row.MeetingID, row.Rule,
		row.Cancellations, row.Attendance, row.UpdatedAt, row.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, s.ID); err != nil {
			return err
		}
		return shared.NewDomainError("schedule", "Update", shared.ErrConcurrentModification, "schedule was modified concurrently")
	}
	s.Version++
	return nil
}

// ListActive implements schedule.Repository.
func (r *ScheduleRepository) ListActive(ctx context.Context, f schedule.ListFilter) ([]*schedule.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE status = 'active'`
	args := []any{}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if f.TeacherID != "" {
		args = append(args, f.TeacherID.String())
		query += fmt.Sprintf(" AND teacher_id = $%d", len(args))
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var out []*schedule.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// nonNil keeps empty collections encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
