package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// EnrollmentRepository implements enrollment.Repository for PostgreSQL.
// The ledger parts (tranches, deduction markers, releases) are JSONB columns
// written together with the balance in one conditional UPDATE.
type EnrollmentRepository struct {
	conn *Connection
}

var _ enrollment.Repository = (*EnrollmentRepository)(nil)

// NewEnrollmentRepository creates a new EnrollmentRepository.
func NewEnrollmentRepository(conn *Connection) *EnrollmentRepository {
	return &EnrollmentRepository{conn: conn}
}

const enrollmentColumns = `id, schedule_id, student_id, teacher_id, status, sessions_remaining,
	total_sessions, tranches, deductions, releases, exhausted_notified,
	created_at, updated_at, version`

type ledgerJSON struct {
	tranches, deductions, releases []byte
	unreleased                     int
}

func encodeLedger(e *enrollment.Enrollment) (ledgerJSON, error) {
	var l ledgerJSON
	var err error
	if l.tranches, err = json.Marshal(nonNil(e.Tranches)); err != nil {
		return l, err
	}
	if l.deductions, err = json.Marshal(nonNil(e.Deductions)); err != nil {
		return l, err
	}
	if l.releases, err = json.Marshal(nonNil(e.Releases)); err != nil {
		return l, err
	}
	l.unreleased = len(e.UnreleasedPayouts())
	return l, nil
}

func scanEnrollment(row pgx.Row) (*enrollment.Enrollment, error) {
	var (
		e                              enrollment.Enrollment
		id, scheduleID, student, teach string
		status                         string
		tranches, deductions, releases []byte
		createdAt, updatedAt           time.Time
	)
	err := row.Scan(
		&id, &scheduleID, &student, &teach, &status, &e.SessionsRemaining,
		&e.TotalSessions, &tranches, &deductions, &releases, &e.ExhaustedNotified,
		&createdAt, &updatedAt, &e.Version,
	)
	if err != nil {
		return nil, err
	}
	e.ID = shared.EnrollmentID(id)
	e.ScheduleID = shared.ScheduleID(scheduleID)
	e.StudentID = shared.StudentID(student)
	e.TeacherID = shared.TeacherID(teach)
	e.Status = enrollment.Status(status)
	e.CreatedAt = createdAt.UTC()
	e.UpdatedAt = updatedAt.UTC()

	if err := json.Unmarshal(tranches, &e.Tranches); err != nil {
		return nil, fmt.Errorf("decode tranches of enrollment %s: %w", id, err)
	}
	if err := json.Unmarshal(deductions, &e.Deductions); err != nil {
		return nil, fmt.Errorf("decode deductions of enrollment %s: %w", id, err)
	}
	if err := json.Unmarshal(releases, &e.Releases); err != nil {
		return nil, fmt.Errorf("decode releases of enrollment %s: %w", id, err)
	}
	return &e, nil
}

// Create implements enrollment.Repository.
func (r *EnrollmentRepository) Create(ctx context.Context, e *enrollment.Enrollment) error {
	l, err := encodeLedger(e)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO enrollments (`+enrollmentColumns+`, unreleased)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14)`,
		e.ID.String(), e.ScheduleID.String(), e.StudentID.String(), e.TeacherID.String(),
		string(e.Status), e.SessionsRemaining, e.TotalSessions,
		l.tranches, l.deductions, l.releases, e.ExhaustedNotified,
		e.CreatedAt, e.UpdatedAt, l.unreleased,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("enrollment", "Create", shared.ErrAlreadyExists, "enrollment already exists")
		}
		return fmt.Errorf("failed to create enrollment: %w", err)
	}
	e.Version = 1
	return nil
}

// GetByID implements enrollment.Repository.
func (r *EnrollmentRepository) GetByID(ctx context.Context, id shared.EnrollmentID) (*enrollment.Enrollment, error) {
	e, err := scanEnrollment(r.conn.QueryRow(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return e, nil
}

// GetBySchedule implements enrollment.Repository.
func (r *EnrollmentRepository) GetBySchedule(ctx context.Context, scheduleID shared.ScheduleID, studentID shared.StudentID) (*enrollment.Enrollment, error) {
	e, err := scanEnrollment(r.conn.QueryRow(ctx, `
		SELECT `+enrollmentColumns+` FROM enrollments
		WHERE schedule_id = $1 AND student_id = $2`, scheduleID.String(), studentID.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return e, nil
}

// UpdateLedger implements enrollment.Repository. The WHERE clause on the
// version is the compare-and-swap.
func (r *EnrollmentRepository) UpdateLedger(ctx context.Context, e *enrollment.Enrollment, expectedVersion int) error {
	l, err := encodeLedger(e)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE enrollments SET
			status = $2, sessions_remaining = $3, tranches = $4, deductions = $5,
			releases = $6, unreleased = $7, exhausted_notified = $8, updated_at = $9,
			version = version + 1
		WHERE id = $1 AND version = $10`,
		e.ID.String(), string(e.Status), e.SessionsRemaining, l.tranches, l.deductions,
		l.releases, l.unreleased, e.ExhaustedNotified, e.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update ledger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, e.ID); err != nil {
			return err
		}
		return shared.ErrLedgerConflict
	}
	e.Version = expectedVersion + 1
	return nil
}

// ListByStatus implements enrollment.Repository.
func (r *EnrollmentRepository) ListByStatus(ctx context.Context, statuses ...enrollment.Status) ([]*enrollment.Enrollment, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return r.list(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE status = ANY($1) ORDER BY id`, names)
}

// ListWithUnreleasedPayouts implements enrollment.Repository.
func (r *EnrollmentRepository) ListWithUnreleasedPayouts(ctx context.Context, limit int) ([]*enrollment.Enrollment, error) {
	if limit <= 0 {
		limit = 500
	}
	return r.list(ctx, `
		SELECT `+enrollmentColumns+` FROM enrollments
		WHERE unreleased > 0
		ORDER BY updated_at
		LIMIT $1`, limit)
}

func (r *EnrollmentRepository) list(ctx context.Context, query string, args ...any) ([]*enrollment.Enrollment, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var out []*enrollment.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
