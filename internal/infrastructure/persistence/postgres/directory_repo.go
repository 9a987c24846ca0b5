package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ParticipantDirectory implements schedule.ParticipantDirectory over the
// participant_identities table. Identities are stored lower-cased.
type ParticipantDirectory struct {
	conn *Connection
}

var _ schedule.ParticipantDirectory = (*ParticipantDirectory)(nil)

// NewParticipantDirectory creates a new ParticipantDirectory.
func NewParticipantDirectory(conn *Connection) *ParticipantDirectory {
	return &ParticipantDirectory{conn: conn}
}

// Link maps identity to a student, replacing an earlier mapping.
func (d *ParticipantDirectory) Link(ctx context.Context, identity string, student shared.StudentID) error {
	identity = normalizeIdentity(identity)
	if identity == "" || !student.IsValid() {
		return shared.NewDomainError("attendance", "Link", shared.ErrInvalidInput, "identity and student are required")
	}
	_, err := d.conn.Exec(ctx, `
		INSERT INTO participant_identities (identity, student_id) VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET student_id = EXCLUDED.student_id`,
		identity, student.String())
	if err != nil {
		return fmt.Errorf("failed to link participant: %w", err)
	}
	return nil
}

// ResolveStudent implements schedule.ParticipantDirectory.
func (d *ParticipantDirectory) ResolveStudent(ctx context.Context, identity string) (shared.StudentID, error) {
	var id string
	err := d.conn.QueryRow(ctx, `SELECT student_id FROM participant_identities WHERE identity = $1`,
		normalizeIdentity(identity)).Scan(&id)
	if err != nil {
		if IsNoRows(err) {
			return "", shared.ErrUnknownParticipant
		}
		return "", fmt.Errorf("failed to resolve participant: %w", err)
	}
	return shared.StudentID(id), nil
}

func normalizeIdentity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
