package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ParticipantDirectory implements schedule.ParticipantDirectory over a map
// of identities (platform user IDs or emails, case-insensitive).
type ParticipantDirectory struct {
	mu         sync.RWMutex
	identities map[string]shared.StudentID
}

// NewParticipantDirectory creates an empty directory.
func NewParticipantDirectory() *ParticipantDirectory {
	return &ParticipantDirectory{identities: make(map[string]shared.StudentID)}
}

var _ schedule.ParticipantDirectory = (*ParticipantDirectory)(nil)

// Link maps identity to a student.
func (d *ParticipantDirectory) Link(identity string, student shared.StudentID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identities[normalizeIdentity(identity)] = student
}

// ResolveStudent implements schedule.ParticipantDirectory.
func (d *ParticipantDirectory) ResolveStudent(_ context.Context, identity string) (shared.StudentID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.identities[normalizeIdentity(identity)]
	if !ok {
		return "", shared.ErrUnknownParticipant
	}
	return id, nil
}

func normalizeIdentity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
