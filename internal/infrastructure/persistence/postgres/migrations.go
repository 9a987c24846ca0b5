package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

const migrationsTable = "schema_migrations"

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	migs := Migrations()
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	return &Migrator{conn: conn, migrations: migs}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, "SELECT version, applied_at FROM "+migrationsTable+" ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		out[v] = at
	}
	return out, rows.Err()
}

// Up applies all pending migrations and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO "+migrationsTable+" (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return n, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		n++
	}
	return n, nil
}

// Down rolls back the last applied migration. It returns the rolled back
// version, zero when nothing was applied.
func (m *Migrator) Down(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	last := 0
	for v := range applied {
		last = max(last, v)
	}
	if last == 0 {
		return 0, nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return 0, fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	err = m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "DELETE FROM "+migrationsTable+" WHERE version = $1", last)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: rollback %d: %v", ErrMigrationFailed, last, err)
	}
	return last, nil
}

// Status lists every migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Migrations returns all embedded migrations.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_schedules", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_enrollments", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_wallet_and_outbox", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// Cancellations and attendance are stored as JSONB on the schedule row:
// the aggregate is always loaded and saved as a whole.
const migration001Up = `
CREATE TABLE IF NOT EXISTS schedules (
    id                 UUID PRIMARY KEY,
    teacher_id         UUID NOT NULL,
    title              TEXT NOT NULL,
    kind               VARCHAR(10) NOT NULL,
    status             VARCHAR(20) NOT NULL,
    private_student_id UUID,
    group_student_ids  JSONB NOT NULL DEFAULT '[]'::jsonb,
    meeting_id         TEXT NOT NULL DEFAULT '',
    rule               JSONB NOT NULL,
    total_sessions     INTEGER NOT NULL,
    price              BIGINT NOT NULL,
    cancellations      JSONB NOT NULL DEFAULT '[]'::jsonb,
    attendance         JSONB NOT NULL DEFAULT '[]'::jsonb,
    created_at         TIMESTAMPTZ NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL,
    version            INTEGER NOT NULL DEFAULT 1,

    CONSTRAINT valid_kind CHECK (kind IN ('private', 'group')),
    CONSTRAINT valid_total CHECK (total_sessions > 0),
    CONSTRAINT valid_price CHECK (price >= 0)
);

CREATE INDEX IF NOT EXISTS idx_schedules_status_kind ON schedules(status, kind);
CREATE INDEX IF NOT EXISTS idx_schedules_teacher ON schedules(teacher_id);
CREATE INDEX IF NOT EXISTS idx_schedules_meeting ON schedules(meeting_id) WHERE meeting_id <> '';

CREATE TABLE IF NOT EXISTS participant_identities (
    identity   TEXT PRIMARY KEY,
    student_id UUID NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const migration001Down = `
DROP TABLE IF EXISTS participant_identities;
DROP TABLE IF EXISTS schedules;
`

const migration002Up = `
CREATE TABLE IF NOT EXISTS enrollments (
    id                 UUID PRIMARY KEY,
    schedule_id        UUID NOT NULL REFERENCES schedules(id) ON DELETE CASCADE,
    student_id         UUID NOT NULL,
    teacher_id         UUID NOT NULL,
    status             VARCHAR(30) NOT NULL,
    sessions_remaining INTEGER NOT NULL DEFAULT 0,
    total_sessions     INTEGER NOT NULL,
    tranches           JSONB NOT NULL DEFAULT '[]'::jsonb,
    deductions         JSONB NOT NULL DEFAULT '[]'::jsonb,
    releases           JSONB NOT NULL DEFAULT '[]'::jsonb,
    unreleased         INTEGER NOT NULL DEFAULT 0,
    exhausted_notified BOOLEAN NOT NULL DEFAULT FALSE,
    created_at         TIMESTAMPTZ NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL,
    version            INTEGER NOT NULL DEFAULT 1,

    UNIQUE (schedule_id, student_id),
    CONSTRAINT valid_remaining CHECK (sessions_remaining >= 0)
);

CREATE INDEX IF NOT EXISTS idx_enrollments_status ON enrollments(status);
CREATE INDEX IF NOT EXISTS idx_enrollments_unreleased ON enrollments(updated_at) WHERE unreleased > 0;
`

const migration002Down = `
DROP TABLE IF EXISTS enrollments;
`

const migration003Up = `
CREATE TABLE IF NOT EXISTS teacher_wallets (
    teacher_id UUID PRIMARY KEY,
    pending    BIGINT NOT NULL DEFAULT 0,
    available  BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS wallet_releases (
    reference   TEXT PRIMARY KEY,
    teacher_id  UUID NOT NULL,
    amount      BIGINT NOT NULL,
    released_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS notifications (
    id             UUID PRIMARY KEY,
    type           VARCHAR(30) NOT NULL,
    recipient_kind VARCHAR(10) NOT NULL,
    recipient_id   TEXT NOT NULL,
    message        TEXT NOT NULL,
    link           TEXT NOT NULL DEFAULT '',
    status         VARCHAR(15) NOT NULL,
    attempts       INTEGER NOT NULL DEFAULT 0,
    last_error     TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL,
    delivered_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_kind, recipient_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_failed ON notifications(created_at) WHERE status = 'failed';
`

const migration003Down = `
DROP TABLE IF EXISTS notifications;
DROP TABLE IF EXISTS wallet_releases;
DROP TABLE IF EXISTS teacher_wallets;
`
