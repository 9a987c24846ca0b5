package command

import (
	"context"
	"fmt"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/wallet"
	"github.com/halaka-hub/halaka-scheduler/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RELEASE PAYOUT COMMAND
// Moves the escrowed share of one delivered session to the teacher's
// available balance. The wallet call is idempotent by reference, so a retry
// after a crash between wallet and ledger write moves the money once.
// ══════════════════════════════════════════════════════════════════════════════

// ReleasePayoutCommand identifies one pending release.
type ReleasePayoutCommand struct {
	EnrollmentID shared.EnrollmentID
	Date         shared.Date
}

// Validate validates the command.
func (c ReleasePayoutCommand) Validate() error {
	if !c.EnrollmentID.IsValid() {
		return shared.NewDomainError("wallet", "Release", shared.ErrInvalidID, "invalid enrollment ID")
	}
	if c.Date.IsZero() {
		return shared.NewDomainError("wallet", "Release", shared.ErrEmptyValue, "date is required")
	}
	return nil
}

// ReleasePayoutResult reports the release.
type ReleasePayoutResult struct {
	Amount          shared.Money
	Reference       string
	AlreadyReleased bool
}

// ReleasePayoutHandler handles ReleasePayoutCommand.
type ReleasePayoutHandler struct {
	enrollments enrollment.Repository
	wallet      wallet.Wallet
	publisher   shared.EventPublisher
	ledger      *retry.Retrier
	now         func() time.Time
}

// NewReleasePayoutHandler creates a new ReleasePayoutHandler.
func NewReleasePayoutHandler(
	enrollments enrollment.Repository,
	w wallet.Wallet,
	publisher shared.EventPublisher,
	now func() time.Time,
) *ReleasePayoutHandler {
	if now == nil {
		now = time.Now
	}
	return &ReleasePayoutHandler{
		enrollments: enrollments,
		wallet:      w,
		publisher:   publisher,
		ledger:      newLedgerRetrier(),
		now:         now,
	}
}

// Handle releases the payout. A wallet failure is recorded on the release
// (attempts, last error) and returned; the release stays pending.
func (h *ReleasePayoutHandler) Handle(ctx context.Context, cmd ReleasePayoutCommand) (*ReleasePayoutResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("release_payout: validation failed: %w", err)
	}

	e, err := h.enrollments.GetByID(ctx, cmd.EnrollmentID)
	if err != nil {
		return nil, fmt.Errorf("release_payout: %w", err)
	}
	rel, ok := findRelease(e, cmd.Date)
	if !ok {
		return nil, fmt.Errorf("release_payout: %w", shared.ErrReleaseNotFound)
	}

	result := &ReleasePayoutResult{Amount: rel.Amount, Reference: rel.Reference(e.ID)}
	if rel.IsReleased() {
		result.AlreadyReleased = true
		return result, nil
	}

	walletErr := h.wallet.ReleaseFunds(ctx, e.TeacherID, rel.Amount, result.Reference)

	load := func(ctx context.Context) (*enrollment.Enrollment, error) {
		return h.enrollments.GetByID(ctx, cmd.EnrollmentID)
	}
	_, err = updateLedger(ctx, h.enrollments, h.ledger, load, func(e *enrollment.Enrollment) (bool, error) {
		if walletErr != nil {
			return true, e.MarkReleaseFailed(cmd.Date, walletErr, h.now())
		}
		if r, ok := findRelease(e, cmd.Date); ok && r.IsReleased() {
			return false, nil
		}
		return true, e.MarkReleased(cmd.Date, h.now())
	})
	if walletErr != nil {
		if err != nil {
			return nil, fmt.Errorf("release_payout: wallet: %w (record failure: %v)", walletErr, err)
		}
		return nil, fmt.Errorf("release_payout: wallet: %w", walletErr)
	}
	if err != nil {
		// The money moved; reconciliation will mark it on the next pass
		// thanks to the idempotent reference.
		return nil, fmt.Errorf("release_payout: mark released: %w", err)
	}

	publishAll(h.publisher, shared.NewPayoutReleasedEvent(e.TeacherID, e.ID, cmd.Date, rel.Amount))
	return result, nil
}

func findRelease(e *enrollment.Enrollment, d shared.Date) (enrollment.PendingRelease, bool) {
	for _, r := range e.Releases {
		if r.Date == d {
			return r, true
		}
	}
	return enrollment.PendingRelease{}, false
}
