// Package wallet describes the teacher wallet the engine releases escrowed
// payouts into. The wallet itself (balances, withdrawals) lives elsewhere.
package wallet

import (
	"context"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// Wallet moves money from a teacher's pending (escrow) balance to the
// available balance.
type Wallet interface {
	// ReleaseFunds decrements pending and increments available by amount.
	// reference is an idempotency key: releasing the same reference twice
	// moves the money once.
	ReleaseFunds(ctx context.Context, teacher shared.TeacherID, amount shared.Money, reference string) error
}

// Balance is a teacher's wallet snapshot.
type Balance struct {
	TeacherID shared.TeacherID
	Pending   shared.Money
	Available shared.Money
	UpdatedAt time.Time
}

// Reader exposes balances for queries.
type Reader interface {
	GetBalance(ctx context.Context, teacher shared.TeacherID) (Balance, error)
}
