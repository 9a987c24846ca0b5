package memory

import (
	"context"
	"sync"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/wallet"
)

// Wallet implements wallet.Wallet and wallet.Reader. Pending balances may
// go negative: escrow deposits are made by the payment system, which lives
// outside this service.
type Wallet struct {
	mu       sync.Mutex
	balances map[shared.TeacherID]*wallet.Balance
	released map[string]shared.Money

	// failNext counts releases that fail before the wallet recovers.
	failNext int
}

// NewWallet creates an empty wallet.
func NewWallet() *Wallet {
	return &Wallet{
		balances: make(map[shared.TeacherID]*wallet.Balance),
		released: make(map[string]shared.Money),
	}
}

var (
	_ wallet.Wallet = (*Wallet)(nil)
	_ wallet.Reader = (*Wallet)(nil)
)

// Deposit adds escrowed funds to the teacher's pending balance.
func (w *Wallet) Deposit(teacher shared.TeacherID, amount shared.Money) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b := w.balance(teacher)
	b.Pending += amount
	b.UpdatedAt = time.Now().UTC()
}

// FailNext makes the next n releases fail with shared.ErrWalletUnavailable.
func (w *Wallet) FailNext(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failNext = n
}

// ReleaseFunds implements wallet.Wallet.
func (w *Wallet) ReleaseFunds(_ context.Context, teacher shared.TeacherID, amount shared.Money, reference string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failNext > 0 {
		w.failNext--
		return shared.ErrWalletUnavailable
	}
	if _, done := w.released[reference]; done {
		return nil
	}
	b := w.balance(teacher)
	b.Pending -= amount
	b.Available += amount
	b.UpdatedAt = time.Now().UTC()
	w.released[reference] = amount
	return nil
}

// GetBalance implements wallet.Reader.
func (w *Wallet) GetBalance(_ context.Context, teacher shared.TeacherID) (wallet.Balance, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.balances[teacher]
	if !ok {
		return wallet.Balance{}, shared.ErrWalletNotFound
	}
	return *b, nil
}

// Releases returns the number of distinct references released.
func (w *Wallet) Releases() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.released)
}

func (w *Wallet) balance(teacher shared.TeacherID) *wallet.Balance {
	b, ok := w.balances[teacher]
	if !ok {
		b = &wallet.Balance{TeacherID: teacher}
		w.balances[teacher] = b
	}
	return b
}
