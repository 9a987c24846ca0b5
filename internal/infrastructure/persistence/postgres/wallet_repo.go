package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/wallet"
)

// Wallet implements wallet.Wallet on the teacher_wallets table for
// deployments where the engine owns the balances. Each release is recorded
// by reference in wallet_releases, which makes it idempotent.
type Wallet struct {
	conn *Connection
}

var (
	_ wallet.Wallet = (*Wallet)(nil)
	_ wallet.Reader = (*Wallet)(nil)
)

// NewWallet creates a new Wallet.
func NewWallet(conn *Connection) *Wallet {
	return &Wallet{conn: conn}
}

// Deposit adds escrowed funds to the teacher's pending balance.
func (w *Wallet) Deposit(ctx context.Context, teacher shared.TeacherID, amount shared.Money) error {
	_, err := w.conn.Exec(ctx, `
		INSERT INTO teacher_wallets (teacher_id, pending, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (teacher_id) DO UPDATE
		SET pending = teacher_wallets.pending + EXCLUDED.pending, updated_at = NOW()`,
		teacher.String(), int64(amount))
	if err != nil {
		return fmt.Errorf("failed to deposit: %w", err)
	}
	return nil
}

// ReleaseFunds implements wallet.Wallet.
func (w *Wallet) ReleaseFunds(ctx context.Context, teacher shared.TeacherID, amount shared.Money, reference string) error {
	return w.conn.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO wallet_releases (reference, teacher_id, amount) VALUES ($1, $2, $3)
			ON CONFLICT (reference) DO NOTHING`,
			reference, teacher.String(), int64(amount))
		if err != nil {
			return fmt.Errorf("failed to record release: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		tag, err = tx.Exec(ctx, `
			UPDATE teacher_wallets
			SET pending = pending - $2, available = available + $2, updated_at = NOW()
			WHERE teacher_id = $1 AND pending >= $2`,
			teacher.String(), int64(amount))
		if err != nil {
			return fmt.Errorf("failed to move funds: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrInsufficientEscrow
		}
		return nil
	})
}

// GetBalance implements wallet.Reader.
func (w *Wallet) GetBalance(ctx context.Context, teacher shared.TeacherID) (wallet.Balance, error) {
	var (
		pending, available int64
		updatedAt          time.Time
	)
	err := w.conn.QueryRow(ctx, `
		SELECT pending, available, updated_at FROM teacher_wallets WHERE teacher_id = $1`,
		teacher.String()).Scan(&pending, &available, &updatedAt)
	if err != nil {
		if IsNoRows(err) {
			return wallet.Balance{}, shared.ErrWalletNotFound
		}
		return wallet.Balance{}, fmt.Errorf("failed to get balance: %w", err)
	}
	return wallet.Balance{
		TeacherID: teacher,
		Pending:   shared.Money(pending),
		Available: shared.Money(available),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}
