package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAYMENT COMMANDS
// Confirmed gateway payments open (ConfirmPayment) or extend (TopUp) the
// session ledger. The platform fee is withheld from the teacher's payout.
// ══════════════════════════════════════════════════════════════════════════════

// PaymentCommand contains a confirmed payment for one enrollment.
type PaymentCommand struct {
	EnrollmentID shared.EnrollmentID
	Amount       shared.Money
	// Sessions bought. Zero means the contracted total (first payment only).
	Sessions  int
	Reference string
}

// Validate validates the command.
func (c PaymentCommand) Validate() error {
	if !c.EnrollmentID.IsValid() {
		return shared.NewDomainError("enrollment", "Pay", shared.ErrInvalidID, "invalid enrollment ID")
	}
	if c.Amount.IsNegative() || c.Sessions < 0 {
		return shared.ErrInvalidPayment
	}
	if strings.TrimSpace(c.Reference) == "" {
		return shared.NewDomainError("enrollment", "Pay", shared.ErrEmptyValue, "payment reference is required")
	}
	return nil
}

// PaymentHandlerConfig configures payment handling.
type PaymentHandlerConfig struct {
	// FeeBasisPoints is the platform fee in 1/100 of a percent.
	FeeBasisPoints int64
	LockTTL        time.Duration
	Now            func() time.Time
}

// DefaultPaymentHandlerConfig returns default configuration.
func DefaultPaymentHandlerConfig() PaymentHandlerConfig {
	return PaymentHandlerConfig{
		FeeBasisPoints: 1500,
		LockTTL:        DefaultLockTTL,
		Now:            time.Now,
	}
}

// Fee returns the platform fee of amount, rounded down.
func (c PaymentHandlerConfig) Fee(amount shared.Money) shared.Money {
	if c.FeeBasisPoints <= 0 {
		return 0
	}
	return shared.Money(int64(amount) * c.FeeBasisPoints / 10000)
}

// PaymentResult is returned by the payment handlers.
type PaymentResult struct {
	Enrollment *enrollment.Enrollment
	Fee        shared.Money
}

// PaymentHandler handles ConfirmPayment and TopUp.
type PaymentHandler struct {
	writer    ledgerWriter
	publisher shared.EventPublisher
	config    PaymentHandlerConfig
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(enrollments enrollment.Repository, locker Locker, publisher shared.EventPublisher, config PaymentHandlerConfig) *PaymentHandler {
	d := DefaultPaymentHandlerConfig()
	if config.LockTTL <= 0 {
		config.LockTTL = d.LockTTL
	}
	if config.Now == nil {
		config.Now = d.Now
	}
	return &PaymentHandler{
		writer:    newLedgerWriter(enrollments, locker, config.LockTTL),
		publisher: publisher,
		config:    config,
	}
}

// Confirm applies the first payment and activates the enrollment.
func (h *PaymentHandler) Confirm(ctx context.Context, cmd PaymentCommand) (*PaymentResult, error) {
	return h.handle(ctx, "confirm_payment", cmd, func(e *enrollment.Enrollment, p enrollment.Payment, now time.Time) error {
		return e.ConfirmPayment(p, now)
	})
}

// TopUp adds sessions to an active or exhausted enrollment.
func (h *PaymentHandler) TopUp(ctx context.Context, cmd PaymentCommand) (*PaymentResult, error) {
	if cmd.Sessions <= 0 {
		return nil, fmt.Errorf("top_up: validation failed: %w", shared.ErrInvalidPayment)
	}
	return h.handle(ctx, "top_up", cmd, func(e *enrollment.Enrollment, p enrollment.Payment, now time.Time) error {
		return e.TopUp(p, now)
	})
}

func (h *PaymentHandler) handle(
	ctx context.Context,
	name string,
	cmd PaymentCommand,
	apply func(e *enrollment.Enrollment, p enrollment.Payment, now time.Time) error,
) (*PaymentResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("%s: validation failed: %w", name, err)
	}

	p := enrollment.Payment{
		Amount:    cmd.Amount,
		Fee:       h.config.Fee(cmd.Amount),
		Sessions:  cmd.Sessions,
		Reference: strings.TrimSpace(cmd.Reference),
	}
	e, events, err := h.writer.apply(ctx, cmd.EnrollmentID, func(e *enrollment.Enrollment) error {
		return apply(e, p, h.config.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	publishAll(h.publisher, events...)
	return &PaymentResult{Enrollment: e, Fee: p.Fee}, nil
}
