// Package ledger manages cash sessions and their transactions: one open
// session at a time, per-method payment rules, pending bank transfers, and
// the reconciled close-out.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"camperpark/internal/models"
	"camperpark/internal/notify"
	"camperpark/internal/reconcile"
	"camperpark/internal/store"
)

// ErrNoteRequired is returned by Close when the cash difference exceeds the
// policy threshold and no explanatory note was given. Closing stays possible:
// the operator supplies a note and retries.
var ErrNoteRequired = errors.New("cash difference requires an explanatory note")

// DefaultChangeTarget is the float the operator usually keeps for next day.
const DefaultChangeTarget = 300.0

// Ledger is the cash register service.
type Ledger struct {
	store    store.Store
	notifier notify.Notifier
	logger   *zap.Logger
}

// New builds the ledger service.
func New(st store.Store, notifier notify.Notifier, logger *zap.Logger) *Ledger {
	return &Ledger{store: st, notifier: notifier, logger: logger}
}

// BuildPayment applies the per-method payment rules and returns a posting
// ready for the store. Cash requires the tendered amount to cover the due
// amount and computes change; card and transfer settle exactly.
func BuildPayment(txType models.TransactionType, stayID *int64, amountDue, amountPaid float64, method models.PaymentMethod, notes, user string) (store.Payment, error) {
	if !models.ValidMethod(method) {
		return store.Payment{}, fmt.Errorf("ledger: invalid payment method %q", method)
	}
	if amountDue < 0 {
		return store.Payment{}, errors.New("ledger: negative amount due")
	}

	payment := store.Payment{
		Type:      txType,
		StayID:    stayID,
		AmountDue: amountDue,
		Method:    method,
		Notes:     notes,
		User:      user,
	}
	switch method {
	case models.MethodCash:
		if amountPaid < amountDue {
			return store.Payment{}, store.ErrInsufficientPayment
		}
		payment.AmountPaid = amountPaid
		payment.ChangeGiven = amountPaid - amountDue
	default:
		payment.AmountPaid = amountDue
	}
	return payment, nil
}

// OpenSession opens the register for the day with an initial float.
func (l *Ledger) OpenSession(ctx context.Context, initialAmount float64, user string) (models.CashSession, error) {
	if initialAmount < 0 {
		return models.CashSession{}, errors.New("ledger: negative initial amount")
	}

	session, err := l.store.OpenSession(ctx, store.OpenSessionInput{
		InitialAmount: initialAmount,
		User:          user,
	})
	if err != nil {
		return models.CashSession{}, err
	}

	l.appendHistory(ctx, nil, "cash session opened", map[string]any{
		"session_id":     session.ID,
		"initial_amount": initialAmount,
	}, user)
	l.logger.Info("cash session opened",
		zap.Int64("session_id", session.ID),
		zap.Float64("initial_amount", initialAmount),
		zap.String("user", user))
	return session, nil
}

// Active returns the open session.
func (l *Ledger) Active(ctx context.Context) (models.CashSession, error) {
	return l.store.ActiveSession(ctx)
}

// Session returns a session by id.
func (l *Ledger) Session(ctx context.Context, sessionID int64) (models.CashSession, error) {
	return l.store.GetSession(ctx, sessionID)
}

// Transactions lists a session's confirmed transactions.
func (l *Ledger) Transactions(ctx context.Context, sessionID int64) ([]models.CashTransaction, error) {
	return l.store.ListTransactions(ctx, sessionID)
}

// PendingTransfers lists unconfirmed bank transfers.
func (l *Ledger) PendingTransfers(ctx context.Context) ([]models.PendingTransfer, error) {
	return l.store.ListPendingTransfers(ctx)
}

// ProductSaleInput describes a shop sale registered directly in the ledger.
type ProductSaleInput struct {
	ProductName string
	Quantity    int
	UnitPrice   float64
	Method      models.PaymentMethod
	AmountPaid  float64
	User        string
}

// PostProductSale registers a shop sale.
func (l *Ledger) PostProductSale(ctx context.Context, input ProductSaleInput) (store.PostResult, error) {
	if strings.TrimSpace(input.ProductName) == "" {
		return store.PostResult{}, errors.New("ledger: product name required")
	}
	if input.Quantity <= 0 {
		return store.PostResult{}, errors.New("ledger: quantity must be positive")
	}
	if input.UnitPrice <= 0 {
		return store.PostResult{}, errors.New("ledger: unit price must be positive")
	}

	total := float64(input.Quantity) * input.UnitPrice
	paid := input.AmountPaid
	if paid == 0 {
		paid = total
	}
	notes := fmt.Sprintf("%dx %s @ %.2f", input.Quantity, input.ProductName, input.UnitPrice)
	payment, err := BuildPayment(models.TxProductSale, nil, total, paid, input.Method, notes, input.User)
	if err != nil {
		return store.PostResult{}, err
	}

	result, err := l.store.PostTransaction(ctx, payment)
	if err != nil {
		return store.PostResult{}, err
	}
	l.logger.Info("product sale registered",
		zap.String("product", input.ProductName),
		zap.Float64("total", total),
		zap.String("method", string(input.Method)))
	return result, nil
}

// Withdraw takes cash out of the register, bounded by the current float.
func (l *Ledger) Withdraw(ctx context.Context, amount float64, notes, user string) (models.CashTransaction, error) {
	if amount <= 0 {
		return models.CashTransaction{}, errors.New("ledger: withdrawal must be positive")
	}

	session, err := l.store.ActiveSession(ctx)
	if err != nil {
		return models.CashTransaction{}, err
	}
	tx, err := l.store.Withdraw(ctx, store.WithdrawInput{
		SessionID: session.ID,
		Amount:    amount,
		Notes:     notes,
		User:      user,
	})
	if err != nil {
		return models.CashTransaction{}, err
	}

	l.appendHistory(ctx, nil, "cash withdrawal", map[string]any{
		"session_id": session.ID,
		"amount":     amount,
	}, user)
	return tx, nil
}

// ConfirmTransfer books a pending bank transfer into the open session.
func (l *Ledger) ConfirmTransfer(ctx context.Context, pendingID int64, user string) (models.CashTransaction, error) {
	tx, err := l.store.ConfirmTransfer(ctx, pendingID, user)
	if err != nil {
		return models.CashTransaction{}, err
	}
	l.logger.Info("transfer confirmed",
		zap.Int64("transaction_id", tx.ID),
		zap.Float64("amount", tx.AmountDue),
		zap.String("user", user))
	return tx, nil
}

// TransferSinpa abandons a pending transfer that never arrived: the pending
// record is deleted and the vehicle is blacklisted for the amount. No ledger
// effect, the money was never counted.
func (l *Ledger) TransferSinpa(ctx context.Context, pendingID int64, notes, user string) (models.BlacklistEntry, error) {
	entry, err := l.store.TransferSinpa(ctx, pendingID, notes, user)
	if err != nil {
		return models.BlacklistEntry{}, err
	}
	l.logger.Warn("pending transfer marked sinpa",
		zap.String("plate", entry.Plate),
		zap.Float64("amount_owed", entry.AmountOwed),
		zap.String("user", user))
	return entry, nil
}

// Undo reverses a transaction: totals are rolled back, the record is deleted
// and a stay payment reverts to pending. Forbidden on the initial seed.
func (l *Ledger) Undo(ctx context.Context, transactionID int64, user string) (store.UndoResult, error) {
	result, err := l.store.UndoTransaction(ctx, transactionID)
	if err != nil {
		return store.UndoResult{}, err
	}

	l.appendHistory(ctx, result.Transaction.StayID, "transaction undone", map[string]any{
		"transaction_id":   result.Transaction.ID,
		"transaction_type": string(result.Transaction.Type),
		"amount_due":       result.Transaction.AmountDue,
	}, user)
	l.logger.Info("transaction undone",
		zap.Int64("transaction_id", result.Transaction.ID),
		zap.String("type", string(result.Transaction.Type)),
		zap.String("user", user))
	return result, nil
}

// PreCloseInfo is what the operator sees before committing a close.
type PreCloseInfo struct {
	SessionID           int64                    `json:"session_id"`
	ExpectedCash        float64                  `json:"expected_cash"`
	ExpectedCard        float64                  `json:"expected_card"`
	ExpectedTransfer    float64                  `json:"expected_transfer"`
	SuggestedWithdrawal float64                  `json:"suggested_withdrawal"`
	PendingTransfers    []models.PendingTransfer `json:"pending_transfers"`
}

// PreClose computes expected figures for the open session and a withdrawal
// suggestion against the given float target.
func (l *Ledger) PreClose(ctx context.Context, suggestedChange float64) (PreCloseInfo, error) {
	if suggestedChange <= 0 {
		suggestedChange = DefaultChangeTarget
	}
	session, err := l.store.ActiveSession(ctx)
	if err != nil {
		return PreCloseInfo{}, err
	}
	txs, err := l.store.ListTransactions(ctx, session.ID)
	if err != nil {
		return PreCloseInfo{}, err
	}
	pendings, err := l.store.ListPendingTransfers(ctx)
	if err != nil {
		return PreCloseInfo{}, err
	}

	cash, card, transfer := reconcile.ExpectedByMethod(session.InitialAmount, txs)
	suggested := cash - suggestedChange
	if suggested < 0 {
		suggested = 0
	}
	return PreCloseInfo{
		SessionID:           session.ID,
		ExpectedCash:        cash,
		ExpectedCard:        card,
		ExpectedTransfer:    transfer,
		SuggestedWithdrawal: suggested,
		PendingTransfers:    pendings,
	}, nil
}

// CloseInput is everything a close needs in one call.
type CloseInput struct {
	CashBreakdown    map[string]int
	ActualCard       float64
	ActualTransfer   float64
	ActualWithdrawal float64
	SuggestedChange  float64
	Notes            string
	User             string
}

// Close reconciles and closes the open session, then notifies. A notifier
// failure is logged and reported as a warning; the close stands.
func (l *Ledger) Close(ctx context.Context, input CloseInput) (models.CashSession, error) {
	session, err := l.store.ActiveSession(ctx)
	if err != nil {
		return models.CashSession{}, err
	}
	txs, err := l.store.ListTransactions(ctx, session.ID)
	if err != nil {
		return models.CashSession{}, err
	}

	change := input.SuggestedChange
	if change <= 0 {
		change = DefaultChangeTarget
	}
	summary, err := reconcile.Compute(reconcile.Input{
		InitialAmount:    session.InitialAmount,
		Transactions:     txs,
		CashBreakdown:    input.CashBreakdown,
		ActualCard:       input.ActualCard,
		ActualTransfer:   input.ActualTransfer,
		ActualWithdrawal: input.ActualWithdrawal,
		SuggestedChange:  change,
	})
	if err != nil {
		return models.CashSession{}, err
	}
	if summary.NoteRequired && strings.TrimSpace(input.Notes) == "" {
		return models.CashSession{}, ErrNoteRequired
	}

	closed, err := l.store.CloseSession(ctx, store.CloseSessionInput{
		SessionID: session.ID,
		User:      input.User,
		Summary: models.CloseSummary{
			CashBreakdown:       input.CashBreakdown,
			CountedCash:         summary.CountedCash,
			ExpectedCash:        summary.ExpectedCash,
			ExpectedCard:        summary.ExpectedCard,
			ExpectedTransfer:    summary.ExpectedTransfer,
			ActualCard:          input.ActualCard,
			ActualTransfer:      input.ActualTransfer,
			CashDifference:      summary.CashDifference,
			TotalDifference:     summary.TotalDifference,
			SuggestedWithdrawal: summary.SuggestedWithdrawal,
			ActualWithdrawal:    input.ActualWithdrawal,
			RemainingInRegister: summary.RemainingInRegister,
			Notes:               input.Notes,
		},
	})
	if err != nil {
		return models.CashSession{}, err
	}

	l.appendHistory(ctx, nil, "cash session closed", map[string]any{
		"session_id":      closed.ID,
		"counted_cash":    summary.CountedCash,
		"cash_difference": summary.CashDifference,
	}, input.User)

	if l.notifier != nil {
		if notifyErr := l.notifier.Send(ctx, closed); notifyErr != nil {
			l.logger.Warn("close notification failed", zap.Int64("session_id", closed.ID), zap.Error(notifyErr))
		}
	}
	l.logger.Info("cash session closed",
		zap.Int64("session_id", closed.ID),
		zap.Float64("counted_cash", summary.CountedCash),
		zap.Float64("cash_difference", summary.CashDifference),
		zap.String("user", input.User))
	return closed, nil
}

// LastClosing reports the most recent close, used to suggest the next
// session's initial float.
func (l *Ledger) LastClosing(ctx context.Context) (models.CashSession, error) {
	return l.store.LastClosedSession(ctx)
}

func (l *Ledger) appendHistory(ctx context.Context, stayID *int64, action string, details map[string]any, user string) {
	if err := l.store.AppendHistory(ctx, store.HistoryInput{
		StayID:  stayID,
		Action:  action,
		Details: details,
		User:    user,
	}); err != nil {
		l.logger.Warn("failed to append history", zap.Error(err))
	}
}
