package ledger

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"camperpark/internal/models"
	"camperpark/internal/store"
	"camperpark/internal/store/memory"
)

func newTestLedger() (*Ledger, *memory.Store) {
	st := memory.New(memory.DefaultLayout())
	return New(st, nil, zap.NewNop()), st
}

func TestBuildPayment(t *testing.T) {
	stayID := int64(7)
	tests := []struct {
		name       string
		method     models.PaymentMethod
		due, paid  float64
		wantErr    error
		wantPaid   float64
		wantChange float64
	}{
		{name: "cash exact", method: models.MethodCash, due: 30, paid: 30, wantPaid: 30},
		{name: "cash with change", method: models.MethodCash, due: 30, paid: 50, wantPaid: 50, wantChange: 20},
		{name: "cash short", method: models.MethodCash, due: 30, paid: 20, wantErr: store.ErrInsufficientPayment},
		{name: "card settles exactly", method: models.MethodCard, due: 30, paid: 0, wantPaid: 30},
		{name: "transfer settles exactly", method: models.MethodTransfer, due: 30, paid: 999, wantPaid: 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payment, err := BuildPayment(models.TxCheckout, &stayID, tt.due, tt.paid, tt.method, "", "ana")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if payment.AmountPaid != tt.wantPaid || payment.ChangeGiven != tt.wantChange {
				t.Errorf("paid = %.2f change = %.2f, want %.2f/%.2f",
					payment.AmountPaid, payment.ChangeGiven, tt.wantPaid, tt.wantChange)
			}
		})
	}

	if _, err := BuildPayment(models.TxCheckout, nil, 10, 10, "iou", "", "ana"); err == nil {
		t.Error("invalid method accepted")
	}
}

func TestOpenSessionSeedsInitialAndIsExclusive(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger()

	session, err := l.OpenSession(ctx, 150, "ana")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	txs, err := st.ListTransactions(ctx, session.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 1 || txs[0].Type != models.TxInitial || txs[0].AmountDue != 150 {
		t.Fatalf("seed transaction wrong: %+v", txs)
	}
	if session.ExpectedAmount() != 150 {
		t.Errorf("expected amount = %.2f, want initial float", session.ExpectedAmount())
	}

	if _, err := l.OpenSession(ctx, 100, "bea"); !errors.Is(err, store.ErrSessionAlreadyOpen) {
		t.Fatalf("second open err = %v, want ErrSessionAlreadyOpen", err)
	}
}

func TestProductSaleAndWithdrawal(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()
	if _, err := l.OpenSession(ctx, 100, "ana"); err != nil {
		t.Fatalf("open: %v", err)
	}

	result, err := l.PostProductSale(ctx, ProductSaleInput{
		ProductName: "butane bottle",
		Quantity:    2,
		UnitPrice:   17.5,
		Method:      models.MethodCash,
		User:        "ana",
	})
	if err != nil {
		t.Fatalf("product sale: %v", err)
	}
	if result.Transaction == nil || result.Transaction.AmountDue != 35 {
		t.Fatalf("sale posting wrong: %+v", result)
	}
	if result.Transaction.Notes != "2x butane bottle @ 17.50" {
		t.Errorf("notes = %q", result.Transaction.Notes)
	}

	session, err := l.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if session.ExpectedAmount() != 135 {
		t.Errorf("expected = %.2f, want 135", session.ExpectedAmount())
	}

	if _, err := l.Withdraw(ctx, 200, "", "ana"); !errors.Is(err, store.ErrExceedsAvailable) {
		t.Fatalf("over-withdraw err = %v, want ErrExceedsAvailable", err)
	}
	if _, err := l.Withdraw(ctx, 35, "bank run", "ana"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	session, _ = l.Active(ctx)
	if session.ExpectedAmount() != 100 {
		t.Errorf("expected after withdrawal = %.2f, want 100", session.ExpectedAmount())
	}
}

func TestConfirmAndAbandonTransfers(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger()
	if _, err := l.OpenSession(ctx, 0, "ana"); err != nil {
		t.Fatalf("open: %v", err)
	}

	stay, _, err := st.ManualEntry(ctx, store.ManualEntryInput{
		Plate: "PP111PP", SpotType: models.SpotTypeA, User: "ana",
	})
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	payment, err := BuildPayment(models.TxCheckout, &stay.ID, 40, 0, models.MethodTransfer, "", "ana")
	if err != nil {
		t.Fatalf("build payment: %v", err)
	}
	if _, _, err := st.CheckOut(ctx, store.CheckOutInput{StayID: stay.ID, FinalPrice: 40, Payment: payment}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	pendings, err := l.PendingTransfers(ctx)
	if err != nil {
		t.Fatalf("pendings: %v", err)
	}
	if len(pendings) != 1 || pendings[0].Amount != 40 {
		t.Fatalf("pendings = %+v", pendings)
	}

	tx, err := l.ConfirmTransfer(ctx, pendings[0].ID, "ana")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if tx.Method != models.MethodTransfer || tx.AmountDue != 40 {
		t.Fatalf("confirmed tx wrong: %+v", tx)
	}
	if pendings, _ = l.PendingTransfers(ctx); len(pendings) != 0 {
		t.Fatal("pending not consumed")
	}
	// Transfers never touch the cash float.
	session, _ := l.Active(ctx)
	if session.TotalCashIn != 0 {
		t.Errorf("transfer bumped cash: %.2f", session.TotalCashIn)
	}

	// A second stay whose transfer never arrives turns into debt.
	stay2, _, err := st.ManualEntry(ctx, store.ManualEntryInput{
		Plate: "PP222PP", SpotType: models.SpotTypeA, User: "ana",
	})
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	payment2, _ := BuildPayment(models.TxCheckout, &stay2.ID, 25, 0, models.MethodTransfer, "", "ana")
	if _, _, err := st.CheckOut(ctx, store.CheckOutInput{StayID: stay2.ID, FinalPrice: 25, Payment: payment2}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	pendings, _ = l.PendingTransfers(ctx)
	entry, err := l.TransferSinpa(ctx, pendings[0].ID, "never arrived", "ana")
	if err != nil {
		t.Fatalf("transfer sinpa: %v", err)
	}
	if entry.Plate != "PP222PP" || entry.AmountOwed != 25 {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestUndoRevertsTotalsAndStay(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger()
	if _, err := l.OpenSession(ctx, 100, "ana"); err != nil {
		t.Fatalf("open: %v", err)
	}

	stay, _, err := st.ManualEntry(ctx, store.ManualEntryInput{
		Plate: "QQ333QQ", SpotType: models.SpotTypeA, User: "ana",
	})
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	payment, _ := BuildPayment(models.TxCheckout, &stay.ID, 30, 30, models.MethodCash, "", "ana")
	_, result, err := st.CheckOut(ctx, store.CheckOutInput{StayID: stay.ID, FinalPrice: 30, Payment: payment})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	undo, err := l.Undo(ctx, result.Transaction.ID, "ana")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if undo.Session.TotalCashIn != 0 {
		t.Errorf("cash not reverted: %.2f", undo.Session.TotalCashIn)
	}
	if undo.Stay == nil || undo.Stay.PaymentStatus != models.PaymentPending {
		t.Fatalf("stay not reverted: %+v", undo.Stay)
	}

	txs, _ := st.ListTransactions(ctx, undo.Session.ID)
	for _, tx := range txs {
		if tx.ID == result.Transaction.ID {
			t.Fatal("undone transaction still listed")
		}
	}

	// The opening float seed is not undoable.
	var seedID int64
	for _, tx := range txs {
		if tx.Type == models.TxInitial {
			seedID = tx.ID
		}
	}
	if _, err := l.Undo(ctx, seedID, "ana"); !errors.Is(err, store.ErrUndoInitial) {
		t.Fatalf("undo initial err = %v, want ErrUndoInitial", err)
	}
}

func TestCloseRequiresNoteBeyondThreshold(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()
	if _, err := l.OpenSession(ctx, 100, "ana"); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Counted 89.99 against 100 expected: 10.01 short, over the threshold.
	short := map[string]int{"50": 1, "20": 1, "10": 1, "5": 1, "2": 2, "0.50": 1, "0.20": 2, "0.05": 1, "0.02": 2}
	_, err := l.Close(ctx, CloseInput{CashBreakdown: short, User: "ana"})
	if !errors.Is(err, ErrNoteRequired) {
		t.Fatalf("err = %v, want ErrNoteRequired", err)
	}

	// Same count with a note closes.
	closed, err := l.Close(ctx, CloseInput{CashBreakdown: short, Notes: "till drawer jammed, recount pending", User: "ana"})
	if err != nil {
		t.Fatalf("close with note: %v", err)
	}
	if closed.Status != models.SessionClosed || closed.Close == nil {
		t.Fatalf("session not closed: %+v", closed)
	}
	if got := closed.Close.CashDifference; got != -10.01 {
		t.Errorf("cash difference = %.2f, want -10.01", got)
	}

	if _, err := l.Active(ctx); !errors.Is(err, store.ErrNoOpenSession) {
		t.Fatalf("active after close err = %v, want ErrNoOpenSession", err)
	}
	last, err := l.LastClosing(ctx)
	if err != nil {
		t.Fatalf("last closing: %v", err)
	}
	if last.ID != closed.ID {
		t.Errorf("last closing = %d, want %d", last.ID, closed.ID)
	}
}

func TestCloseExactlyAtThresholdNeedsNoNote(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()
	if _, err := l.OpenSession(ctx, 100, "ana"); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Counted 90 against 100 expected: exactly 10 short, threshold not exceeded.
	closed, err := l.Close(ctx, CloseInput{CashBreakdown: map[string]int{"50": 1, "20": 2}, User: "ana"})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Close.CashDifference != -10 {
		t.Errorf("difference = %.2f, want -10", closed.Close.CashDifference)
	}
	if closed.Close.Notes != "" {
		t.Errorf("unexpected notes %q", closed.Close.Notes)
	}
}

func TestPreCloseSuggestsWithdrawal(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()
	if _, err := l.OpenSession(ctx, 300, "ana"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := l.PostProductSale(ctx, ProductSaleInput{
		ProductName: "firewood", Quantity: 10, UnitPrice: 8, Method: models.MethodCash, User: "ana",
	}); err != nil {
		t.Fatalf("sale: %v", err)
	}
	if _, err := l.PostProductSale(ctx, ProductSaleInput{
		ProductName: "gas refill", Quantity: 1, UnitPrice: 22, Method: models.MethodCard, User: "ana",
	}); err != nil {
		t.Fatalf("sale: %v", err)
	}

	info, err := l.PreClose(ctx, 0)
	if err != nil {
		t.Fatalf("preclose: %v", err)
	}
	if info.ExpectedCash != 380 {
		t.Errorf("expected cash = %.2f, want 380", info.ExpectedCash)
	}
	if info.ExpectedCard != 22 {
		t.Errorf("expected card = %.2f, want 22", info.ExpectedCard)
	}
	// Default float target of 300 leaves 80 to take to the bank.
	if info.SuggestedWithdrawal != 80 {
		t.Errorf("suggested withdrawal = %.2f, want 80", info.SuggestedWithdrawal)
	}
}
