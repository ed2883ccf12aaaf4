package reconcile

import (
	"testing"

	"camperpark/internal/models"
)

func tx(txType models.TransactionType, method models.PaymentMethod, due float64) models.CashTransaction {
	return models.CashTransaction{Type: txType, Method: method, AmountDue: due}
}

func TestCountedCash(t *testing.T) {
	breakdown := map[string]int{
		"50":   2,
		"20":   5,
		"5":    3,
		"0.50": 4,
		"0.02": 3,
	}
	got, err := CountedCash(breakdown)
	if err != nil {
		t.Fatalf("CountedCash: %v", err)
	}
	if got != 217.06 {
		t.Fatalf("counted=%v, want 217.06", got)
	}
}

func TestCountedCashRejectsUnknownDenomination(t *testing.T) {
	if _, err := CountedCash(map[string]int{"3": 1}); err == nil {
		t.Fatal("expected error for unknown denomination")
	}
	if _, err := CountedCash(map[string]int{"20": -1}); err == nil {
		t.Fatal("expected error for negative count")
	}
}

func TestExpectedByMethod(t *testing.T) {
	txs := []models.CashTransaction{
		tx(models.TxInitial, models.MethodCash, 100),
		tx(models.TxCheckout, models.MethodCash, 30),
		tx(models.TxPrepayment, models.MethodCard, 36),
		tx(models.TxProductSale, models.MethodCash, 4.50),
		tx(models.TxCheckout, models.MethodTransfer, 60),
		tx(models.TxWithdrawal, models.MethodCash, 50),
	}

	cash, card, transfer := ExpectedByMethod(100, txs)
	if cash != 84.50 {
		t.Fatalf("expected cash=%v, want 84.50", cash)
	}
	if card != 36 {
		t.Fatalf("expected card=%v, want 36", card)
	}
	if transfer != 60 {
		t.Fatalf("expected transfer=%v, want 60", transfer)
	}
}

func TestComputeDifferencesAndWithdrawal(t *testing.T) {
	in := Input{
		InitialAmount: 100,
		Transactions: []models.CashTransaction{
			tx(models.TxCheckout, models.MethodCash, 160),
		},
		CashBreakdown:    map[string]int{"100": 2, "50": 1}, // 250 counted
		ActualCard:       0,
		ActualTransfer:   0,
		ActualWithdrawal: 100,
		SuggestedChange:  300,
	}

	sum, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if sum.ExpectedCash != 260 {
		t.Fatalf("expected cash=%v, want 260", sum.ExpectedCash)
	}
	if sum.CashDifference != -10 {
		t.Fatalf("cash difference=%v, want -10", sum.CashDifference)
	}
	// |-10| is not strictly greater than the threshold.
	if sum.NoteRequired {
		t.Fatal("note must not be required at a difference of exactly 10")
	}
	if sum.SuggestedWithdrawal != 0 {
		t.Fatalf("suggested withdrawal=%v, want 0 (counted below float target)", sum.SuggestedWithdrawal)
	}
	if sum.RemainingInRegister != 150 {
		t.Fatalf("remaining=%v, want 150", sum.RemainingInRegister)
	}
}

func TestComputeNoteRequiredJustOverThreshold(t *testing.T) {
	in := Input{
		InitialAmount: 100,
		Transactions: []models.CashTransaction{
			tx(models.TxCheckout, models.MethodCash, 160.01),
		},
		CashBreakdown: map[string]int{"100": 2, "50": 1}, // 250 counted, expected 260.01
	}

	sum, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if sum.CashDifference != -10.01 {
		t.Fatalf("cash difference=%v, want -10.01", sum.CashDifference)
	}
	if !sum.NoteRequired {
		t.Fatal("note must be required above a difference of 10")
	}
}

func TestRemainingNeverNegative(t *testing.T) {
	in := Input{
		CashBreakdown:    map[string]int{"20": 1},
		ActualWithdrawal: 50,
		SuggestedChange:  500,
	}
	sum, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if sum.RemainingInRegister != 0 {
		t.Fatalf("remaining=%v, want 0", sum.RemainingInRegister)
	}
	if sum.SuggestedWithdrawal != 0 {
		t.Fatalf("suggested=%v, want 0", sum.SuggestedWithdrawal)
	}
}

func TestComputeTotalDifference(t *testing.T) {
	in := Input{
		InitialAmount: 50,
		Transactions: []models.CashTransaction{
			tx(models.TxCheckout, models.MethodCash, 30),
			tx(models.TxCheckout, models.MethodCard, 40),
			tx(models.TxPrepayment, models.MethodTransfer, 20),
		},
		CashBreakdown:  map[string]int{"50": 1, "20": 1, "10": 1}, // 80 counted, expected 80
		ActualCard:     38,
		ActualTransfer: 20,
	}
	sum, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if sum.CashDifference != 0 {
		t.Fatalf("cash difference=%v, want 0", sum.CashDifference)
	}
	if sum.TotalDifference != -2 {
		t.Fatalf("total difference=%v, want -2", sum.TotalDifference)
	}
}
