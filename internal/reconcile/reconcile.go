// Package reconcile computes the close-out summary for a cash session: the
// physically counted cash against the per-method expected figures derived
// from the session's confirmed transactions. It is a pure computation; the
// close wizard's steps are presentation only.
package reconcile

import (
	"fmt"
	"math"

	"camperpark/internal/models"
)

// NoteThreshold is the absolute cash difference above which the close
// requires an explanatory note. Advisory: the caller enforces it.
const NoteThreshold = 10.0

// Denominations maps breakdown keys to euro values, notes and coins.
var Denominations = map[string]float64{
	"500": 500, "200": 200, "100": 100, "50": 50, "20": 20, "10": 10, "5": 5,
	"2": 2, "1": 1,
	"0.50": 0.50, "0.20": 0.20, "0.10": 0.10, "0.05": 0.05, "0.02": 0.02, "0.01": 0.01,
}

// Input carries everything the close-out computation needs in one call.
type Input struct {
	InitialAmount    float64
	Transactions     []models.CashTransaction
	CashBreakdown    map[string]int
	ActualCard       float64
	ActualTransfer   float64
	ActualWithdrawal float64
	SuggestedChange  float64 // operator-chosen float target for next day
}

// Summary is the computed close-out result.
type Summary struct {
	CountedCash         float64
	ExpectedCash        float64
	ExpectedCard        float64
	ExpectedTransfer    float64
	CashDifference      float64
	TotalDifference     float64
	SuggestedWithdrawal float64
	RemainingInRegister float64
	NoteRequired        bool
}

// CountedCash sums denomination value times count over the breakdown.
func CountedCash(breakdown map[string]int) (float64, error) {
	var total float64
	for denom, count := range breakdown {
		value, ok := Denominations[denom]
		if !ok {
			return 0, fmt.Errorf("reconcile: unknown denomination %q", denom)
		}
		if count < 0 {
			return 0, fmt.Errorf("reconcile: negative count for denomination %q", denom)
		}
		total += value * float64(count)
	}
	return round2(total), nil
}

// ExpectedByMethod replays confirmed transactions into per-method expected
// figures. Cash includes the initial float and subtracts withdrawals; card
// and transfer are plain inflow sums. The initial seed transaction is the
// float itself and is skipped.
func ExpectedByMethod(initialAmount float64, txs []models.CashTransaction) (cash, card, transfer float64) {
	cash = initialAmount
	for _, tx := range txs {
		switch tx.Type {
		case models.TxInitial:
			continue
		case models.TxWithdrawal:
			cash -= tx.AmountDue
		default:
			switch tx.Method {
			case models.MethodCash:
				cash += tx.AmountDue
			case models.MethodCard:
				card += tx.AmountDue
			case models.MethodTransfer:
				transfer += tx.AmountDue
			}
		}
	}
	return round2(cash), round2(card), round2(transfer)
}

// Compute produces the full close-out summary.
func Compute(in Input) (Summary, error) {
	counted, err := CountedCash(in.CashBreakdown)
	if err != nil {
		return Summary{}, err
	}
	if in.ActualWithdrawal < 0 {
		return Summary{}, fmt.Errorf("reconcile: negative withdrawal")
	}

	expectedCash, expectedCard, expectedTransfer := ExpectedByMethod(in.InitialAmount, in.Transactions)

	cashDiff := round2(counted - expectedCash)
	totalDiff := round2((counted + in.ActualCard + in.ActualTransfer) -
		(expectedCash + expectedCard + expectedTransfer))

	suggested := round2(counted - in.SuggestedChange)
	if suggested < 0 {
		suggested = 0
	}
	remaining := round2(counted - in.ActualWithdrawal)
	if remaining < 0 {
		remaining = 0
	}

	return Summary{
		CountedCash:         counted,
		ExpectedCash:        expectedCash,
		ExpectedCard:        expectedCard,
		ExpectedTransfer:    expectedTransfer,
		CashDifference:      cashDiff,
		TotalDifference:     totalDiff,
		SuggestedWithdrawal: suggested,
		RemainingInRegister: remaining,
		NoteRequired:        math.Abs(cashDiff) > NoteThreshold,
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
