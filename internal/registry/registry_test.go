package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"camperpark/internal/blacklist"
	"camperpark/internal/models"
	"camperpark/internal/store"
	"camperpark/internal/store/memory"
)

func newTestRegistry(spots []models.ParkingSpot) (*Registry, *memory.Store) {
	st := memory.New(spots)
	logger := zap.NewNop()
	return New(st, blacklist.New(st, logger), nil, nil, logger), st
}

func openSession(t *testing.T, st *memory.Store, initial float64) models.CashSession {
	t.Helper()
	session, err := st.OpenSession(context.Background(), store.OpenSessionInput{InitialAmount: initial, User: "ana"})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return session
}

func TestDetectCheckInCheckOut(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(memory.DefaultLayout())
	openSession(t, st, 100)

	stay, vehicle, err := reg.Detect(ctx, "ab 123 cd", "ES", "camper", time.Now(), "ana")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if vehicle.Plate != "AB123CD" {
		t.Errorf("plate not normalized: %q", vehicle.Plate)
	}
	if stay.State != models.StayPending {
		t.Fatalf("state = %s, want pending", stay.State)
	}

	stay, spot, err := reg.CheckIn(ctx, stay.ID, models.SpotTypeA, false, "ana")
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if stay.State != models.StayActive || stay.SpotID == nil || *stay.SpotID != spot.ID {
		t.Fatalf("check-in state = %s spot = %v", stay.State, stay.SpotID)
	}
	if spot.SpotNumber != 1 {
		t.Errorf("spot number = %d, want lowest free (1)", spot.SpotNumber)
	}

	stay, result, err := reg.CheckOut(ctx, stay.ID, 30, 50, models.MethodCash, "ana")
	if err != nil {
		t.Fatalf("check-out: %v", err)
	}
	if stay.State != models.StayCheckedOut || stay.PaymentStatus != models.PaymentPaid {
		t.Fatalf("after checkout: state = %s payment = %s", stay.State, stay.PaymentStatus)
	}
	if result.Transaction == nil {
		t.Fatal("expected a confirmed transaction")
	}
	if result.Transaction.ChangeGiven != 20 {
		t.Errorf("change = %.2f, want 20", result.Transaction.ChangeGiven)
	}

	session, err := st.ActiveSession(ctx)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if session.TotalCashIn != 30 {
		t.Errorf("total cash in = %.2f, want 30 (due, not tendered)", session.TotalCashIn)
	}

	// The freed spot is immediately reusable.
	_, spot2, err := reg.ManualEntry(ctx, "ZZ999ZZ", "ES", "camper", models.SpotTypeA, false, "ana")
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	if spot2.ID != spot.ID {
		t.Errorf("freed spot %d not reassigned, got %d", spot.ID, spot2.ID)
	}
}

func TestCheckOutRequiresOpenSession(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(memory.DefaultLayout())

	stay, _, err := reg.ManualEntry(ctx, "CC111CC", "ES", "camper", models.SpotTypeB, false, "ana")
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	_, _, err = reg.CheckOut(ctx, stay.ID, 12, 12, models.MethodCash, "ana")
	if !errors.Is(err, store.ErrNoOpenSession) {
		t.Fatalf("err = %v, want ErrNoOpenSession", err)
	}

	got, err := reg.Stay(ctx, stay.ID)
	if err != nil {
		t.Fatalf("get stay: %v", err)
	}
	if got.State != models.StayActive || got.PaymentStatus != models.PaymentPending {
		t.Errorf("failed checkout mutated stay: state = %s payment = %s", got.State, got.PaymentStatus)
	}
}

func TestCheckOutInsufficientCash(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(memory.DefaultLayout())
	openSession(t, st, 100)

	stay, _, err := reg.ManualEntry(ctx, "DD222DD", "ES", "camper", models.SpotTypeA, false, "ana")
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	_, _, err = reg.CheckOut(ctx, stay.ID, 30, 20, models.MethodCash, "ana")
	if !errors.Is(err, store.ErrInsufficientPayment) {
		t.Fatalf("err = %v, want ErrInsufficientPayment", err)
	}
}

func TestPrepayPromotesWithoutSpot(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(memory.DefaultLayout())
	openSession(t, st, 100)

	stay, _, err := reg.Detect(ctx, "EE333EE", "FR", "caravan", time.Now(), "ana")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	in := time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC)
	out := in.AddDate(0, 0, 3)
	stay, result, err := reg.Prepay(ctx, stay.ID, 36, models.MethodCard, in, out, "ana")
	if err != nil {
		t.Fatalf("prepay: %v", err)
	}
	if stay.State != models.StayActive || stay.PaymentStatus != models.PaymentPrepaid {
		t.Fatalf("state = %s payment = %s", stay.State, stay.PaymentStatus)
	}
	if stay.SpotID != nil {
		t.Error("prepaid stay must not hold a spot")
	}
	if result.Transaction == nil || result.Transaction.Type != models.TxPrepayment {
		t.Fatalf("unexpected posting: %+v", result)
	}

	// Extension pushes the planned departure and accumulates the prepaid total.
	stay, _, err = reg.Extend(ctx, stay.ID, 2, 24, models.MethodCash, "ana")
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if stay.PrepaidAmount != 60 {
		t.Errorf("prepaid = %.2f, want 60", stay.PrepaidAmount)
	}
	if want := out.AddDate(0, 0, 2); !stay.CheckOutTime.Equal(want) {
		t.Errorf("planned departure = %v, want %v", stay.CheckOutTime, want)
	}

	// Checkout of a prepaid stay owes nothing further.
	stay, result, err = reg.CheckOut(ctx, stay.ID, 60, 0, models.MethodCash, "ana")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Transaction.AmountDue != 0 {
		t.Errorf("amount due = %.2f, want 0", result.Transaction.AmountDue)
	}
	if stay.State != models.StayCheckedOut {
		t.Errorf("state = %s, want checked_out", stay.State)
	}
}

func TestPrepayOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(memory.DefaultLayout())
	openSession(t, st, 100)

	stay, _, err := reg.ManualEntry(ctx, "FF444FF", "ES", "camper", models.SpotTypeA, false, "ana")
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	_, _, err = reg.Prepay(ctx, stay.ID, 10, models.MethodCash, time.Now(), time.Now().AddDate(0, 0, 1), "ana")
	if !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("err = %v, want ErrInvalidStateTransition", err)
	}
}

func TestSinpaBlacklistsOutstanding(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(memory.DefaultLayout())
	openSession(t, st, 100)

	stay, _, err := reg.ManualEntry(ctx, "GG555GG", "DE", "camper", models.SpotTypeCPlus, false, "ana")
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}

	stay, entry, err := reg.MarkSinpa(ctx, stay.ID, "left at dawn", "ana")
	if err != nil {
		t.Fatalf("mark sinpa: %v", err)
	}
	if stay.State != models.StaySinpa {
		t.Fatalf("state = %s, want sinpa", stay.State)
	}
	if entry.Plate != "GG555GG" {
		t.Errorf("entry plate = %q", entry.Plate)
	}
	// Under a night of CPLUS occupancy still bills one full night.
	if entry.AmountOwed != 36 {
		t.Errorf("amount owed = %.2f, want 36", entry.AmountOwed)
	}

	// The plate is now refused at check-in without an override.
	stay2, _, err := reg.Detect(ctx, "GG555GG", "DE", "camper", time.Now(), "ana")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	_, _, err = reg.CheckIn(ctx, stay2.ID, models.SpotTypeA, false, "ana")
	if !errors.Is(err, store.ErrBlacklistedVehicle) {
		t.Fatalf("err = %v, want ErrBlacklistedVehicle", err)
	}
	if _, _, err := reg.CheckIn(ctx, stay2.ID, models.SpotTypeA, true, "ana"); err != nil {
		t.Fatalf("override check-in: %v", err)
	}
}

func TestSinpaPrepaidZeroEntry(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(memory.DefaultLayout())
	openSession(t, st, 100)

	stay, _, err := reg.Detect(ctx, "HH666HH", "ES", "camper", time.Now(), "ana")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	in := time.Now().UTC()
	stay, _, err = reg.Prepay(ctx, stay.ID, 20, models.MethodCash, in, in.AddDate(0, 0, 2), "ana")
	if err != nil {
		t.Fatalf("prepay: %v", err)
	}

	_, entry, err := reg.MarkSinpa(ctx, stay.ID, "", "ana")
	if err != nil {
		t.Fatalf("mark sinpa: %v", err)
	}
	if entry.AmountOwed != 0 {
		t.Errorf("amount owed = %.2f, want 0 for a fully prepaid walk-away", entry.AmountOwed)
	}
	status, err := reg.blacklist.Check(ctx, "HH666HH")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !status.IsBlacklisted {
		t.Error("zero-amount entry must still flag the plate")
	}
}

func TestDiscardSedanPolicy(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(memory.DefaultLayout())

	stay, _, err := reg.Detect(ctx, "II777II", "ES", "car", time.Now(), "ana")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	stay, err = reg.Discard(ctx, stay.ID, "Sedan", "ana")
	if err != nil {
		t.Fatalf("discard: %v", err)
	}
	if stay.State != models.StayDiscarded {
		t.Fatalf("state = %s, want discarded", stay.State)
	}

	status, err := reg.blacklist.Check(ctx, "II777II")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !status.IsBlacklisted || status.TotalDebt != 0 {
		t.Errorf("sedan discard: blacklisted = %v debt = %.2f, want flagged with zero debt", status.IsBlacklisted, status.TotalDebt)
	}
}

func TestTerminalStayRejectsFurtherTransitions(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(memory.DefaultLayout())
	openSession(t, st, 100)

	stay, _, err := reg.ManualEntry(ctx, "JJ888JJ", "ES", "camper", models.SpotTypeA, false, "ana")
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	if _, _, err := reg.CheckOut(ctx, stay.ID, 10, 10, models.MethodCash, "ana"); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if _, _, err := reg.CheckOut(ctx, stay.ID, 10, 10, models.MethodCash, "ana"); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Errorf("second checkout err = %v, want ErrInvalidStateTransition", err)
	}
	if _, _, err := reg.MarkSinpa(ctx, stay.ID, "", "ana"); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Errorf("sinpa after checkout err = %v, want ErrInvalidStateTransition", err)
	}
}

func TestTransferCheckOutStaysPending(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(memory.DefaultLayout())
	openSession(t, st, 100)

	stay, _, err := reg.ManualEntry(ctx, "KK999KK", "ES", "camper", models.SpotTypeB, false, "ana")
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	stay, result, err := reg.CheckOut(ctx, stay.ID, 24, 0, models.MethodTransfer, "ana")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Pending == nil || result.Transaction != nil {
		t.Fatalf("transfer must land pending, got %+v", result)
	}
	if stay.State != models.StayCheckedOut {
		t.Errorf("state = %s, want checked_out", stay.State)
	}

	session, err := st.ActiveSession(ctx)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if session.TotalCashIn != 0 {
		t.Errorf("pending transfer leaked into totals: %.2f", session.TotalCashIn)
	}
	txs, err := st.ListTransactions(ctx, session.ID)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	for _, tx := range txs {
		if tx.Type == models.TxCheckout {
			t.Error("pending transfer must not appear as a session transaction")
		}
	}
}

func TestDeleteCheckoutReverses(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(memory.DefaultLayout())
	openSession(t, st, 100)

	stay, _, err := reg.ManualEntry(ctx, "LL000LL", "ES", "camper", models.SpotTypeA, false, "ana")
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	if _, _, err := reg.CheckOut(ctx, stay.ID, 30, 30, models.MethodCash, "ana"); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	stay, err = reg.DeleteCheckout(ctx, stay.ID, "admin")
	if err != nil {
		t.Fatalf("delete checkout: %v", err)
	}
	if stay.State != models.StayDiscarded || stay.PaymentStatus != models.PaymentPending {
		t.Errorf("after delete: state = %s payment = %s", stay.State, stay.PaymentStatus)
	}

	session, err := st.ActiveSession(ctx)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if session.TotalCashIn != 0 {
		t.Errorf("cash not reversed: %.2f", session.TotalCashIn)
	}
}

func TestNoSpotAvailable(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry([]models.ParkingSpot{
		{ID: 1, SpotType: models.SpotTypeA, SpotNumber: 1},
	})

	if _, _, err := reg.ManualEntry(ctx, "MM111MM", "ES", "camper", models.SpotTypeA, false, "ana"); err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	_, _, err := reg.ManualEntry(ctx, "MM222MM", "ES", "camper", models.SpotTypeA, false, "ana")
	if !errors.Is(err, store.ErrNoSpotAvailable) {
		t.Fatalf("err = %v, want ErrNoSpotAvailable", err)
	}
	_, _, err = reg.ManualEntry(ctx, "MM333MM", "ES", "camper", models.SpotTypeB, false, "ana")
	if !errors.Is(err, store.ErrNoSpotAvailable) {
		t.Fatalf("unknown type err = %v, want ErrNoSpotAvailable", err)
	}
}

func TestConcurrentCheckInSingleWinner(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry([]models.ParkingSpot{
		{ID: 1, SpotType: models.SpotTypeA, SpotNumber: 1},
	})

	const racers = 8
	stays := make([]int64, racers)
	for i := range stays {
		stay, _, err := reg.Detect(ctx, "NN00"+string(rune('A'+i)), "ES", "camper", time.Now(), "ana")
		if err != nil {
			t.Fatalf("detect: %v", err)
		}
		stays[i] = stay.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = reg.CheckIn(ctx, stays[i], models.SpotTypeA, false, "ana")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, store.ErrNoSpotAvailable):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1 for a single spot", winners)
	}
}

func TestDashboardData(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(memory.DefaultLayout())
	openSession(t, st, 100)

	if _, _, err := reg.Detect(ctx, "OO111OO", "ES", "camper", time.Now(), "ana"); err != nil {
		t.Fatalf("detect: %v", err)
	}
	stay, _, err := reg.ManualEntry(ctx, "OO222OO", "ES", "camper", models.SpotTypeA, false, "ana")
	if err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	if _, _, err := reg.MarkSinpa(ctx, stay.ID, "", "ana"); err != nil {
		t.Fatalf("sinpa: %v", err)
	}

	dash, err := reg.DashboardData(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dash.PendingStays != 1 {
		t.Errorf("pending = %d, want 1", dash.PendingStays)
	}
	if dash.ActiveStays != 0 || dash.OccupiedSpots != 0 {
		t.Errorf("active = %d occupied = %d, want 0/0 after sinpa", dash.ActiveStays, dash.OccupiedSpots)
	}
	if dash.UnresolvedDebt != 10 {
		t.Errorf("debt = %.2f, want 10 (one night of A)", dash.UnresolvedDebt)
	}
	if occ := dash.ByType[models.SpotTypeA]; occ.Total != 20 || occ.Occupied != 0 {
		t.Errorf("type A occupancy = %+v, want 20 total, 0 occupied", occ)
	}
}
