package blacklist

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"camperpark/internal/models"
	"camperpark/internal/store"
	"camperpark/internal/store/memory"
)

func newTestTracker() (*Tracker, *memory.Store) {
	st := memory.New(nil)
	return New(st, zap.NewNop()), st
}

func TestCheckAggregatesUnresolvedDebt(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker()

	if _, err := tracker.Add(ctx, "rr 111 rr", 30, "first incident", "ana"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := tracker.Add(ctx, "RR111RR", 12.5, "second incident", "ana"); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Lookup normalizes the plate the same way entries do.
	status, err := tracker.Check(ctx, "rr-111-rr")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !status.IsBlacklisted {
		t.Fatal("expected blacklisted")
	}
	if status.TotalDebt != 42.5 || len(status.Entries) != 2 {
		t.Errorf("debt = %.2f entries = %d, want 42.50/2", status.TotalDebt, len(status.Entries))
	}

	status, err = tracker.Check(ctx, "SS222SS")
	if err != nil {
		t.Fatalf("check clean plate: %v", err)
	}
	if status.IsBlacklisted || status.TotalDebt != 0 {
		t.Errorf("clean plate flagged: %+v", status)
	}
}

func TestResolveForgivenNeedsNoSession(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker()

	entry, err := tracker.Add(ctx, "TT333TT", 50, "", "ana")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	resolved, tx, err := tracker.Resolve(ctx, entry.ID, false, "", "owner waived", "ana")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tx != nil {
		t.Error("forgiven resolution must not post a transaction")
	}
	if !resolved.Resolved || resolved.Resolution == nil || *resolved.Resolution != models.ResolutionForgiven {
		t.Fatalf("entry not forgiven: %+v", resolved)
	}

	status, err := tracker.Check(ctx, "TT333TT")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status.IsBlacklisted {
		t.Error("resolved entry still counted")
	}
}

func TestResolvePaidPostsToOpenSession(t *testing.T) {
	ctx := context.Background()
	tracker, st := newTestTracker()

	entry, err := tracker.Add(ctx, "UU444UU", 36, "", "ana")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Paid settlement needs a register to receive the money.
	_, _, err = tracker.Resolve(ctx, entry.ID, true, models.MethodCash, "", "ana")
	if !errors.Is(err, store.ErrNoOpenSession) {
		t.Fatalf("err = %v, want ErrNoOpenSession", err)
	}

	session, err := st.OpenSession(ctx, store.OpenSessionInput{InitialAmount: 100, User: "ana"})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	resolved, tx, err := tracker.Resolve(ctx, entry.ID, true, models.MethodCash, "came back to pay", "ana")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tx == nil || tx.Type != models.TxAdjustment || tx.AmountDue != 36 {
		t.Fatalf("settlement posting wrong: %+v", tx)
	}
	if *resolved.Resolution != models.ResolutionPaid {
		t.Errorf("resolution = %v", resolved.Resolution)
	}

	session, err = st.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.TotalCashIn != 36 {
		t.Errorf("cash in = %.2f, want 36", session.TotalCashIn)
	}

	_, _, err = tracker.Resolve(ctx, entry.ID, true, models.MethodCash, "", "ana")
	if !errors.Is(err, store.ErrAlreadyResolved) {
		t.Fatalf("double resolve err = %v, want ErrAlreadyResolved", err)
	}
}

func TestResolvePaidZeroAmountPostsNothing(t *testing.T) {
	ctx := context.Background()
	tracker, st := newTestTracker()
	if _, err := st.OpenSession(ctx, store.OpenSessionInput{InitialAmount: 0, User: "ana"}); err != nil {
		t.Fatalf("open session: %v", err)
	}

	entry, err := tracker.Add(ctx, "VV555VV", 0, "policy flag", "ana")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	resolved, tx, err := tracker.Resolve(ctx, entry.ID, true, models.MethodCash, "", "ana")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tx != nil {
		t.Error("zero-amount settlement must not post a transaction")
	}
	if !resolved.Resolved {
		t.Error("entry not resolved")
	}
}

func TestResolvePaidRejectsInvalidMethod(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker()

	entry, err := tracker.Add(ctx, "WW666WW", 10, "", "ana")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, _, err := tracker.Resolve(ctx, entry.ID, true, "marbles", "", "ana"); err == nil {
		t.Fatal("invalid method accepted")
	}
}
