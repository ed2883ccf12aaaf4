// Package blacklist tracks walk-away (SINPA) debt per vehicle. Entries
// accumulate until resolved one by one; a vehicle with any unresolved entry
// is refused at check-in unless explicitly overridden.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"camperpark/internal/models"
	"camperpark/internal/store"
)

// Tracker owns debt entries.
type Tracker struct {
	store  store.Store
	logger *zap.Logger
}

// New builds a tracker.
func New(st store.Store, logger *zap.Logger) *Tracker {
	return &Tracker{store: st, logger: logger}
}

// Check aggregates a vehicle's unresolved entries.
func (t *Tracker) Check(ctx context.Context, plate string) (store.BlacklistStatus, error) {
	if strings.TrimSpace(plate) == "" {
		return store.BlacklistStatus{}, errors.New("blacklist: empty plate")
	}
	return t.store.CheckBlacklist(ctx, plate)
}

// Add records a new unresolved entry against a plate.
func (t *Tracker) Add(ctx context.Context, plate string, amountOwed float64, notes, user string) (models.BlacklistEntry, error) {
	if strings.TrimSpace(plate) == "" {
		return models.BlacklistEntry{}, errors.New("blacklist: empty plate")
	}
	if amountOwed < 0 {
		return models.BlacklistEntry{}, errors.New("blacklist: negative amount")
	}

	entry, err := t.store.AddBlacklistEntry(ctx, store.AddBlacklistInput{
		Plate:      plate,
		AmountOwed: amountOwed,
		Notes:      notes,
		User:       user,
	})
	if err != nil {
		return models.BlacklistEntry{}, err
	}

	t.logger.Info("blacklist entry added",
		zap.String("plate", entry.Plate),
		zap.Float64("amount_owed", entry.AmountOwed),
		zap.String("user", user))
	return entry, nil
}

// List returns entries, unresolved only unless includeResolved is set.
func (t *Tracker) List(ctx context.Context, includeResolved bool) ([]models.BlacklistEntry, error) {
	return t.store.ListBlacklist(ctx, includeResolved)
}

// Resolve settles one entry. A paid resolution posts an adjustment
// transaction to the open cash session in the same transactional step; a
// forgiven resolution has no ledger effect and works in any session state.
func (t *Tracker) Resolve(ctx context.Context, entryID int64, paid bool, method models.PaymentMethod, notes, user string) (models.BlacklistEntry, *models.CashTransaction, error) {
	resolution := models.ResolutionForgiven
	if paid {
		resolution = models.ResolutionPaid
		if !models.ValidMethod(method) {
			return models.BlacklistEntry{}, nil, fmt.Errorf("blacklist: invalid payment method %q", method)
		}
	}

	entry, tx, err := t.store.ResolveBlacklistEntry(ctx, store.ResolveBlacklistInput{
		EntryID:    entryID,
		Resolution: resolution,
		Method:     method,
		Notes:      notes,
		User:       user,
	})
	if err != nil {
		return models.BlacklistEntry{}, nil, err
	}

	if histErr := t.store.AppendHistory(ctx, store.HistoryInput{
		StayID: entry.StayID,
		Action: "blacklist entry resolved",
		Details: map[string]any{
			"entry_id":   entry.ID,
			"plate":      entry.Plate,
			"resolution": string(resolution),
			"amount":     entry.AmountOwed,
		},
		User: user,
	}); histErr != nil {
		t.logger.Warn("failed to append history", zap.Error(histErr))
	}

	t.logger.Info("blacklist entry resolved",
		zap.Int64("entry_id", entry.ID),
		zap.String("resolution", string(resolution)),
		zap.String("user", user))
	return entry, tx, nil
}
