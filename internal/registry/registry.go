// Package registry owns the stay lifecycle: detection, check-in, payment
// driven promotions, checkout and the walk-away paths. Every transition is
// validated before any mutation and executed as one atomic store operation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"camperpark/internal/blacklist"
	"camperpark/internal/ledger"
	"camperpark/internal/models"
	"camperpark/internal/pricing"
	"camperpark/internal/printer"
	"camperpark/internal/store"
)

// OccupancyCache mirrors the live spot board, best effort. Errors are logged
// and never fail an operation.
type OccupancyCache interface {
	SetOccupied(ctx context.Context, spot models.ParkingSpot, stay models.Stay, plate string) error
	ClearSpot(ctx context.Context, spotID int64) error
}

// Registry is the stay lifecycle service.
type Registry struct {
	store     store.Store
	blacklist *blacklist.Tracker
	cache     OccupancyCache
	printer   printer.Printer
	logger    *zap.Logger
}

// New builds the registry. cache and ticketPrinter may be nil.
func New(st store.Store, tracker *blacklist.Tracker, cache OccupancyCache, ticketPrinter printer.Printer, logger *zap.Logger) *Registry {
	return &Registry{
		store:     st,
		blacklist: tracker,
		cache:     cache,
		printer:   ticketPrinter,
		logger:    logger,
	}
}

// Detect registers a newly seen vehicle as a pending stay.
func (r *Registry) Detect(ctx context.Context, plate, country, vehicleType string, detectedAt time.Time, user string) (models.Stay, models.Vehicle, error) {
	if strings.TrimSpace(plate) == "" {
		return models.Stay{}, models.Vehicle{}, errors.New("registry: empty plate")
	}

	stay, vehicle, err := r.store.Detect(ctx, store.DetectInput{
		Plate:         plate,
		Country:       country,
		VehicleType:   vehicleType,
		DetectionTime: detectedAt,
		User:          user,
	})
	if err != nil {
		return models.Stay{}, models.Vehicle{}, err
	}

	r.appendHistory(ctx, &stay.ID, "vehicle detected", map[string]any{
		"plate":        vehicle.Plate,
		"vehicle_type": vehicle.VehicleType,
	}, user)
	r.logger.Info("vehicle detected",
		zap.String("plate", vehicle.Plate),
		zap.Int64("stay_id", stay.ID))
	return stay, vehicle, nil
}

// CheckIn assigns the lowest-numbered free spot of the requested type and
// activates the stay. A blacklisted vehicle is refused unless forceOverride.
func (r *Registry) CheckIn(ctx context.Context, stayID int64, spotType models.SpotType, forceOverride bool, user string) (models.Stay, models.ParkingSpot, error) {
	if !models.ValidSpotType(spotType) {
		return models.Stay{}, models.ParkingSpot{}, fmt.Errorf("registry: invalid spot type %q", spotType)
	}

	stay, err := r.store.GetStay(ctx, stayID)
	if err != nil {
		return models.Stay{}, models.ParkingSpot{}, err
	}
	if stay.State != models.StayPending {
		return models.Stay{}, models.ParkingSpot{}, store.ErrInvalidStateTransition
	}
	vehicle, err := r.store.GetVehicle(ctx, stay.VehicleID)
	if err != nil {
		return models.Stay{}, models.ParkingSpot{}, err
	}
	if err := r.gateBlacklist(ctx, vehicle.Plate, forceOverride); err != nil {
		return models.Stay{}, models.ParkingSpot{}, err
	}

	stay, spot, err := r.store.CheckIn(ctx, store.CheckInInput{
		StayID:   stayID,
		SpotType: spotType,
		User:     user,
	})
	if err != nil {
		return models.Stay{}, models.ParkingSpot{}, err
	}

	r.cacheOccupied(ctx, spot, stay, vehicle.Plate)
	r.appendHistory(ctx, &stay.ID, "check-in", map[string]any{
		"spot_type":   string(spot.SpotType),
		"spot_number": spot.SpotNumber,
		"override":    forceOverride,
	}, user)
	r.logger.Info("stay checked in",
		zap.Int64("stay_id", stay.ID),
		zap.String("spot", fmt.Sprintf("%s-%02d", spot.SpotType, spot.SpotNumber)))
	return stay, spot, nil
}

// ManualEntry creates and checks in a stay in one step, for vehicles that
// arrived without being detected.
func (r *Registry) ManualEntry(ctx context.Context, plate, country, vehicleType string, spotType models.SpotType, forceOverride bool, user string) (models.Stay, models.ParkingSpot, error) {
	if strings.TrimSpace(plate) == "" {
		return models.Stay{}, models.ParkingSpot{}, errors.New("registry: empty plate")
	}
	if !models.ValidSpotType(spotType) {
		return models.Stay{}, models.ParkingSpot{}, fmt.Errorf("registry: invalid spot type %q", spotType)
	}
	if err := r.gateBlacklist(ctx, plate, forceOverride); err != nil {
		return models.Stay{}, models.ParkingSpot{}, err
	}

	stay, spot, err := r.store.ManualEntry(ctx, store.ManualEntryInput{
		Plate:       plate,
		Country:     country,
		VehicleType: vehicleType,
		SpotType:    spotType,
		User:        user,
	})
	if err != nil {
		return models.Stay{}, models.ParkingSpot{}, err
	}

	r.cacheOccupied(ctx, spot, stay, models.NormalizePlate(plate))
	r.appendHistory(ctx, &stay.ID, "manual entry", map[string]any{
		"plate":       models.NormalizePlate(plate),
		"spot_type":   string(spot.SpotType),
		"spot_number": spot.SpotNumber,
	}, user)
	return stay, spot, nil
}

func (r *Registry) gateBlacklist(ctx context.Context, plate string, forceOverride bool) error {
	status, err := r.blacklist.Check(ctx, plate)
	if err != nil {
		return err
	}
	if status.IsBlacklisted && !forceOverride {
		return store.ErrBlacklistedVehicle
	}
	if status.IsBlacklisted {
		r.logger.Warn("blacklisted vehicle admitted by override",
			zap.String("plate", models.NormalizePlate(plate)),
			zap.Float64("total_debt", status.TotalDebt))
	}
	return nil
}

// Prepay promotes a pending stay to active against an advance payment for a
// planned window. The stay keeps no spot: prepayment is spot-free pricing.
func (r *Registry) Prepay(ctx context.Context, stayID int64, amount float64, method models.PaymentMethod, checkIn, checkOut time.Time, user string) (models.Stay, store.PostResult, error) {
	if amount <= 0 {
		return models.Stay{}, store.PostResult{}, errors.New("registry: prepay amount must be positive")
	}
	if !checkOut.After(checkIn) {
		return models.Stay{}, store.PostResult{}, errors.New("registry: checkout must be after checkin")
	}

	payment, err := ledger.BuildPayment(models.TxPrepayment, &stayID, amount, amount, method, "", user)
	if err != nil {
		return models.Stay{}, store.PostResult{}, err
	}
	stay, result, err := r.store.Prepay(ctx, store.PrepayInput{
		StayID:       stayID,
		CheckInTime:  checkIn,
		CheckOutTime: checkOut,
		Payment:      payment,
	})
	if err != nil {
		return models.Stay{}, store.PostResult{}, err
	}

	r.appendHistory(ctx, &stay.ID, "prepayment", map[string]any{
		"amount":    amount,
		"method":    string(method),
		"check_out": checkOut,
	}, user)
	r.printTicket(ctx, printer.TicketPrepayment, stay, amount, method)
	r.logger.Info("stay prepaid",
		zap.Int64("stay_id", stay.ID),
		zap.Float64("amount", amount),
		zap.String("method", string(method)))
	return stay, result, nil
}

// Extend pushes a prepaid stay's planned departure out by whole nights.
func (r *Registry) Extend(ctx context.Context, stayID int64, nightsToAdd int, additionalAmount float64, method models.PaymentMethod, user string) (models.Stay, store.PostResult, error) {
	if nightsToAdd <= 0 {
		return models.Stay{}, store.PostResult{}, errors.New("registry: nights to add must be positive")
	}
	if additionalAmount < 0 {
		return models.Stay{}, store.PostResult{}, errors.New("registry: negative amount")
	}

	payment, err := ledger.BuildPayment(models.TxExtension, &stayID, additionalAmount, additionalAmount, method, fmt.Sprintf("extension +%d nights", nightsToAdd), user)
	if err != nil {
		return models.Stay{}, store.PostResult{}, err
	}
	stay, result, err := r.store.Extend(ctx, store.ExtendInput{
		StayID:      stayID,
		NightsToAdd: nightsToAdd,
		Payment:     payment,
	})
	if err != nil {
		return models.Stay{}, store.PostResult{}, err
	}

	r.appendHistory(ctx, &stay.ID, "stay extended", map[string]any{
		"nights": nightsToAdd,
		"amount": additionalAmount,
	}, user)
	return stay, result, nil
}

// CheckOut settles and terminates an active stay. A prepaid stay owes
// nothing further; a pending one owes the final price.
func (r *Registry) CheckOut(ctx context.Context, stayID int64, finalPrice, amountPaid float64, method models.PaymentMethod, user string) (models.Stay, store.PostResult, error) {
	if finalPrice < 0 {
		return models.Stay{}, store.PostResult{}, errors.New("registry: negative final price")
	}

	stay, err := r.store.GetStay(ctx, stayID)
	if err != nil {
		return models.Stay{}, store.PostResult{}, err
	}
	if stay.State != models.StayActive || stay.PaymentStatus == models.PaymentPaid {
		return models.Stay{}, store.PostResult{}, store.ErrInvalidStateTransition
	}

	amountDue := finalPrice
	if stay.PaymentStatus == models.PaymentPrepaid {
		amountDue = 0
	}
	payment, err := ledger.BuildPayment(models.TxCheckout, &stayID, amountDue, amountPaid, method, "", user)
	if err != nil {
		return models.Stay{}, store.PostResult{}, err
	}

	spotID := stay.SpotID
	stay, result, err := r.store.CheckOut(ctx, store.CheckOutInput{
		StayID:     stayID,
		FinalPrice: finalPrice,
		Payment:    payment,
	})
	if err != nil {
		return models.Stay{}, store.PostResult{}, err
	}

	if spotID != nil {
		r.cacheClear(ctx, *spotID)
	}
	r.appendHistory(ctx, &stay.ID, "check-out", map[string]any{
		"final_price": finalPrice,
		"amount_due":  amountDue,
		"method":      string(method),
	}, user)
	r.printTicket(ctx, printer.TicketCheckout, stay, finalPrice, method)
	r.logger.Info("stay checked out",
		zap.Int64("stay_id", stay.ID),
		zap.Float64("final_price", finalPrice))
	return stay, result, nil
}

// MarkSinpa terminates an active stay whose guest left without paying: the
// spot is freed, the stay turns terminal and the vehicle is blacklisted for
// the outstanding balance, all in one transaction. A fully prepaid walk-away
// still gets a zero-amount entry so the plate is flagged.
func (r *Registry) MarkSinpa(ctx context.Context, stayID int64, notes, user string) (models.Stay, models.BlacklistEntry, error) {
	stay, err := r.store.GetStay(ctx, stayID)
	if err != nil {
		return models.Stay{}, models.BlacklistEntry{}, err
	}
	if stay.State != models.StayActive {
		return models.Stay{}, models.BlacklistEntry{}, store.ErrInvalidStateTransition
	}

	finalPrice, err := r.sinpaPrice(ctx, stay)
	if err != nil {
		return models.Stay{}, models.BlacklistEntry{}, err
	}
	outstanding := stay.Outstanding(finalPrice)

	spotID := stay.SpotID
	stay, entry, err := r.store.MarkSinpa(ctx, store.SinpaInput{
		StayID:     stayID,
		AmountOwed: outstanding,
		FinalPrice: finalPrice,
		Notes:      notes,
		User:       user,
	})
	if err != nil {
		return models.Stay{}, models.BlacklistEntry{}, err
	}

	if spotID != nil {
		r.cacheClear(ctx, *spotID)
	}
	r.appendHistory(ctx, &stay.ID, "marked sinpa", map[string]any{
		"amount_owed": outstanding,
		"final_price": finalPrice,
		"entry_id":    entry.ID,
	}, user)
	r.logger.Warn("stay marked sinpa",
		zap.Int64("stay_id", stay.ID),
		zap.String("plate", entry.Plate),
		zap.Float64("amount_owed", outstanding))
	return stay, entry, nil
}

// sinpaPrice resolves what the stay should have cost: the recorded final
// price, else the spot-type rate over the actual duration, else the prepaid
// amount for spot-free stays.
func (r *Registry) sinpaPrice(ctx context.Context, stay models.Stay) (float64, error) {
	if stay.FinalPrice != nil {
		return *stay.FinalPrice, nil
	}
	if stay.SpotID != nil && stay.CheckInTime != nil {
		spot, err := r.store.GetSpot(ctx, *stay.SpotID)
		if err != nil {
			return 0, err
		}
		return pricing.StayPrice(spot.SpotType, *stay.CheckInTime, time.Now().UTC())
	}
	return stay.PrepaidAmount, nil
}

// Discard drops a pending stay that never entered. The "Sedan" reason is an
// unauthorized-vehicle-type policy: it adds a zero-amount blacklist flag.
func (r *Registry) Discard(ctx context.Context, stayID int64, reason, user string) (models.Stay, error) {
	if strings.TrimSpace(reason) == "" {
		return models.Stay{}, errors.New("registry: discard reason required")
	}

	policyFlag := strings.EqualFold(strings.TrimSpace(reason), "sedan")
	stay, err := r.store.Discard(ctx, store.DiscardInput{
		StayID:     stayID,
		Reason:     reason,
		PolicyFlag: policyFlag,
		User:       user,
	})
	if err != nil {
		return models.Stay{}, err
	}

	r.appendHistory(ctx, &stay.ID, "stay discarded", map[string]any{
		"reason":      reason,
		"policy_flag": policyFlag,
	}, user)
	return stay, nil
}

// DeleteCheckout administratively reverses a checkout: the payment is undone
// and the stay lands in discarded, a terminal marker that keeps history.
func (r *Registry) DeleteCheckout(ctx context.Context, stayID int64, user string) (models.Stay, error) {
	stay, err := r.store.DeleteCheckout(ctx, store.DeleteCheckoutInput{
		StayID: stayID,
		User:   user,
	})
	if err != nil {
		return models.Stay{}, err
	}

	r.appendHistory(ctx, &stay.ID, "checkout deleted", nil, user)
	r.logger.Info("checkout deleted", zap.Int64("stay_id", stay.ID), zap.String("user", user))
	return stay, nil
}

// Stay returns one stay.
func (r *Registry) Stay(ctx context.Context, stayID int64) (models.Stay, error) {
	return r.store.GetStay(ctx, stayID)
}

// Pending lists stays awaiting check-in.
func (r *Registry) Pending(ctx context.Context) ([]models.Stay, error) {
	return r.store.ListStays(ctx, models.StayPending)
}

// Active lists stays currently in the facility.
func (r *Registry) Active(ctx context.Context) ([]models.Stay, error) {
	return r.store.ListStays(ctx, models.StayActive)
}

// SuggestedPrice quotes an active stay at the spot-type rate from check-in
// until now.
func (r *Registry) SuggestedPrice(ctx context.Context, stayID int64) (float64, error) {
	stay, err := r.store.GetStay(ctx, stayID)
	if err != nil {
		return 0, err
	}
	if stay.State != models.StayActive || stay.SpotID == nil || stay.CheckInTime == nil {
		return 0, store.ErrInvalidStateTransition
	}
	spot, err := r.store.GetSpot(ctx, *stay.SpotID)
	if err != nil {
		return 0, err
	}
	return pricing.StayPrice(spot.SpotType, *stay.CheckInTime, time.Now().UTC())
}

// Dashboard aggregates the front-desk counters.
type Dashboard struct {
	PendingStays   int                               `json:"pending_stays"`
	ActiveStays    int                               `json:"active_stays"`
	TotalSpots     int                               `json:"total_spots"`
	OccupiedSpots  int                               `json:"occupied_spots"`
	AvailableSpots int                               `json:"available_spots"`
	ByType         map[models.SpotType]TypeOccupancy `json:"by_type"`
	UnresolvedDebt float64                           `json:"unresolved_debt"`
}

// TypeOccupancy is the occupancy of one spot type.
type TypeOccupancy struct {
	Total    int `json:"total"`
	Occupied int `json:"occupied"`
}

// DashboardData computes the current counters.
func (r *Registry) DashboardData(ctx context.Context) (Dashboard, error) {
	pending, err := r.store.ListStays(ctx, models.StayPending)
	if err != nil {
		return Dashboard{}, err
	}
	active, err := r.store.ListStays(ctx, models.StayActive)
	if err != nil {
		return Dashboard{}, err
	}
	spots, err := r.store.ListSpots(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	entries, err := r.store.ListBlacklist(ctx, false)
	if err != nil {
		return Dashboard{}, err
	}

	typeBySpot := make(map[int64]models.SpotType, len(spots))
	byType := make(map[models.SpotType]TypeOccupancy, len(spots))
	for _, spot := range spots {
		typeBySpot[spot.ID] = spot.SpotType
		occ := byType[spot.SpotType]
		occ.Total++
		byType[spot.SpotType] = occ
	}

	occupied := 0
	for _, stay := range active {
		if stay.SpotID == nil {
			continue
		}
		occupied++
		if spotType, ok := typeBySpot[*stay.SpotID]; ok {
			occ := byType[spotType]
			occ.Occupied++
			byType[spotType] = occ
		}
	}
	var debt float64
	for _, entry := range entries {
		debt += entry.AmountOwed
	}
	return Dashboard{
		PendingStays:   len(pending),
		ActiveStays:    len(active),
		TotalSpots:     len(spots),
		OccupiedSpots:  occupied,
		AvailableSpots: len(spots) - occupied,
		ByType:         byType,
		UnresolvedDebt: debt,
	}, nil
}

func (r *Registry) cacheOccupied(ctx context.Context, spot models.ParkingSpot, stay models.Stay, plate string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetOccupied(ctx, spot, stay, plate); err != nil {
		r.logger.Warn("failed to cache occupancy", zap.Error(err))
	}
}

func (r *Registry) cacheClear(ctx context.Context, spotID int64) {
	if r.cache == nil {
		return
	}
	if err := r.cache.ClearSpot(ctx, spotID); err != nil {
		r.logger.Warn("failed to clear occupancy cache", zap.Error(err))
	}
}

func (r *Registry) printTicket(ctx context.Context, kind printer.TicketKind, stay models.Stay, amount float64, method models.PaymentMethod) {
	if r.printer == nil {
		return
	}
	ticket := printer.NewTicket(kind)
	ticket.Amount = amount
	ticket.Method = string(method)
	if stay.CheckInTime != nil {
		ticket.CheckInTime = *stay.CheckInTime
	}
	if stay.CheckOutTime != nil {
		ticket.CheckOutTime = *stay.CheckOutTime
	}
	if vehicle, err := r.store.GetVehicle(ctx, stay.VehicleID); err == nil {
		ticket.Plate = vehicle.Plate
	}
	if stay.SpotID != nil {
		if spot, err := r.store.GetSpot(ctx, *stay.SpotID); err == nil {
			ticket.SpotNumber = fmt.Sprintf("%s-%02d", spot.SpotType, spot.SpotNumber)
		}
	}
	if err := r.printer.Print(ctx, ticket); err != nil {
		r.logger.Warn("ticket print failed", zap.Int64("stay_id", stay.ID), zap.Error(err))
	}
}

func (r *Registry) appendHistory(ctx context.Context, stayID *int64, action string, details map[string]any, user string) {
	if err := r.store.AppendHistory(ctx, store.HistoryInput{
		StayID:  stayID,
		Action:  action,
		Details: details,
		User:    user,
	}); err != nil {
		r.logger.Warn("failed to append history", zap.Error(err))
	}
}

// History lists the most recent audit entries.
func (r *Registry) History(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	return r.store.ListHistory(ctx, limit)
}
