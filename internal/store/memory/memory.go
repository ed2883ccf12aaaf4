// Package memory implements store.Store entirely in memory behind a single
// mutex, which makes every operation trivially atomic. It backs the test
// suite and single-box deployments without postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"camperpark/internal/models"
	"camperpark/internal/store"
)

// Store is a mutex-guarded in-memory store.Store.
type Store struct {
	mu sync.Mutex

	vehicles  map[int64]models.Vehicle
	spots     map[int64]models.ParkingSpot
	stays     map[int64]models.Stay
	sessions  map[int64]models.CashSession
	txs       map[int64]models.CashTransaction
	pendings  map[int64]models.PendingTransfer
	blacklist map[int64]models.BlacklistEntry
	history   []models.HistoryEntry
	users     map[string]models.User

	nextID map[string]int64
}

// New returns an empty store seeded with the given parking spots.
func New(spots []models.ParkingSpot) *Store {
	s := &Store{
		vehicles:  make(map[int64]models.Vehicle),
		spots:     make(map[int64]models.ParkingSpot),
		stays:     make(map[int64]models.Stay),
		sessions:  make(map[int64]models.CashSession),
		txs:       make(map[int64]models.CashTransaction),
		pendings:  make(map[int64]models.PendingTransfer),
		blacklist: make(map[int64]models.BlacklistEntry),
		users:     make(map[string]models.User),
		nextID:    make(map[string]int64),
	}
	for _, spot := range spots {
		if spot.ID == 0 {
			spot.ID = s.id("spot")
		}
		s.spots[spot.ID] = spot
	}
	return s
}

// DefaultLayout builds the facility's standard spot plan.
func DefaultLayout() []models.ParkingSpot {
	counts := []struct {
		spotType models.SpotType
		n        int
	}{
		{models.SpotTypeA, 20},
		{models.SpotTypeB, 15},
		{models.SpotTypeCB, 10},
		{models.SpotTypeC, 15},
		{models.SpotTypeCPlus, 10},
		{models.SpotTypeSpecial, 6},
	}
	var spots []models.ParkingSpot
	for _, c := range counts {
		for i := 1; i <= c.n; i++ {
			spots = append(spots, models.ParkingSpot{SpotType: c.spotType, SpotNumber: i})
		}
	}
	return spots
}

// SeedUser registers an operator account. Test and bootstrap helper.
func (s *Store) SeedUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == 0 {
		user.ID = s.id("user")
	}
	s.users[user.Username] = user
}

func (s *Store) id(kind string) int64 {
	s.nextID[kind]++
	return s.nextID[kind]
}

func now() time.Time { return time.Now().UTC() }

// ---- stays and spots ----

func (s *Store) Detect(_ context.Context, input store.DetectInput) (models.Stay, models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vehicle := s.upsertVehicle(input.Plate, input.Country, input.VehicleType)

	detected := input.DetectionTime
	if detected.IsZero() {
		detected = now()
	}
	stay := models.Stay{
		ID:            s.id("stay"),
		VehicleID:     vehicle.ID,
		DetectionTime: detected,
		State:         models.StayPending,
		PaymentStatus: models.PaymentPending,
	}
	s.stays[stay.ID] = stay
	return stay, vehicle, nil
}

func (s *Store) upsertVehicle(plate, country, vehicleType string) models.Vehicle {
	plate = models.NormalizePlate(plate)
	for _, v := range s.vehicles {
		if v.Plate == plate {
			if country != "" {
				v.Country = country
			}
			if vehicleType != "" {
				v.VehicleType = vehicleType
			}
			s.vehicles[v.ID] = v
			return v
		}
	}
	v := models.Vehicle{ID: s.id("vehicle"), Plate: plate, Country: country, VehicleType: vehicleType}
	s.vehicles[v.ID] = v
	return v
}

func (s *Store) GetStay(_ context.Context, stayID int64) (models.Stay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stay, ok := s.stays[stayID]
	if !ok {
		return models.Stay{}, store.ErrNotFound
	}
	return stay, nil
}

func (s *Store) ListStays(_ context.Context, state models.StayState) ([]models.Stay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Stay
	for _, stay := range s.stays {
		if state == "" || stay.State == state {
			out = append(out, stay)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// freeSpotLocked returns the lowest-numbered free spot of the given type.
func (s *Store) freeSpotLocked(spotType models.SpotType) (models.ParkingSpot, bool) {
	occupied := make(map[int64]bool)
	for _, stay := range s.stays {
		if stay.State == models.StayActive && stay.SpotID != nil {
			occupied[*stay.SpotID] = true
		}
	}
	var best models.ParkingSpot
	found := false
	for _, spot := range s.spots {
		if spot.SpotType != spotType || occupied[spot.ID] {
			continue
		}
		if !found || spot.SpotNumber < best.SpotNumber {
			best = spot
			found = true
		}
	}
	return best, found
}

func (s *Store) CheckIn(_ context.Context, input store.CheckInInput) (models.Stay, models.ParkingSpot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stay, ok := s.stays[input.StayID]
	if !ok {
		return models.Stay{}, models.ParkingSpot{}, store.ErrNotFound
	}
	if !models.CanTransition(stay.State, models.StayActive) {
		return models.Stay{}, models.ParkingSpot{}, store.ErrInvalidStateTransition
	}

	spot, found := s.freeSpotLocked(input.SpotType)
	if !found {
		return models.Stay{}, models.ParkingSpot{}, store.ErrNoSpotAvailable
	}

	checkIn := input.CheckInTime
	if checkIn.IsZero() {
		checkIn = now()
	}
	stay.State = models.StayActive
	stay.SpotID = &spot.ID
	stay.CheckInTime = &checkIn
	stay.PaymentStatus = models.PaymentPending
	s.stays[stay.ID] = stay
	return stay, spot, nil
}

func (s *Store) ManualEntry(_ context.Context, input store.ManualEntryInput) (models.Stay, models.ParkingSpot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spot, found := s.freeSpotLocked(input.SpotType)
	if !found {
		return models.Stay{}, models.ParkingSpot{}, store.ErrNoSpotAvailable
	}

	vehicle := s.upsertVehicle(input.Plate, input.Country, input.VehicleType)
	entry := input.EntryTime
	if entry.IsZero() {
		entry = now()
	}
	stay := models.Stay{
		ID:            s.id("stay"),
		VehicleID:     vehicle.ID,
		SpotID:        &spot.ID,
		DetectionTime: entry,
		CheckInTime:   &entry,
		State:         models.StayActive,
		PaymentStatus: models.PaymentPending,
	}
	s.stays[stay.ID] = stay
	return stay, spot, nil
}

func (s *Store) Prepay(_ context.Context, input store.PrepayInput) (models.Stay, store.PostResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stay, ok := s.stays[input.StayID]
	if !ok {
		return models.Stay{}, store.PostResult{}, store.ErrNotFound
	}
	if stay.State != models.StayPending {
		return models.Stay{}, store.PostResult{}, store.ErrInvalidStateTransition
	}

	result, err := s.postLocked(input.Payment)
	if err != nil {
		return models.Stay{}, store.PostResult{}, err
	}

	checkIn := input.CheckInTime
	if checkIn.IsZero() {
		checkIn = now()
	}
	checkOut := input.CheckOutTime
	stay.State = models.StayActive
	stay.PaymentStatus = models.PaymentPrepaid
	stay.PrepaidAmount = input.Payment.AmountDue
	stay.CheckInTime = &checkIn
	stay.CheckOutTime = &checkOut
	method := input.Payment.Method
	stay.PaymentMethod = &method
	s.stays[stay.ID] = stay
	return stay, result, nil
}

func (s *Store) Extend(_ context.Context, input store.ExtendInput) (models.Stay, store.PostResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stay, ok := s.stays[input.StayID]
	if !ok {
		return models.Stay{}, store.PostResult{}, store.ErrNotFound
	}
	if stay.State != models.StayActive || stay.PaymentStatus != models.PaymentPrepaid {
		return models.Stay{}, store.PostResult{}, store.ErrNotPrepaid
	}

	result, err := s.postLocked(input.Payment)
	if err != nil {
		return models.Stay{}, store.PostResult{}, err
	}

	planned := now()
	if stay.CheckOutTime != nil {
		planned = *stay.CheckOutTime
	}
	planned = planned.AddDate(0, 0, input.NightsToAdd)
	stay.CheckOutTime = &planned
	stay.PrepaidAmount += input.Payment.AmountDue
	s.stays[stay.ID] = stay
	return stay, result, nil
}

func (s *Store) CheckOut(_ context.Context, input store.CheckOutInput) (models.Stay, store.PostResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stay, ok := s.stays[input.StayID]
	if !ok {
		return models.Stay{}, store.PostResult{}, store.ErrNotFound
	}
	if !models.CanTransition(stay.State, models.StayCheckedOut) || stay.PaymentStatus == models.PaymentPaid {
		return models.Stay{}, store.PostResult{}, store.ErrInvalidStateTransition
	}

	result, err := s.postLocked(input.Payment)
	if err != nil {
		return models.Stay{}, store.PostResult{}, err
	}

	checkOut := input.CheckOutTime
	if checkOut.IsZero() {
		checkOut = now()
	}
	price := input.FinalPrice
	stay.State = models.StayCheckedOut
	stay.PaymentStatus = models.PaymentPaid
	stay.CheckOutTime = &checkOut
	stay.FinalPrice = &price
	method := input.Payment.Method
	stay.PaymentMethod = &method
	s.stays[stay.ID] = stay
	return stay, result, nil
}

func (s *Store) MarkSinpa(_ context.Context, input store.SinpaInput) (models.Stay, models.BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stay, ok := s.stays[input.StayID]
	if !ok {
		return models.Stay{}, models.BlacklistEntry{}, store.ErrNotFound
	}
	if !models.CanTransition(stay.State, models.StaySinpa) {
		return models.Stay{}, models.BlacklistEntry{}, store.ErrInvalidStateTransition
	}
	vehicle, ok := s.vehicles[stay.VehicleID]
	if !ok {
		return models.Stay{}, models.BlacklistEntry{}, store.ErrNotFound
	}

	checkOut := input.CheckOutTime
	if checkOut.IsZero() {
		checkOut = now()
	}
	price := input.FinalPrice
	stay.State = models.StaySinpa
	stay.CheckOutTime = &checkOut
	stay.FinalPrice = &price
	s.stays[stay.ID] = stay

	stayID := stay.ID
	entry := models.BlacklistEntry{
		ID:           s.id("blacklist"),
		VehicleID:    vehicle.ID,
		Plate:        vehicle.Plate,
		StayID:       &stayID,
		AmountOwed:   input.AmountOwed,
		IncidentDate: checkOut,
		Notes:        input.Notes,
	}
	s.blacklist[entry.ID] = entry
	return stay, entry, nil
}

func (s *Store) Discard(_ context.Context, input store.DiscardInput) (models.Stay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stay, ok := s.stays[input.StayID]
	if !ok {
		return models.Stay{}, store.ErrNotFound
	}
	if stay.State != models.StayPending {
		return models.Stay{}, store.ErrInvalidStateTransition
	}

	stay.State = models.StayDiscarded
	s.stays[stay.ID] = stay

	if input.PolicyFlag {
		vehicle := s.vehicles[stay.VehicleID]
		stayID := stay.ID
		entry := models.BlacklistEntry{
			ID:           s.id("blacklist"),
			VehicleID:    vehicle.ID,
			Plate:        vehicle.Plate,
			StayID:       &stayID,
			AmountOwed:   0,
			IncidentDate: now(),
			Notes:        "discarded: " + input.Reason,
		}
		s.blacklist[entry.ID] = entry
	}
	return stay, nil
}

func (s *Store) DeleteCheckout(_ context.Context, input store.DeleteCheckoutInput) (models.Stay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stay, ok := s.stays[input.StayID]
	if !ok {
		return models.Stay{}, store.ErrNotFound
	}
	if stay.State != models.StayCheckedOut {
		return models.Stay{}, store.ErrInvalidStateTransition
	}

	// The checkout payment may be a confirmed transaction or a still-pending
	// transfer; reverse whichever exists.
	reversed := false
	for id, pending := range s.pendings {
		if pending.StayID != nil && *pending.StayID == stay.ID && pending.Type == models.TxCheckout {
			delete(s.pendings, id)
			reversed = true
			break
		}
	}
	if !reversed {
		for id, tx := range s.txs {
			if tx.StayID == nil || *tx.StayID != stay.ID || tx.Type != models.TxCheckout {
				continue
			}
			session, ok := s.sessions[tx.SessionID]
			if !ok {
				return models.Stay{}, store.ErrNotFound
			}
			if session.Status != models.SessionOpen {
				return models.Stay{}, store.ErrSessionClosed
			}
			if tx.Method == models.MethodCash {
				session.TotalCashIn -= tx.AmountDue
			}
			s.sessions[session.ID] = session
			delete(s.txs, id)
			break
		}
	}

	stay.State = models.StayDiscarded
	stay.PaymentStatus = models.PaymentPending
	stay.PaymentMethod = nil
	s.stays[stay.ID] = stay
	return stay, nil
}

func (s *Store) ListSpots(_ context.Context) ([]models.ParkingSpot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ParkingSpot, 0, len(s.spots))
	for _, spot := range s.spots {
		out = append(out, spot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SpotType != out[j].SpotType {
			return out[i].SpotType < out[j].SpotType
		}
		return out[i].SpotNumber < out[j].SpotNumber
	})
	return out, nil
}

func (s *Store) GetSpot(_ context.Context, spotID int64) (models.ParkingSpot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spot, ok := s.spots[spotID]
	if !ok {
		return models.ParkingSpot{}, store.ErrNotFound
	}
	return spot, nil
}

func (s *Store) GetVehicle(_ context.Context, vehicleID int64) (models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vehicle, ok := s.vehicles[vehicleID]
	if !ok {
		return models.Vehicle{}, store.ErrNotFound
	}
	return vehicle, nil
}

func (s *Store) GetVehicleByPlate(_ context.Context, plate string) (models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plate = models.NormalizePlate(plate)
	for _, v := range s.vehicles {
		if v.Plate == plate {
			return v, nil
		}
	}
	return models.Vehicle{}, store.ErrNotFound
}

// ---- cash ledger ----

func (s *Store) openSessionLocked() (models.CashSession, bool) {
	for _, session := range s.sessions {
		if session.Status == models.SessionOpen {
			return session, true
		}
	}
	return models.CashSession{}, false
}

func (s *Store) OpenSession(_ context.Context, input store.OpenSessionInput) (models.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, open := s.openSessionLocked(); open {
		return models.CashSession{}, store.ErrSessionAlreadyOpen
	}

	openedAt := input.OpenedAt
	if openedAt.IsZero() {
		openedAt = now()
	}
	session := models.CashSession{
		ID:            s.id("session"),
		OpenedBy:      input.User,
		OpenedAt:      openedAt,
		InitialAmount: input.InitialAmount,
		Status:        models.SessionOpen,
	}
	s.sessions[session.ID] = session

	seed := models.CashTransaction{
		ID:         s.id("tx"),
		SessionID:  session.ID,
		Type:       models.TxInitial,
		AmountDue:  input.InitialAmount,
		AmountPaid: input.InitialAmount,
		Method:     models.MethodCash,
		Timestamp:  openedAt,
		User:       input.User,
	}
	s.txs[seed.ID] = seed
	return session, nil
}

func (s *Store) ActiveSession(_ context.Context) (models.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, open := s.openSessionLocked()
	if !open {
		return models.CashSession{}, store.ErrNoOpenSession
	}
	return session, nil
}

func (s *Store) GetSession(_ context.Context, sessionID int64) (models.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return models.CashSession{}, store.ErrNotFound
	}
	return session, nil
}

func (s *Store) LastClosedSession(_ context.Context) (models.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last models.CashSession
	found := false
	for _, session := range s.sessions {
		if session.Status != models.SessionClosed || session.ClosedAt == nil {
			continue
		}
		if !found || session.ClosedAt.After(*last.ClosedAt) {
			last = session
			found = true
		}
	}
	if !found {
		return models.CashSession{}, store.ErrNotFound
	}
	return last, nil
}

// postLocked applies a payment: bank transfers become pending transfers
// outside any session; everything else needs the open session and lands as a
// confirmed transaction with the cash float updated.
func (s *Store) postLocked(payment store.Payment) (store.PostResult, error) {
	if payment.Method == models.MethodTransfer {
		pending := models.PendingTransfer{
			ID:        s.id("pending"),
			StayID:    payment.StayID,
			Amount:    payment.AmountDue,
			Type:      payment.Type,
			CreatedBy: payment.User,
			CreatedAt: now(),
			Notes:     payment.Notes,
		}
		s.pendings[pending.ID] = pending
		p := pending
		return store.PostResult{Pending: &p}, nil
	}

	session, open := s.openSessionLocked()
	if !open {
		return store.PostResult{}, store.ErrNoOpenSession
	}

	tx := models.CashTransaction{
		ID:          s.id("tx"),
		SessionID:   session.ID,
		Type:        payment.Type,
		StayID:      payment.StayID,
		AmountDue:   payment.AmountDue,
		AmountPaid:  payment.AmountPaid,
		ChangeGiven: payment.ChangeGiven,
		Method:      payment.Method,
		Timestamp:   now(),
		User:        payment.User,
		Notes:       payment.Notes,
	}
	s.txs[tx.ID] = tx

	if payment.Method == models.MethodCash {
		session.TotalCashIn += payment.AmountDue
		s.sessions[session.ID] = session
	}
	t := tx
	return store.PostResult{Transaction: &t}, nil
}

func (s *Store) PostTransaction(_ context.Context, payment store.Payment) (store.PostResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payment.Type == models.TxInitial || payment.Type == models.TxWithdrawal {
		return store.PostResult{}, store.ErrInvalidStateTransition
	}
	return s.postLocked(payment)
}

func (s *Store) ConfirmTransfer(_ context.Context, pendingID int64, user string) (models.CashTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pendings[pendingID]
	if !ok {
		return models.CashTransaction{}, store.ErrNotFound
	}
	session, open := s.openSessionLocked()
	if !open {
		return models.CashTransaction{}, store.ErrNoOpenSession
	}

	tx := models.CashTransaction{
		ID:         s.id("tx"),
		SessionID:  session.ID,
		Type:       pending.Type,
		StayID:     pending.StayID,
		AmountDue:  pending.Amount,
		AmountPaid: pending.Amount,
		Method:     models.MethodTransfer,
		Timestamp:  now(),
		User:       user,
		Notes:      pending.Notes,
	}
	s.txs[tx.ID] = tx
	delete(s.pendings, pendingID)
	return tx, nil
}

func (s *Store) TransferSinpa(_ context.Context, pendingID int64, notes, user string) (models.BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pendings[pendingID]
	if !ok {
		return models.BlacklistEntry{}, store.ErrNotFound
	}
	if pending.StayID == nil {
		return models.BlacklistEntry{}, store.ErrNotFound
	}
	stay, ok := s.stays[*pending.StayID]
	if !ok {
		return models.BlacklistEntry{}, store.ErrNotFound
	}
	vehicle := s.vehicles[stay.VehicleID]

	entry := models.BlacklistEntry{
		ID:           s.id("blacklist"),
		VehicleID:    vehicle.ID,
		Plate:        vehicle.Plate,
		StayID:       pending.StayID,
		AmountOwed:   pending.Amount,
		IncidentDate: now(),
		Notes:        notes,
	}
	s.blacklist[entry.ID] = entry
	delete(s.pendings, pendingID)
	return entry, nil
}

func (s *Store) Withdraw(_ context.Context, input store.WithdrawInput) (models.CashTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[input.SessionID]
	if !ok {
		return models.CashTransaction{}, store.ErrNotFound
	}
	if session.Status != models.SessionOpen {
		return models.CashTransaction{}, store.ErrSessionClosed
	}
	if input.Amount > session.ExpectedAmount() {
		return models.CashTransaction{}, store.ErrExceedsAvailable
	}

	tx := models.CashTransaction{
		ID:         s.id("tx"),
		SessionID:  session.ID,
		Type:       models.TxWithdrawal,
		AmountDue:  input.Amount,
		AmountPaid: input.Amount,
		Method:     models.MethodCash,
		Timestamp:  now(),
		User:       input.User,
		Notes:      input.Notes,
	}
	s.txs[tx.ID] = tx
	session.TotalWithdrawals += input.Amount
	s.sessions[session.ID] = session
	return tx, nil
}

func (s *Store) UndoTransaction(_ context.Context, transactionID int64) (store.UndoResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[transactionID]
	if !ok {
		return store.UndoResult{}, store.ErrNotFound
	}
	if tx.Type == models.TxInitial {
		return store.UndoResult{}, store.ErrUndoInitial
	}
	session, ok := s.sessions[tx.SessionID]
	if !ok {
		return store.UndoResult{}, store.ErrNotFound
	}
	if session.Status != models.SessionOpen {
		return store.UndoResult{}, store.ErrSessionClosed
	}

	switch {
	case tx.Type == models.TxWithdrawal:
		session.TotalWithdrawals -= tx.AmountDue
	case tx.Method == models.MethodCash:
		session.TotalCashIn -= tx.AmountDue
	}
	s.sessions[session.ID] = session
	delete(s.txs, transactionID)

	result := store.UndoResult{Transaction: tx, Session: session}
	if tx.StayID != nil {
		if stay, ok := s.stays[*tx.StayID]; ok {
			switch tx.Type {
			case models.TxCheckout:
				stay.PaymentStatus = models.PaymentPending
				stay.PaymentMethod = nil
			case models.TxPrepayment:
				stay.PaymentStatus = models.PaymentPending
				stay.PrepaidAmount = 0
				stay.PaymentMethod = nil
			case models.TxExtension:
				stay.PrepaidAmount -= tx.AmountDue
				if stay.PrepaidAmount < 0 {
					stay.PrepaidAmount = 0
				}
			}
			s.stays[stay.ID] = stay
			st := stay
			result.Stay = &st
		}
	}
	return result, nil
}

func (s *Store) ListTransactions(_ context.Context, sessionID int64) ([]models.CashTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CashTransaction
	for _, tx := range s.txs {
		if tx.SessionID == sessionID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListPendingTransfers(_ context.Context) ([]models.PendingTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PendingTransfer, 0, len(s.pendings))
	for _, pending := range s.pendings {
		out = append(out, pending)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CloseSession(_ context.Context, input store.CloseSessionInput) (models.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[input.SessionID]
	if !ok {
		return models.CashSession{}, store.ErrNotFound
	}
	if session.Status != models.SessionOpen {
		return models.CashSession{}, store.ErrSessionClosed
	}

	closedAt := input.ClosedAt
	if closedAt.IsZero() {
		closedAt = now()
	}
	user := input.User
	summary := input.Summary
	session.Status = models.SessionClosed
	session.ClosedAt = &closedAt
	session.ClosedBy = &user
	session.Close = &summary
	s.sessions[session.ID] = session
	return session, nil
}

// ---- blacklist ----

func (s *Store) CheckBlacklist(_ context.Context, plate string) (store.BlacklistStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plate = models.NormalizePlate(plate)
	status := store.BlacklistStatus{}
	for _, entry := range s.blacklist {
		if entry.Plate != plate || entry.Resolved {
			continue
		}
		status.Entries = append(status.Entries, entry)
		status.TotalDebt += entry.AmountOwed
	}
	sort.Slice(status.Entries, func(i, j int) bool { return status.Entries[i].ID < status.Entries[j].ID })
	status.IsBlacklisted = len(status.Entries) > 0
	return status, nil
}

func (s *Store) AddBlacklistEntry(_ context.Context, input store.AddBlacklistInput) (models.BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vehicle := s.upsertVehicle(input.Plate, "", "")
	entry := models.BlacklistEntry{
		ID:           s.id("blacklist"),
		VehicleID:    vehicle.ID,
		Plate:        vehicle.Plate,
		AmountOwed:   input.AmountOwed,
		IncidentDate: now(),
		Notes:        input.Notes,
	}
	s.blacklist[entry.ID] = entry
	return entry, nil
}

func (s *Store) ListBlacklist(_ context.Context, includeResolved bool) ([]models.BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BlacklistEntry
	for _, entry := range s.blacklist {
		if entry.Resolved && !includeResolved {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IncidentDate.After(out[j].IncidentDate) })
	return out, nil
}

func (s *Store) ResolveBlacklistEntry(_ context.Context, input store.ResolveBlacklistInput) (models.BlacklistEntry, *models.CashTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.blacklist[input.EntryID]
	if !ok {
		return models.BlacklistEntry{}, nil, store.ErrNotFound
	}
	if entry.Resolved {
		return models.BlacklistEntry{}, nil, store.ErrAlreadyResolved
	}

	var posted *models.CashTransaction
	if input.Resolution == models.ResolutionPaid {
		session, open := s.openSessionLocked()
		if !open {
			return models.BlacklistEntry{}, nil, store.ErrNoOpenSession
		}
		if entry.AmountOwed > 0 {
			tx := models.CashTransaction{
				ID:         s.id("tx"),
				SessionID:  session.ID,
				Type:       models.TxAdjustment,
				StayID:     entry.StayID,
				AmountDue:  entry.AmountOwed,
				AmountPaid: entry.AmountOwed,
				Method:     input.Method,
				Timestamp:  now(),
				User:       input.User,
				Notes:      "blacklist settlement: " + entry.Plate,
			}
			s.txs[tx.ID] = tx
			if input.Method == models.MethodCash {
				session.TotalCashIn += tx.AmountDue
				s.sessions[session.ID] = session
			}
			posted = &tx
		}
	}

	resolution := input.Resolution
	entry.Resolved = true
	entry.Resolution = &resolution
	if input.Notes != "" {
		entry.Notes = input.Notes
	}
	s.blacklist[entry.ID] = entry
	return entry, posted, nil
}

// ---- operators and audit trail ----

func (s *Store) GetUserByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return models.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *Store) AppendHistory(_ context.Context, input store.HistoryInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, models.HistoryEntry{
		ID:        s.id("history"),
		StayID:    input.StayID,
		Action:    input.Action,
		Details:   input.Details,
		User:      input.User,
		Timestamp: now(),
	})
	return nil
}

func (s *Store) ListHistory(_ context.Context, limit int) ([]models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]models.HistoryEntry, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out, nil
}
