// Package postgres implements store.Store on postgres. Every domain
// operation runs in one transaction; row locks on the stay and the open
// session serialize concurrent operators, and partial unique indexes back
// the single-active-stay-per-spot and single-open-session invariants.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	"camperpark/internal/models"
	"camperpark/internal/store"
)

//go:embed schema.sql
var schema string

// Store is the postgres-backed store.Store.
type Store struct {
	db *sql.DB
}

// New wraps an open connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema applies the schema. Statements are idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SeedSpots inserts missing parking spots, keeping existing rows.
func (s *Store) SeedSpots(ctx context.Context, spots []models.ParkingSpot) error {
	const query = `
		INSERT INTO parking_spots (spot_type, spot_number)
		VALUES ($1, $2)
		ON CONFLICT (spot_type, spot_number) DO NOTHING
	`
	for _, spot := range spots {
		if _, err := s.db.ExecContext(ctx, query, spot.SpotType, spot.SpotNumber); err != nil {
			return err
		}
	}
	return nil
}

// SeedUser upserts an operator account.
func (s *Store) SeedUser(ctx context.Context, user models.User) error {
	const query = `
		INSERT INTO users (username, password_hash, role, is_active, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (username) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			is_active = EXCLUDED.is_active
	`
	_, err := s.db.ExecContext(ctx, query, user.Username, user.PasswordHash, user.Role, user.Active)
	return err
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// queryer abstracts *sql.DB and *sql.Tx for the read helpers.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const stayColumns = `id, vehicle_id, spot_id, detection_time, check_in_time, check_out_time,
	state, payment_status, prepaid_amount, payment_method, final_price`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStay(row rowScanner) (models.Stay, error) {
	var (
		stay     models.Stay
		spotID   sql.NullInt64
		checkIn  sql.NullTime
		checkOut sql.NullTime
		method   sql.NullString
		price    sql.NullFloat64
	)
	err := row.Scan(&stay.ID, &stay.VehicleID, &spotID, &stay.DetectionTime, &checkIn, &checkOut,
		&stay.State, &stay.PaymentStatus, &stay.PrepaidAmount, &method, &price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Stay{}, store.ErrNotFound
		}
		return models.Stay{}, err
	}
	if spotID.Valid {
		stay.SpotID = &spotID.Int64
	}
	if checkIn.Valid {
		stay.CheckInTime = &checkIn.Time
	}
	if checkOut.Valid {
		stay.CheckOutTime = &checkOut.Time
	}
	if method.Valid {
		m := models.PaymentMethod(method.String)
		stay.PaymentMethod = &m
	}
	if price.Valid {
		stay.FinalPrice = &price.Float64
	}
	return stay, nil
}

func getStay(ctx context.Context, q queryer, stayID int64, forUpdate bool) (models.Stay, error) {
	query := `SELECT ` + stayColumns + ` FROM stays WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanStay(q.QueryRowContext(ctx, query, stayID))
}

func upsertVehicle(ctx context.Context, q queryer, plate, country, vehicleType string) (models.Vehicle, error) {
	const query = `
		INSERT INTO vehicles (license_plate, country, vehicle_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (license_plate) DO UPDATE SET
			country = COALESCE(NULLIF(EXCLUDED.country, ''), vehicles.country),
			vehicle_type = COALESCE(NULLIF(EXCLUDED.vehicle_type, ''), vehicles.vehicle_type)
		RETURNING id, license_plate, country, vehicle_type
	`
	var vehicle models.Vehicle
	err := q.QueryRowContext(ctx, query, models.NormalizePlate(plate), country, vehicleType).
		Scan(&vehicle.ID, &vehicle.Plate, &vehicle.Country, &vehicle.VehicleType)
	return vehicle, err
}

// lockFreeSpot picks the lowest-numbered free spot of the type. SKIP LOCKED
// lets two concurrent check-ins take different spots instead of queueing on
// the same row.
func lockFreeSpot(ctx context.Context, tx *sql.Tx, spotType models.SpotType) (models.ParkingSpot, error) {
	const query = `
		SELECT id, spot_type, spot_number
		FROM parking_spots ps
		WHERE ps.spot_type = $1
		  AND NOT EXISTS (
			SELECT 1 FROM stays st WHERE st.spot_id = ps.id AND st.state = 'active'
		  )
		ORDER BY ps.spot_number
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	var spot models.ParkingSpot
	err := tx.QueryRowContext(ctx, query, spotType).Scan(&spot.ID, &spot.SpotType, &spot.SpotNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ParkingSpot{}, store.ErrNoSpotAvailable
	}
	return spot, err
}

func (s *Store) Detect(ctx context.Context, input store.DetectInput) (models.Stay, models.Vehicle, error) {
	var (
		stay    models.Stay
		vehicle models.Vehicle
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		vehicle, err = upsertVehicle(ctx, tx, input.Plate, input.Country, input.VehicleType)
		if err != nil {
			return err
		}

		detected := input.DetectionTime
		if detected.IsZero() {
			detected = time.Now().UTC()
		}
		const query = `
			INSERT INTO stays (vehicle_id, detection_time, state, payment_status)
			VALUES ($1, $2, 'pending', 'pending')
			RETURNING ` + stayColumns
		stay, err = scanStay(tx.QueryRowContext(ctx, query, vehicle.ID, detected))
		return err
	})
	if err != nil {
		return models.Stay{}, models.Vehicle{}, err
	}
	return stay, vehicle, nil
}

func (s *Store) GetStay(ctx context.Context, stayID int64) (models.Stay, error) {
	return getStay(ctx, s.db, stayID, false)
}

func (s *Store) ListStays(ctx context.Context, state models.StayState) ([]models.Stay, error) {
	const query = `SELECT ` + stayColumns + ` FROM stays WHERE state = $1 ORDER BY detection_time`
	rows, err := s.db.QueryContext(ctx, query, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Stay
	for rows.Next() {
		stay, err := scanStay(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, stay)
	}
	return out, rows.Err()
}

func (s *Store) CheckIn(ctx context.Context, input store.CheckInInput) (models.Stay, models.ParkingSpot, error) {
	var (
		stay models.Stay
		spot models.ParkingSpot
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stay, err = getStay(ctx, tx, input.StayID, true)
		if err != nil {
			return err
		}
		if !models.CanTransition(stay.State, models.StayActive) {
			return store.ErrInvalidStateTransition
		}
		spot, err = lockFreeSpot(ctx, tx, input.SpotType)
		if err != nil {
			return err
		}

		checkIn := input.CheckInTime
		if checkIn.IsZero() {
			checkIn = time.Now().UTC()
		}
		const query = `
			UPDATE stays
			SET state = 'active', spot_id = $2, check_in_time = $3, payment_status = 'pending'
			WHERE id = $1
			RETURNING ` + stayColumns
		stay, err = scanStay(tx.QueryRowContext(ctx, query, stay.ID, spot.ID, checkIn))
		return err
	})
	if err != nil {
		return models.Stay{}, models.ParkingSpot{}, err
	}
	return stay, spot, nil
}

func (s *Store) ManualEntry(ctx context.Context, input store.ManualEntryInput) (models.Stay, models.ParkingSpot, error) {
	var (
		stay models.Stay
		spot models.ParkingSpot
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		spot, err = lockFreeSpot(ctx, tx, input.SpotType)
		if err != nil {
			return err
		}
		vehicle, err := upsertVehicle(ctx, tx, input.Plate, input.Country, input.VehicleType)
		if err != nil {
			return err
		}

		entry := input.EntryTime
		if entry.IsZero() {
			entry = time.Now().UTC()
		}
		const query = `
			INSERT INTO stays (vehicle_id, spot_id, detection_time, check_in_time, state, payment_status)
			VALUES ($1, $2, $3, $3, 'active', 'pending')
			RETURNING ` + stayColumns
		stay, err = scanStay(tx.QueryRowContext(ctx, query, vehicle.ID, spot.ID, entry))
		return err
	})
	if err != nil {
		return models.Stay{}, models.ParkingSpot{}, err
	}
	return stay, spot, nil
}

func (s *Store) Prepay(ctx context.Context, input store.PrepayInput) (models.Stay, store.PostResult, error) {
	var (
		stay   models.Stay
		result store.PostResult
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stay, err = getStay(ctx, tx, input.StayID, true)
		if err != nil {
			return err
		}
		if stay.State != models.StayPending {
			return store.ErrInvalidStateTransition
		}
		result, err = postPayment(ctx, tx, input.Payment)
		if err != nil {
			return err
		}

		checkIn := input.CheckInTime
		if checkIn.IsZero() {
			checkIn = time.Now().UTC()
		}
		const query = `
			UPDATE stays
			SET state = 'active', payment_status = 'prepaid', prepaid_amount = $2,
			    check_in_time = $3, check_out_time = $4, payment_method = $5
			WHERE id = $1
			RETURNING ` + stayColumns
		stay, err = scanStay(tx.QueryRowContext(ctx, query,
			stay.ID, input.Payment.AmountDue, checkIn, input.CheckOutTime, input.Payment.Method))
		return err
	})
	if err != nil {
		return models.Stay{}, store.PostResult{}, err
	}
	return stay, result, nil
}

func (s *Store) Extend(ctx context.Context, input store.ExtendInput) (models.Stay, store.PostResult, error) {
	var (
		stay   models.Stay
		result store.PostResult
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stay, err = getStay(ctx, tx, input.StayID, true)
		if err != nil {
			return err
		}
		if stay.State != models.StayActive || stay.PaymentStatus != models.PaymentPrepaid {
			return store.ErrNotPrepaid
		}
		result, err = postPayment(ctx, tx, input.Payment)
		if err != nil {
			return err
		}

		planned := time.Now().UTC()
		if stay.CheckOutTime != nil {
			planned = *stay.CheckOutTime
		}
		planned = planned.AddDate(0, 0, input.NightsToAdd)
		const query = `
			UPDATE stays
			SET check_out_time = $2, prepaid_amount = prepaid_amount + $3
			WHERE id = $1
			RETURNING ` + stayColumns
		stay, err = scanStay(tx.QueryRowContext(ctx, query, stay.ID, planned, input.Payment.AmountDue))
		return err
	})
	if err != nil {
		return models.Stay{}, store.PostResult{}, err
	}
	return stay, result, nil
}

func (s *Store) CheckOut(ctx context.Context, input store.CheckOutInput) (models.Stay, store.PostResult, error) {
	var (
		stay   models.Stay
		result store.PostResult
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stay, err = getStay(ctx, tx, input.StayID, true)
		if err != nil {
			return err
		}
		if !models.CanTransition(stay.State, models.StayCheckedOut) || stay.PaymentStatus == models.PaymentPaid {
			return store.ErrInvalidStateTransition
		}
		result, err = postPayment(ctx, tx, input.Payment)
		if err != nil {
			return err
		}

		checkOut := input.CheckOutTime
		if checkOut.IsZero() {
			checkOut = time.Now().UTC()
		}
		const query = `
			UPDATE stays
			SET state = 'checked_out', payment_status = 'paid', check_out_time = $2,
			    final_price = $3, payment_method = $4
			WHERE id = $1
			RETURNING ` + stayColumns
		stay, err = scanStay(tx.QueryRowContext(ctx, query,
			stay.ID, checkOut, input.FinalPrice, input.Payment.Method))
		return err
	})
	if err != nil {
		return models.Stay{}, store.PostResult{}, err
	}
	return stay, result, nil
}

func (s *Store) MarkSinpa(ctx context.Context, input store.SinpaInput) (models.Stay, models.BlacklistEntry, error) {
	var (
		stay  models.Stay
		entry models.BlacklistEntry
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stay, err = getStay(ctx, tx, input.StayID, true)
		if err != nil {
			return err
		}
		if !models.CanTransition(stay.State, models.StaySinpa) {
			return store.ErrInvalidStateTransition
		}

		checkOut := input.CheckOutTime
		if checkOut.IsZero() {
			checkOut = time.Now().UTC()
		}
		const update = `
			UPDATE stays
			SET state = 'sinpa', check_out_time = $2, final_price = $3
			WHERE id = $1
			RETURNING ` + stayColumns
		stay, err = scanStay(tx.QueryRowContext(ctx, update, stay.ID, checkOut, input.FinalPrice))
		if err != nil {
			return err
		}

		entry, err = insertBlacklistEntry(ctx, tx, stay.VehicleID, &stay.ID, input.AmountOwed, checkOut, input.Notes)
		return err
	})
	if err != nil {
		return models.Stay{}, models.BlacklistEntry{}, err
	}
	return stay, entry, nil
}

func (s *Store) Discard(ctx context.Context, input store.DiscardInput) (models.Stay, error) {
	var stay models.Stay
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stay, err = getStay(ctx, tx, input.StayID, true)
		if err != nil {
			return err
		}
		if stay.State != models.StayPending {
			return store.ErrInvalidStateTransition
		}

		const query = `UPDATE stays SET state = 'discarded' WHERE id = $1 RETURNING ` + stayColumns
		stay, err = scanStay(tx.QueryRowContext(ctx, query, stay.ID))
		if err != nil {
			return err
		}

		if input.PolicyFlag {
			notes := "discarded: " + input.Reason
			_, err = insertBlacklistEntry(ctx, tx, stay.VehicleID, &stay.ID, 0, time.Now().UTC(), notes)
		}
		return err
	})
	if err != nil {
		return models.Stay{}, err
	}
	return stay, nil
}

func (s *Store) DeleteCheckout(ctx context.Context, input store.DeleteCheckoutInput) (models.Stay, error) {
	var stay models.Stay
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stay, err = getStay(ctx, tx, input.StayID, true)
		if err != nil {
			return err
		}
		if stay.State != models.StayCheckedOut {
			return store.ErrInvalidStateTransition
		}

		reversed, err := deletePendingCheckoutTransfer(ctx, tx, stay.ID)
		if err != nil {
			return err
		}
		if !reversed {
			if err := reverseCheckoutTransaction(ctx, tx, stay.ID); err != nil {
				return err
			}
		}

		const query = `
			UPDATE stays
			SET state = 'discarded', payment_status = 'pending', payment_method = NULL
			WHERE id = $1
			RETURNING ` + stayColumns
		stay, err = scanStay(tx.QueryRowContext(ctx, query, stay.ID))
		return err
	})
	if err != nil {
		return models.Stay{}, err
	}
	return stay, nil
}

func (s *Store) ListSpots(ctx context.Context) ([]models.ParkingSpot, error) {
	const query = `SELECT id, spot_type, spot_number FROM parking_spots ORDER BY spot_type, spot_number`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ParkingSpot
	for rows.Next() {
		var spot models.ParkingSpot
		if err := rows.Scan(&spot.ID, &spot.SpotType, &spot.SpotNumber); err != nil {
			return nil, err
		}
		out = append(out, spot)
	}
	return out, rows.Err()
}

func (s *Store) GetSpot(ctx context.Context, spotID int64) (models.ParkingSpot, error) {
	const query = `SELECT id, spot_type, spot_number FROM parking_spots WHERE id = $1`
	var spot models.ParkingSpot
	err := s.db.QueryRowContext(ctx, query, spotID).Scan(&spot.ID, &spot.SpotType, &spot.SpotNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ParkingSpot{}, store.ErrNotFound
	}
	return spot, err
}

func (s *Store) GetVehicle(ctx context.Context, vehicleID int64) (models.Vehicle, error) {
	const query = `SELECT id, license_plate, country, vehicle_type FROM vehicles WHERE id = $1`
	var vehicle models.Vehicle
	err := s.db.QueryRowContext(ctx, query, vehicleID).
		Scan(&vehicle.ID, &vehicle.Plate, &vehicle.Country, &vehicle.VehicleType)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Vehicle{}, store.ErrNotFound
	}
	return vehicle, err
}

func (s *Store) GetVehicleByPlate(ctx context.Context, plate string) (models.Vehicle, error) {
	const query = `SELECT id, license_plate, country, vehicle_type FROM vehicles WHERE license_plate = $1`
	var vehicle models.Vehicle
	err := s.db.QueryRowContext(ctx, query, models.NormalizePlate(plate)).
		Scan(&vehicle.ID, &vehicle.Plate, &vehicle.Country, &vehicle.VehicleType)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Vehicle{}, store.ErrNotFound
	}
	return vehicle, err
}
