package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"camperpark/internal/models"
	"camperpark/internal/store"
)

const entryColumns = `id, vehicle_id, license_plate, stay_id, amount_owed, incident_date, notes, resolved, resolution`

func scanBlacklistEntry(row rowScanner) (models.BlacklistEntry, error) {
	var (
		entry      models.BlacklistEntry
		stayID     sql.NullInt64
		resolution sql.NullString
	)
	err := row.Scan(&entry.ID, &entry.VehicleID, &entry.Plate, &stayID, &entry.AmountOwed,
		&entry.IncidentDate, &entry.Notes, &entry.Resolved, &resolution)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.BlacklistEntry{}, store.ErrNotFound
		}
		return models.BlacklistEntry{}, err
	}
	if stayID.Valid {
		entry.StayID = &stayID.Int64
	}
	if resolution.Valid {
		r := models.Resolution(resolution.String)
		entry.Resolution = &r
	}
	return entry, nil
}

func insertBlacklistEntry(ctx context.Context, q queryer, vehicleID int64, stayID *int64, amountOwed float64, incidentDate time.Time, notes string) (models.BlacklistEntry, error) {
	const query = `
		INSERT INTO blacklist_entries (vehicle_id, license_plate, stay_id, amount_owed, incident_date, notes)
		SELECT v.id, v.license_plate, $2, $3, $4, $5 FROM vehicles v WHERE v.id = $1
		RETURNING ` + entryColumns
	entry, err := scanBlacklistEntry(q.QueryRowContext(ctx, query, vehicleID, stayID, amountOwed, incidentDate, notes))
	if errors.Is(err, store.ErrNotFound) {
		// The vehicle row is gone, which the foreign keys should prevent.
		return models.BlacklistEntry{}, store.ErrNotFound
	}
	return entry, err
}

func (s *Store) CheckBlacklist(ctx context.Context, plate string) (store.BlacklistStatus, error) {
	const query = `
		SELECT ` + entryColumns + `
		FROM blacklist_entries
		WHERE license_plate = $1 AND NOT resolved
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, models.NormalizePlate(plate))
	if err != nil {
		return store.BlacklistStatus{}, err
	}
	defer rows.Close()

	status := store.BlacklistStatus{}
	for rows.Next() {
		entry, err := scanBlacklistEntry(rows)
		if err != nil {
			return store.BlacklistStatus{}, err
		}
		status.Entries = append(status.Entries, entry)
		status.TotalDebt += entry.AmountOwed
	}
	status.IsBlacklisted = len(status.Entries) > 0
	return status, rows.Err()
}

func (s *Store) AddBlacklistEntry(ctx context.Context, input store.AddBlacklistInput) (models.BlacklistEntry, error) {
	var entry models.BlacklistEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		vehicle, err := upsertVehicle(ctx, tx, input.Plate, "", "")
		if err != nil {
			return err
		}
		entry, err = insertBlacklistEntry(ctx, tx, vehicle.ID, nil, input.AmountOwed, time.Now().UTC(), input.Notes)
		return err
	})
	if err != nil {
		return models.BlacklistEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListBlacklist(ctx context.Context, includeResolved bool) ([]models.BlacklistEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM blacklist_entries`
	if !includeResolved {
		query += ` WHERE NOT resolved`
	}
	query += ` ORDER BY incident_date DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BlacklistEntry
	for rows.Next() {
		entry, err := scanBlacklistEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) ResolveBlacklistEntry(ctx context.Context, input store.ResolveBlacklistInput) (models.BlacklistEntry, *models.CashTransaction, error) {
	var (
		entry  models.BlacklistEntry
		posted *models.CashTransaction
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		const lock = `SELECT ` + entryColumns + ` FROM blacklist_entries WHERE id = $1 FOR UPDATE`
		current, err := scanBlacklistEntry(tx.QueryRowContext(ctx, lock, input.EntryID))
		if err != nil {
			return err
		}
		if current.Resolved {
			return store.ErrAlreadyResolved
		}

		if input.Resolution == models.ResolutionPaid && current.AmountOwed > 0 {
			session, err := lockOpenSession(ctx, tx)
			if err != nil {
				return err
			}
			const insert = `
				INSERT INTO cash_transactions
					(session_id, transaction_type, stay_id, amount_due, amount_paid, payment_method, registered_by, notes)
				VALUES ($1, 'adjustment', $2, $3, $3, $4, $5, $6)
				RETURNING ` + txColumns
			settlement, err := scanTransaction(tx.QueryRowContext(ctx, insert,
				session.ID, current.StayID, current.AmountOwed, input.Method, input.User,
				"blacklist settlement: "+current.Plate))
			if err != nil {
				return err
			}
			if input.Method == models.MethodCash {
				const bump = `UPDATE cash_sessions SET total_cash_in = total_cash_in + $2 WHERE id = $1`
				if _, err := tx.ExecContext(ctx, bump, session.ID, current.AmountOwed); err != nil {
					return err
				}
			}
			posted = &settlement
		} else if input.Resolution == models.ResolutionPaid {
			// Zero-amount policy flags settle without a ledger effect, but a
			// paid resolution still needs the register open.
			if _, err := lockOpenSession(ctx, tx); err != nil {
				return err
			}
		}

		update := `
			UPDATE blacklist_entries
			SET resolved = TRUE, resolution = $2
			WHERE id = $1
			RETURNING ` + entryColumns
		args := []any{current.ID, input.Resolution}
		if input.Notes != "" {
			update = `
				UPDATE blacklist_entries
				SET resolved = TRUE, resolution = $2, notes = $3
				WHERE id = $1
				RETURNING ` + entryColumns
			args = append(args, input.Notes)
		}
		entry, err = scanBlacklistEntry(tx.QueryRowContext(ctx, update, args...))
		return err
	})
	if err != nil {
		return models.BlacklistEntry{}, nil, err
	}
	return entry, posted, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	const query = `
		SELECT id, username, password_hash, role, is_active, created_at
		FROM users WHERE username = $1
	`
	var user models.User
	err := s.db.QueryRowContext(ctx, query, username).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.Active, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, store.ErrNotFound
	}
	return user, err
}

func (s *Store) AppendHistory(ctx context.Context, input store.HistoryInput) error {
	var details []byte
	if input.Details != nil {
		var err error
		details, err = json.Marshal(input.Details)
		if err != nil {
			return err
		}
	}
	const query = `
		INSERT INTO history_entries (stay_id, action, details, registered_by)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.ExecContext(ctx, query, input.StayID, input.Action, details, input.User)
	return err
}

func (s *Store) ListHistory(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, stay_id, action, details, registered_by, ts
		FROM history_entries
		ORDER BY id DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var (
			entry   models.HistoryEntry
			stayID  sql.NullInt64
			details []byte
		)
		if err := rows.Scan(&entry.ID, &stayID, &entry.Action, &details, &entry.User, &entry.Timestamp); err != nil {
			return nil, err
		}
		if stayID.Valid {
			entry.StayID = &stayID.Int64
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
