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

const sessionColumns = `id, opened_by, opened_at, closed_by, closed_at, initial_amount,
	total_cash_in, total_withdrawals, status, close_summary`

func scanSession(row rowScanner) (models.CashSession, error) {
	var (
		session  models.CashSession
		closedBy sql.NullString
		closedAt sql.NullTime
		summary  []byte
	)
	err := row.Scan(&session.ID, &session.OpenedBy, &session.OpenedAt, &closedBy, &closedAt,
		&session.InitialAmount, &session.TotalCashIn, &session.TotalWithdrawals, &session.Status, &summary)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CashSession{}, store.ErrNotFound
		}
		return models.CashSession{}, err
	}
	if closedBy.Valid {
		session.ClosedBy = &closedBy.String
	}
	if closedAt.Valid {
		session.ClosedAt = &closedAt.Time
	}
	if len(summary) > 0 {
		var close models.CloseSummary
		if err := json.Unmarshal(summary, &close); err != nil {
			return models.CashSession{}, err
		}
		session.Close = &close
	}
	return session, nil
}

const txColumns = `id, session_id, transaction_type, stay_id, amount_due, amount_paid,
	change_given, payment_method, ts, registered_by, notes`

func scanTransaction(row rowScanner) (models.CashTransaction, error) {
	var (
		tx     models.CashTransaction
		stayID sql.NullInt64
	)
	err := row.Scan(&tx.ID, &tx.SessionID, &tx.Type, &stayID, &tx.AmountDue, &tx.AmountPaid,
		&tx.ChangeGiven, &tx.Method, &tx.Timestamp, &tx.User, &tx.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CashTransaction{}, store.ErrNotFound
		}
		return models.CashTransaction{}, err
	}
	if stayID.Valid {
		tx.StayID = &stayID.Int64
	}
	return tx, nil
}

// lockOpenSession returns the open session with its row locked, serializing
// all postings against it.
func lockOpenSession(ctx context.Context, tx *sql.Tx) (models.CashSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM cash_sessions WHERE status = 'open' FOR UPDATE`
	session, err := scanSession(tx.QueryRowContext(ctx, query))
	if errors.Is(err, store.ErrNotFound) {
		return models.CashSession{}, store.ErrNoOpenSession
	}
	return session, err
}

// postPayment applies a payment inside the caller's transaction: bank
// transfers land as pending records outside any session, everything else
// needs the open session and updates the float for cash.
func postPayment(ctx context.Context, tx *sql.Tx, payment store.Payment) (store.PostResult, error) {
	if payment.Method == models.MethodTransfer {
		const query = `
			INSERT INTO pending_transfers (stay_id, amount, transaction_type, created_by, notes)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, stay_id, amount, transaction_type, created_by, created_at, notes
		`
		pending, err := scanPendingTransfer(tx.QueryRowContext(ctx, query,
			payment.StayID, payment.AmountDue, payment.Type, payment.User, payment.Notes))
		if err != nil {
			return store.PostResult{}, err
		}
		return store.PostResult{Pending: &pending}, nil
	}

	session, err := lockOpenSession(ctx, tx)
	if err != nil {
		return store.PostResult{}, err
	}

	const insert = `
		INSERT INTO cash_transactions
			(session_id, transaction_type, stay_id, amount_due, amount_paid, change_given, payment_method, registered_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + txColumns
	posted, err := scanTransaction(tx.QueryRowContext(ctx, insert,
		session.ID, payment.Type, payment.StayID, payment.AmountDue, payment.AmountPaid,
		payment.ChangeGiven, payment.Method, payment.User, payment.Notes))
	if err != nil {
		return store.PostResult{}, err
	}

	if payment.Method == models.MethodCash {
		const bump = `UPDATE cash_sessions SET total_cash_in = total_cash_in + $2 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, bump, session.ID, payment.AmountDue); err != nil {
			return store.PostResult{}, err
		}
	}
	return store.PostResult{Transaction: &posted}, nil
}

func scanPendingTransfer(row rowScanner) (models.PendingTransfer, error) {
	var (
		pending models.PendingTransfer
		stayID  sql.NullInt64
	)
	err := row.Scan(&pending.ID, &stayID, &pending.Amount, &pending.Type,
		&pending.CreatedBy, &pending.CreatedAt, &pending.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PendingTransfer{}, store.ErrNotFound
		}
		return models.PendingTransfer{}, err
	}
	if stayID.Valid {
		pending.StayID = &stayID.Int64
	}
	return pending, nil
}

func (s *Store) OpenSession(ctx context.Context, input store.OpenSessionInput) (models.CashSession, error) {
	var session models.CashSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM cash_sessions WHERE status = 'open')`).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return store.ErrSessionAlreadyOpen
		}

		openedAt := input.OpenedAt
		if openedAt.IsZero() {
			openedAt = time.Now().UTC()
		}
		const insert = `
			INSERT INTO cash_sessions (opened_by, opened_at, initial_amount, status)
			VALUES ($1, $2, $3, 'open')
			RETURNING ` + sessionColumns
		var err error
		session, err = scanSession(tx.QueryRowContext(ctx, insert, input.User, openedAt, input.InitialAmount))
		if err != nil {
			return err
		}

		const seed = `
			INSERT INTO cash_transactions
				(session_id, transaction_type, amount_due, amount_paid, payment_method, ts, registered_by)
			VALUES ($1, 'initial', $2, $2, 'cash', $3, $4)
		`
		_, err = tx.ExecContext(ctx, seed, session.ID, input.InitialAmount, openedAt, input.User)
		return err
	})
	if err != nil {
		return models.CashSession{}, err
	}
	return session, nil
}

func (s *Store) ActiveSession(ctx context.Context) (models.CashSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM cash_sessions WHERE status = 'open'`
	session, err := scanSession(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, store.ErrNotFound) {
		return models.CashSession{}, store.ErrNoOpenSession
	}
	return session, err
}

func (s *Store) GetSession(ctx context.Context, sessionID int64) (models.CashSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM cash_sessions WHERE id = $1`
	return scanSession(s.db.QueryRowContext(ctx, query, sessionID))
}

func (s *Store) LastClosedSession(ctx context.Context) (models.CashSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM cash_sessions
		WHERE status = 'closed'
		ORDER BY closed_at DESC
		LIMIT 1
	`
	return scanSession(s.db.QueryRowContext(ctx, query))
}

func (s *Store) PostTransaction(ctx context.Context, payment store.Payment) (store.PostResult, error) {
	if payment.Type == models.TxInitial || payment.Type == models.TxWithdrawal {
		return store.PostResult{}, store.ErrInvalidStateTransition
	}
	var result store.PostResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = postPayment(ctx, tx, payment)
		return err
	})
	if err != nil {
		return store.PostResult{}, err
	}
	return result, nil
}

func (s *Store) ConfirmTransfer(ctx context.Context, pendingID int64, user string) (models.CashTransaction, error) {
	var confirmed models.CashTransaction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		const take = `
			DELETE FROM pending_transfers WHERE id = $1
			RETURNING id, stay_id, amount, transaction_type, created_by, created_at, notes
		`
		pending, err := scanPendingTransfer(tx.QueryRowContext(ctx, take, pendingID))
		if err != nil {
			return err
		}
		session, err := lockOpenSession(ctx, tx)
		if err != nil {
			return err
		}

		const insert = `
			INSERT INTO cash_transactions
				(session_id, transaction_type, stay_id, amount_due, amount_paid, payment_method, registered_by, notes)
			VALUES ($1, $2, $3, $4, $4, 'transfer', $5, $6)
			RETURNING ` + txColumns
		confirmed, err = scanTransaction(tx.QueryRowContext(ctx, insert,
			session.ID, pending.Type, pending.StayID, pending.Amount, user, pending.Notes))
		return err
	})
	if err != nil {
		return models.CashTransaction{}, err
	}
	return confirmed, nil
}

func (s *Store) TransferSinpa(ctx context.Context, pendingID int64, notes, user string) (models.BlacklistEntry, error) {
	var entry models.BlacklistEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		const take = `
			DELETE FROM pending_transfers WHERE id = $1
			RETURNING id, stay_id, amount, transaction_type, created_by, created_at, notes
		`
		pending, err := scanPendingTransfer(tx.QueryRowContext(ctx, take, pendingID))
		if err != nil {
			return err
		}
		if pending.StayID == nil {
			return store.ErrNotFound
		}
		stay, err := getStay(ctx, tx, *pending.StayID, false)
		if err != nil {
			return err
		}

		entry, err = insertBlacklistEntry(ctx, tx, stay.VehicleID, pending.StayID, pending.Amount, time.Now().UTC(), notes)
		return err
	})
	if err != nil {
		return models.BlacklistEntry{}, err
	}
	return entry, nil
}

func (s *Store) Withdraw(ctx context.Context, input store.WithdrawInput) (models.CashTransaction, error) {
	var withdrawal models.CashTransaction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		const lock = `SELECT ` + sessionColumns + ` FROM cash_sessions WHERE id = $1 FOR UPDATE`
		session, err := scanSession(tx.QueryRowContext(ctx, lock, input.SessionID))
		if err != nil {
			return err
		}
		if session.Status != models.SessionOpen {
			return store.ErrSessionClosed
		}
		if input.Amount > session.ExpectedAmount() {
			return store.ErrExceedsAvailable
		}

		const insert = `
			INSERT INTO cash_transactions
				(session_id, transaction_type, amount_due, amount_paid, payment_method, registered_by, notes)
			VALUES ($1, 'withdrawal', $2, $2, 'cash', $3, $4)
			RETURNING ` + txColumns
		withdrawal, err = scanTransaction(tx.QueryRowContext(ctx, insert,
			session.ID, input.Amount, input.User, input.Notes))
		if err != nil {
			return err
		}

		const bump = `UPDATE cash_sessions SET total_withdrawals = total_withdrawals + $2 WHERE id = $1`
		_, err = tx.ExecContext(ctx, bump, session.ID, input.Amount)
		return err
	})
	if err != nil {
		return models.CashTransaction{}, err
	}
	return withdrawal, nil
}

func (s *Store) UndoTransaction(ctx context.Context, transactionID int64) (store.UndoResult, error) {
	var result store.UndoResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		const query = `SELECT ` + txColumns + ` FROM cash_transactions WHERE id = $1`
		undone, err := scanTransaction(tx.QueryRowContext(ctx, query, transactionID))
		if err != nil {
			return err
		}
		if undone.Type == models.TxInitial {
			return store.ErrUndoInitial
		}

		const lock = `SELECT ` + sessionColumns + ` FROM cash_sessions WHERE id = $1 FOR UPDATE`
		session, err := scanSession(tx.QueryRowContext(ctx, lock, undone.SessionID))
		if err != nil {
			return err
		}
		if session.Status != models.SessionOpen {
			return store.ErrSessionClosed
		}

		switch {
		case undone.Type == models.TxWithdrawal:
			const revert = `
				UPDATE cash_sessions SET total_withdrawals = total_withdrawals - $2
				WHERE id = $1
				RETURNING ` + sessionColumns
			session, err = scanSession(tx.QueryRowContext(ctx, revert, session.ID, undone.AmountDue))
		case undone.Method == models.MethodCash:
			const revert = `
				UPDATE cash_sessions SET total_cash_in = total_cash_in - $2
				WHERE id = $1
				RETURNING ` + sessionColumns
			session, err = scanSession(tx.QueryRowContext(ctx, revert, session.ID, undone.AmountDue))
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cash_transactions WHERE id = $1`, undone.ID); err != nil {
			return err
		}

		result = store.UndoResult{Transaction: undone, Session: session}
		if undone.StayID == nil {
			return nil
		}

		var stay models.Stay
		switch undone.Type {
		case models.TxCheckout:
			const revert = `
				UPDATE stays SET payment_status = 'pending', payment_method = NULL
				WHERE id = $1
				RETURNING ` + stayColumns
			stay, err = scanStay(tx.QueryRowContext(ctx, revert, *undone.StayID))
		case models.TxPrepayment:
			const revert = `
				UPDATE stays SET payment_status = 'pending', prepaid_amount = 0, payment_method = NULL
				WHERE id = $1
				RETURNING ` + stayColumns
			stay, err = scanStay(tx.QueryRowContext(ctx, revert, *undone.StayID))
		case models.TxExtension:
			const revert = `
				UPDATE stays SET prepaid_amount = GREATEST(prepaid_amount - $2, 0)
				WHERE id = $1
				RETURNING ` + stayColumns
			stay, err = scanStay(tx.QueryRowContext(ctx, revert, *undone.StayID, undone.AmountDue))
		default:
			return nil
		}
		if err != nil {
			return err
		}
		result.Stay = &stay
		return nil
	})
	if err != nil {
		return store.UndoResult{}, err
	}
	return result, nil
}

func (s *Store) ListTransactions(ctx context.Context, sessionID int64) ([]models.CashTransaction, error) {
	const query = `SELECT ` + txColumns + ` FROM cash_transactions WHERE session_id = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CashTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *Store) ListPendingTransfers(ctx context.Context) ([]models.PendingTransfer, error) {
	const query = `
		SELECT id, stay_id, amount, transaction_type, created_by, created_at, notes
		FROM pending_transfers ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PendingTransfer
	for rows.Next() {
		pending, err := scanPendingTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pending)
	}
	return out, rows.Err()
}

func (s *Store) CloseSession(ctx context.Context, input store.CloseSessionInput) (models.CashSession, error) {
	var session models.CashSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		const lock = `SELECT ` + sessionColumns + ` FROM cash_sessions WHERE id = $1 FOR UPDATE`
		current, err := scanSession(tx.QueryRowContext(ctx, lock, input.SessionID))
		if err != nil {
			return err
		}
		if current.Status != models.SessionOpen {
			return store.ErrSessionClosed
		}

		closedAt := input.ClosedAt
		if closedAt.IsZero() {
			closedAt = time.Now().UTC()
		}
		summary, err := json.Marshal(input.Summary)
		if err != nil {
			return err
		}

		const update = `
			UPDATE cash_sessions
			SET status = 'closed', closed_by = $2, closed_at = $3, close_summary = $4
			WHERE id = $1
			RETURNING ` + sessionColumns
		session, err = scanSession(tx.QueryRowContext(ctx, update, current.ID, input.User, closedAt, summary))
		return err
	})
	if err != nil {
		return models.CashSession{}, err
	}
	return session, nil
}

// deletePendingCheckoutTransfer removes a stay's unconfirmed checkout
// transfer, reporting whether one existed.
func deletePendingCheckoutTransfer(ctx context.Context, tx *sql.Tx, stayID int64) (bool, error) {
	const query = `DELETE FROM pending_transfers WHERE stay_id = $1 AND transaction_type = 'checkout'`
	res, err := tx.ExecContext(ctx, query, stayID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// reverseCheckoutTransaction deletes a stay's confirmed checkout posting and
// rolls the session float back. The session must still be open.
func reverseCheckoutTransaction(ctx context.Context, tx *sql.Tx, stayID int64) error {
	const query = `SELECT ` + txColumns + ` FROM cash_transactions WHERE stay_id = $1 AND transaction_type = 'checkout'`
	posted, err := scanTransaction(tx.QueryRowContext(ctx, query, stayID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	const lock = `SELECT ` + sessionColumns + ` FROM cash_sessions WHERE id = $1 FOR UPDATE`
	session, err := scanSession(tx.QueryRowContext(ctx, lock, posted.SessionID))
	if err != nil {
		return err
	}
	if session.Status != models.SessionOpen {
		return store.ErrSessionClosed
	}

	if posted.Method == models.MethodCash {
		const revert = `UPDATE cash_sessions SET total_cash_in = total_cash_in - $2 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, revert, session.ID, posted.AmountDue); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM cash_transactions WHERE id = $1`, posted.ID)
	return err
}
