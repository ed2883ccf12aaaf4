// Package store defines the persistence contract for the front office. Every
// operation that touches more than one entity is a single method so each
// backend can give it one transactional boundary: partial application (debt
// posted but spot not freed, transaction written but totals stale) must be
// impossible.
package store

import (
	"context"
	"time"

	"camperpark/internal/models"
)

// Payment is a fully computed ledger posting. Build one with ledger.BuildPayment
// so change and insufficient-cash rules are applied uniformly.
type Payment struct {
	Type        models.TransactionType
	StayID      *int64
	AmountDue   float64
	AmountPaid  float64
	ChangeGiven float64
	Method      models.PaymentMethod
	Notes       string
	User        string
}

// PostResult reports where a payment landed: a confirmed transaction, or a
// pending transfer that is not yet part of any session total.
type PostResult struct {
	Transaction *models.CashTransaction
	Pending     *models.PendingTransfer
}

// UndoResult reports what an undo reverted.
type UndoResult struct {
	Transaction models.CashTransaction
	Session     models.CashSession
	Stay        *models.Stay
}

// BlacklistStatus aggregates a vehicle's unresolved debt.
type BlacklistStatus struct {
	IsBlacklisted bool                    `json:"is_blacklisted"`
	TotalDebt     float64                 `json:"total_debt"`
	Entries       []models.BlacklistEntry `json:"entries"`
}

type DetectInput struct {
	Plate         string
	Country       string
	VehicleType   string
	DetectionTime time.Time
	User          string
}

type CheckInInput struct {
	StayID      int64
	SpotType    models.SpotType
	CheckInTime time.Time
	User        string
}

type ManualEntryInput struct {
	Plate       string
	Country     string
	VehicleType string
	SpotType    models.SpotType
	EntryTime   time.Time
	User        string
}

type PrepayInput struct {
	StayID       int64
	CheckInTime  time.Time
	CheckOutTime time.Time
	Payment      Payment
}

type ExtendInput struct {
	StayID      int64
	NightsToAdd int
	Payment     Payment
}

type CheckOutInput struct {
	StayID       int64
	FinalPrice   float64
	CheckOutTime time.Time
	Payment      Payment
}

type SinpaInput struct {
	StayID       int64
	AmountOwed   float64
	FinalPrice   float64
	CheckOutTime time.Time
	Notes        string
	User         string
}

type DiscardInput struct {
	StayID     int64
	Reason     string
	PolicyFlag bool // blacklist the vehicle with a zero-amount entry
	User       string
}

type DeleteCheckoutInput struct {
	StayID int64
	User   string
}

type OpenSessionInput struct {
	InitialAmount float64
	OpenedAt      time.Time
	User          string
}

type WithdrawInput struct {
	SessionID int64
	Amount    float64
	Notes     string
	User      string
}

type CloseSessionInput struct {
	SessionID int64
	ClosedAt  time.Time
	User      string
	Summary   models.CloseSummary
}

type AddBlacklistInput struct {
	Plate      string
	AmountOwed float64
	Notes      string
	User       string
}

type ResolveBlacklistInput struct {
	EntryID    int64
	Resolution models.Resolution
	Method     models.PaymentMethod // used when resolution is paid
	Notes      string
	User       string
}

type HistoryInput struct {
	StayID  *int64
	Action  string
	Details map[string]any
	User    string
}

// Store is the single persistence contract. The memory backend serves tests
// and single-box deployments; the postgres backend serves production.
type Store interface {
	// Stays and spots.
	Detect(ctx context.Context, input DetectInput) (models.Stay, models.Vehicle, error)
	GetStay(ctx context.Context, stayID int64) (models.Stay, error)
	ListStays(ctx context.Context, state models.StayState) ([]models.Stay, error)
	CheckIn(ctx context.Context, input CheckInInput) (models.Stay, models.ParkingSpot, error)
	ManualEntry(ctx context.Context, input ManualEntryInput) (models.Stay, models.ParkingSpot, error)
	Prepay(ctx context.Context, input PrepayInput) (models.Stay, PostResult, error)
	Extend(ctx context.Context, input ExtendInput) (models.Stay, PostResult, error)
	CheckOut(ctx context.Context, input CheckOutInput) (models.Stay, PostResult, error)
	MarkSinpa(ctx context.Context, input SinpaInput) (models.Stay, models.BlacklistEntry, error)
	Discard(ctx context.Context, input DiscardInput) (models.Stay, error)
	DeleteCheckout(ctx context.Context, input DeleteCheckoutInput) (models.Stay, error)
	ListSpots(ctx context.Context) ([]models.ParkingSpot, error)
	GetSpot(ctx context.Context, spotID int64) (models.ParkingSpot, error)
	GetVehicle(ctx context.Context, vehicleID int64) (models.Vehicle, error)
	GetVehicleByPlate(ctx context.Context, plate string) (models.Vehicle, error)

	// Cash ledger.
	OpenSession(ctx context.Context, input OpenSessionInput) (models.CashSession, error)
	ActiveSession(ctx context.Context) (models.CashSession, error)
	GetSession(ctx context.Context, sessionID int64) (models.CashSession, error)
	LastClosedSession(ctx context.Context) (models.CashSession, error)
	PostTransaction(ctx context.Context, payment Payment) (PostResult, error)
	ConfirmTransfer(ctx context.Context, pendingID int64, user string) (models.CashTransaction, error)
	TransferSinpa(ctx context.Context, pendingID int64, notes, user string) (models.BlacklistEntry, error)
	Withdraw(ctx context.Context, input WithdrawInput) (models.CashTransaction, error)
	UndoTransaction(ctx context.Context, transactionID int64) (UndoResult, error)
	ListTransactions(ctx context.Context, sessionID int64) ([]models.CashTransaction, error)
	ListPendingTransfers(ctx context.Context) ([]models.PendingTransfer, error)
	CloseSession(ctx context.Context, input CloseSessionInput) (models.CashSession, error)

	// Blacklist.
	CheckBlacklist(ctx context.Context, plate string) (BlacklistStatus, error)
	AddBlacklistEntry(ctx context.Context, input AddBlacklistInput) (models.BlacklistEntry, error)
	ListBlacklist(ctx context.Context, includeResolved bool) ([]models.BlacklistEntry, error)
	ResolveBlacklistEntry(ctx context.Context, input ResolveBlacklistInput) (models.BlacklistEntry, *models.CashTransaction, error)

	// Operators and audit trail.
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	AppendHistory(ctx context.Context, input HistoryInput) error
	ListHistory(ctx context.Context, limit int) ([]models.HistoryEntry, error)
}
