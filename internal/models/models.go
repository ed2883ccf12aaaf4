package models

import (
	"strings"
	"time"
)

// SpotType classifies parking spots by size and services.
type SpotType string

const (
	SpotTypeA       SpotType = "A"
	SpotTypeB       SpotType = "B"
	SpotTypeCB      SpotType = "CB"
	SpotTypeC       SpotType = "C"
	SpotTypeCPlus   SpotType = "CPLUS"
	SpotTypeSpecial SpotType = "Special"
)

// SpotTypes lists every valid spot type in display order.
var SpotTypes = []SpotType{SpotTypeA, SpotTypeB, SpotTypeCB, SpotTypeC, SpotTypeCPlus, SpotTypeSpecial}

// ValidSpotType reports whether t is a known spot type.
func ValidSpotType(t SpotType) bool {
	for _, st := range SpotTypes {
		if st == t {
			return true
		}
	}
	return false
}

// StayState is the primary lifecycle state of a stay.
type StayState string

const (
	StayPending    StayState = "pending"
	StayActive     StayState = "active"
	StayCheckedOut StayState = "checked_out"
	StayDiscarded  StayState = "discarded"
	StaySinpa      StayState = "sinpa"
)

// Terminal reports whether a stay in state s accepts no further transitions
// (checked_out still accepts the administrative delete-checkout reversal).
func (s StayState) Terminal() bool {
	return s == StayCheckedOut || s == StayDiscarded || s == StaySinpa
}

// PaymentStatus is the payment sub-status carried by an active stay.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPrepaid PaymentStatus = "prepaid"
	PaymentPaid    PaymentStatus = "paid"
)

// PaymentMethod identifies how money arrived.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodCard     PaymentMethod = "card"
	MethodTransfer PaymentMethod = "transfer"
)

// ValidMethod reports whether m is a known payment method.
func ValidMethod(m PaymentMethod) bool {
	return m == MethodCash || m == MethodCard || m == MethodTransfer
}

// TransactionType identifies a ledger entry's origin.
type TransactionType string

const (
	TxInitial     TransactionType = "initial"
	TxCheckout    TransactionType = "checkout"
	TxPrepayment  TransactionType = "prepayment"
	TxExtension   TransactionType = "extension"
	TxProductSale TransactionType = "product_sale"
	TxWithdrawal  TransactionType = "withdrawal"
	TxAdjustment  TransactionType = "adjustment"
)

// SessionStatus is the cash session lifecycle state.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// Resolution records how a blacklist entry was settled.
type Resolution string

const (
	ResolutionForgiven Resolution = "forgiven"
	ResolutionPaid     Resolution = "paid"
)

// Vehicle is a visiting vehicle, created on first detection and never deleted.
type Vehicle struct {
	ID          int64  `db:"id" json:"id"`
	Plate       string `db:"license_plate" json:"license_plate"`
	Country     string `db:"country" json:"country"`
	VehicleType string `db:"vehicle_type" json:"vehicle_type"`
}

// NormalizePlate canonicalizes a license plate: uppercase, no spaces or dashes.
func NormalizePlate(plate string) string {
	plate = strings.ToUpper(strings.TrimSpace(plate))
	plate = strings.ReplaceAll(plate, " ", "")
	return strings.ReplaceAll(plate, "-", "")
}

// ParkingSpot is a numbered spot of a given type. Occupancy is derived from
// the presence of a non-terminal stay referencing the spot.
type ParkingSpot struct {
	ID         int64    `db:"id" json:"id"`
	SpotType   SpotType `db:"spot_type" json:"spot_type"`
	SpotNumber int      `db:"spot_number" json:"spot_number"`
}

// Stay is one vehicle visit from detection to a terminal resolution. State
// gates which fields are meaningful: SpotID and CheckInTime are set from
// check-in onward, CheckOutTime holds the planned departure while prepaid and
// the actual departure once terminal.
type Stay struct {
	ID            int64          `db:"id" json:"id"`
	VehicleID     int64          `db:"vehicle_id" json:"vehicle_id"`
	SpotID        *int64         `db:"spot_id" json:"spot_id,omitempty"`
	DetectionTime time.Time      `db:"detection_time" json:"detection_time"`
	CheckInTime   *time.Time     `db:"check_in_time" json:"check_in_time,omitempty"`
	CheckOutTime  *time.Time     `db:"check_out_time" json:"check_out_time,omitempty"`
	State         StayState      `db:"state" json:"state"`
	PaymentStatus PaymentStatus  `db:"payment_status" json:"payment_status"`
	PrepaidAmount float64        `db:"prepaid_amount" json:"prepaid_amount"`
	PaymentMethod *PaymentMethod `db:"payment_method" json:"payment_method,omitempty"`
	FinalPrice    *float64       `db:"final_price" json:"final_price,omitempty"`
}

// Outstanding is the unpaid balance against a final price.
func (s Stay) Outstanding(finalPrice float64) float64 {
	due := finalPrice - s.PrepaidAmount
	if due < 0 {
		return 0
	}
	return due
}

// CashSession is one register working period. At most one session is open
// system-wide at any time.
type CashSession struct {
	ID               int64         `db:"id" json:"id"`
	OpenedBy         string        `db:"opened_by" json:"opened_by"`
	OpenedAt         time.Time     `db:"opened_at" json:"opened_at"`
	ClosedBy         *string       `db:"closed_by" json:"closed_by,omitempty"`
	ClosedAt         *time.Time    `db:"closed_at" json:"closed_at,omitempty"`
	InitialAmount    float64       `db:"initial_amount" json:"initial_amount"`
	TotalCashIn      float64       `db:"total_cash_in" json:"total_cash_in"`
	TotalWithdrawals float64       `db:"total_withdrawals" json:"total_withdrawals"`
	Status           SessionStatus `db:"status" json:"status"`
	Close            *CloseSummary `db:"-" json:"close,omitempty"`
}

// ExpectedAmount is the cash the register should physically hold. Card and
// transfer sums are tracked per method and never commingled with the float.
func (s CashSession) ExpectedAmount() float64 {
	return s.InitialAmount + s.TotalCashIn - s.TotalWithdrawals
}

// CloseSummary is the persisted result of reconciling a session at close.
type CloseSummary struct {
	CashBreakdown       map[string]int `json:"cash_breakdown"`
	CountedCash         float64        `json:"counted_cash"`
	ExpectedCash        float64        `json:"expected_cash"`
	ExpectedCard        float64        `json:"expected_card"`
	ExpectedTransfer    float64        `json:"expected_transfer"`
	ActualCard          float64        `json:"actual_card"`
	ActualTransfer      float64        `json:"actual_transfer"`
	CashDifference      float64        `json:"cash_difference"`
	TotalDifference     float64        `json:"total_difference"`
	SuggestedWithdrawal float64        `json:"suggested_withdrawal"`
	ActualWithdrawal    float64        `json:"actual_withdrawal"`
	RemainingInRegister float64        `json:"remaining_in_register"`
	Notes               string         `json:"notes"`
}

// CashTransaction is an immutable ledger entry; reversal deletes the record
// through the explicit undo operation, never edits it.
type CashTransaction struct {
	ID          int64           `db:"id" json:"id"`
	SessionID   int64           `db:"session_id" json:"session_id"`
	Type        TransactionType `db:"transaction_type" json:"transaction_type"`
	StayID      *int64          `db:"stay_id" json:"stay_id,omitempty"`
	AmountDue   float64         `db:"amount_due" json:"amount_due"`
	AmountPaid  float64         `db:"amount_paid" json:"amount_paid"`
	ChangeGiven float64         `db:"change_given" json:"change_given"`
	Method      PaymentMethod   `db:"payment_method" json:"payment_method"`
	Timestamp   time.Time       `db:"timestamp" json:"timestamp"`
	User        string          `db:"registered_by" json:"registered_by"`
	Notes       string          `db:"notes" json:"notes,omitempty"`
}

// PendingTransfer is a bank-transfer payment awaiting confirmation. It is not
// part of any session total until confirmed.
type PendingTransfer struct {
	ID        int64           `db:"id" json:"id"`
	StayID    *int64          `db:"stay_id" json:"stay_id,omitempty"`
	Amount    float64         `db:"amount" json:"amount"`
	Type      TransactionType `db:"transaction_type" json:"transaction_type"`
	CreatedBy string          `db:"created_by" json:"created_by"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	Notes     string          `db:"notes" json:"notes,omitempty"`
}

// BlacklistEntry records a debt (or a zero-amount policy flag) against a
// vehicle. Entries accumulate per vehicle until resolved individually.
type BlacklistEntry struct {
	ID           int64       `db:"id" json:"id"`
	VehicleID    int64       `db:"vehicle_id" json:"vehicle_id"`
	Plate        string      `db:"license_plate" json:"license_plate"`
	StayID       *int64      `db:"stay_id" json:"stay_id,omitempty"`
	AmountOwed   float64     `db:"amount_owed" json:"amount_owed"`
	IncidentDate time.Time   `db:"incident_date" json:"incident_date"`
	Notes        string      `db:"notes" json:"notes,omitempty"`
	Resolved     bool        `db:"resolved" json:"resolved"`
	Resolution   *Resolution `db:"resolution" json:"resolution,omitempty"`
}

// HistoryEntry is an append-only audit record of a mutating operation.
type HistoryEntry struct {
	ID        int64          `db:"id" json:"id"`
	StayID    *int64         `db:"stay_id" json:"stay_id,omitempty"`
	Action    string         `db:"action" json:"action"`
	Details   map[string]any `db:"details" json:"details,omitempty"`
	User      string         `db:"registered_by" json:"registered_by"`
	Timestamp time.Time      `db:"timestamp" json:"timestamp"`
}

// User is an operator account. The core treats the username as the opaque
// audit identity attached to every mutating operation.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	Active       bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
