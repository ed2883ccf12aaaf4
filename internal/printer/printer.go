// Package printer renders guest tickets as ESC/POS byte streams and hands
// them to a spool target. Printing is informational only: a failed print
// never gates a payment or a stay transition.
package printer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// TicketKind distinguishes what the ticket documents.
type TicketKind string

const (
	TicketCheckout   TicketKind = "checkout"
	TicketPrepayment TicketKind = "prepayment"
)

// Ticket is the printable payload.
type Ticket struct {
	Kind         TicketKind
	Reference    string
	Plate        string
	SpotNumber   string
	CheckInTime  time.Time
	CheckOutTime time.Time
	Amount       float64
	Method       string
}

// Printer accepts tickets for printing.
type Printer interface {
	Print(ctx context.Context, ticket Ticket) error
}

// NewTicket stamps a ticket with a fresh reference code.
func NewTicket(kind TicketKind) Ticket {
	return Ticket{Kind: kind, Reference: uuid.NewString()[:8]}
}

// escpos control sequences.
var (
	escInit    = []byte{0x1b, 0x40}
	escCenter  = []byte{0x1b, 0x61, 0x01}
	escLeft    = []byte{0x1b, 0x61, 0x00}
	escBoldOn  = []byte{0x1b, 0x45, 0x01}
	escBoldOff = []byte{0x1b, 0x45, 0x00}
	escCut     = []byte{0x1d, 0x56, 0x42, 0x00}
	escFeed    = []byte{0x1b, 0x64, 0x03}
)

// Render produces the raw ESC/POS bytes for a ticket.
func Render(ticket Ticket) []byte {
	var buf bytes.Buffer
	buf.Write(escInit)
	buf.Write(escCenter)
	buf.Write(escBoldOn)
	buf.WriteString("CAMPER PARK\n")
	buf.Write(escBoldOff)
	switch ticket.Kind {
	case TicketPrepayment:
		buf.WriteString("PREPAYMENT RECEIPT\n")
	default:
		buf.WriteString("CHECKOUT RECEIPT\n")
	}
	buf.Write(escLeft)
	buf.WriteString("--------------------------------\n")
	fmt.Fprintf(&buf, "Ref:    %s\n", ticket.Reference)
	fmt.Fprintf(&buf, "Plate:  %s\n", ticket.Plate)
	if ticket.SpotNumber != "" {
		fmt.Fprintf(&buf, "Spot:   %s\n", ticket.SpotNumber)
	}
	if !ticket.CheckInTime.IsZero() {
		fmt.Fprintf(&buf, "In:     %s\n", ticket.CheckInTime.Format("02/01/2006 15:04"))
	}
	if !ticket.CheckOutTime.IsZero() {
		fmt.Fprintf(&buf, "Out:    %s\n", ticket.CheckOutTime.Format("02/01/2006 15:04"))
	}
	buf.WriteString("--------------------------------\n")
	buf.Write(escBoldOn)
	fmt.Fprintf(&buf, "TOTAL:  %.2f EUR\n", ticket.Amount)
	buf.Write(escBoldOff)
	if ticket.Method != "" {
		fmt.Fprintf(&buf, "Paid by %s\n", ticket.Method)
	}
	buf.Write(escFeed)
	buf.Write(escCut)
	return buf.Bytes()
}

// SpoolPrinter writes rendered tickets to files in a spool directory, one
// file per ticket. A CUPS raw queue or a USB forwarder picks them up.
type SpoolPrinter struct {
	dir string
}

// NewSpoolPrinter builds a spool printer rooted at dir.
func NewSpoolPrinter(dir string) (*SpoolPrinter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("printer: create spool dir: %w", err)
	}
	return &SpoolPrinter{dir: dir}, nil
}

func (p *SpoolPrinter) Print(_ context.Context, ticket Ticket) error {
	name := fmt.Sprintf("%s-%s.bin", time.Now().UTC().Format("20060102T150405"), ticket.Reference)
	path := filepath.Join(p.dir, name)
	if err := os.WriteFile(path, Render(ticket), 0o644); err != nil {
		return fmt.Errorf("printer: write spool file: %w", err)
	}
	return nil
}
