// Package notify delivers the close-out summary to the facility owner. A
// failed notification is reported to the caller for logging but must never
// roll back a session close.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"camperpark/internal/models"
)

// Notifier sends one message per session close.
type Notifier interface {
	Send(ctx context.Context, session models.CashSession) error
}

// LogNotifier writes the summary to the log. Used when SMTP is unconfigured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, session models.CashSession) error {
	fields := []zap.Field{
		zap.Int64("session_id", session.ID),
		zap.Float64("expected_amount", session.ExpectedAmount()),
	}
	if session.Close != nil {
		fields = append(fields,
			zap.Float64("counted_cash", session.Close.CountedCash),
			zap.Float64("cash_difference", session.Close.CashDifference),
			zap.Float64("remaining_in_register", session.Close.RemainingInRegister))
	}
	n.logger.Info("cash session closed", fields...)
	return nil
}

// SMTPConfig carries mail delivery settings.
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	To       []string
	Username string
	Password string
}

// SMTPNotifier emails the close summary as plain text.
type SMTPNotifier struct {
	cfg SMTPConfig
}

// NewSMTPNotifier builds an SMTP notifier.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) Send(_ context.Context, session models.CashSession) error {
	if len(n.cfg.To) == 0 {
		return fmt.Errorf("notify: no recipients configured")
	}

	body := renderSummary(session)
	msg := strings.Join([]string{
		"From: " + n.cfg.From,
		"To: " + strings.Join(n.cfg.To, ", "),
		fmt.Sprintf("Subject: Cash close-out, session %d", session.ID),
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if n.cfg.Username != "" {
		host := n.cfg.Addr
		if idx := strings.IndexByte(host, ':'); idx >= 0 {
			host = host[:idx]
		}
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, host)
	}
	if err := smtp.SendMail(n.cfg.Addr, auth, n.cfg.From, n.cfg.To, []byte(msg)); err != nil {
		return fmt.Errorf("notify: send mail: %w", err)
	}
	return nil
}

func renderSummary(session models.CashSession) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %d opened by %s at %s\n", session.ID, session.OpenedBy, session.OpenedAt.Format("2006-01-02 15:04"))
	if session.ClosedBy != nil && session.ClosedAt != nil {
		fmt.Fprintf(&b, "Closed by %s at %s\n", *session.ClosedBy, session.ClosedAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "\nInitial float: %.2f\nCash in: %.2f\nWithdrawals: %.2f\nExpected cash: %.2f\n",
		session.InitialAmount, session.TotalCashIn, session.TotalWithdrawals, session.ExpectedAmount())

	c := session.Close
	if c == nil {
		return b.String()
	}
	fmt.Fprintf(&b, "\nCounted cash: %.2f (difference %+.2f)\n", c.CountedCash, c.CashDifference)
	fmt.Fprintf(&b, "Card: %.2f expected, %.2f actual\n", c.ExpectedCard, c.ActualCard)
	fmt.Fprintf(&b, "Transfer: %.2f expected, %.2f actual\n", c.ExpectedTransfer, c.ActualTransfer)
	fmt.Fprintf(&b, "Total difference: %+.2f\n", c.TotalDifference)
	fmt.Fprintf(&b, "Withdrawn: %.2f (suggested %.2f), remaining in register: %.2f\n",
		c.ActualWithdrawal, c.SuggestedWithdrawal, c.RemainingInRegister)
	if len(c.CashBreakdown) > 0 {
		denoms := make([]string, 0, len(c.CashBreakdown))
		for d := range c.CashBreakdown {
			denoms = append(denoms, d)
		}
		sort.Strings(denoms)
		b.WriteString("\nBreakdown:\n")
		for _, d := range denoms {
			fmt.Fprintf(&b, "  %s x %d\n", d, c.CashBreakdown[d])
		}
	}
	if c.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s\n", c.Notes)
	}
	return b.String()
}
