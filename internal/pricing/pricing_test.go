package pricing

import (
	"testing"
	"time"

	"camperpark/internal/models"
)

func TestNights(t *testing.T) {
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		out   time.Time
		wants int
	}{
		{"same instant", base, 1},
		{"two hours", base.Add(2 * time.Hour), 1},
		{"exactly one day", base.Add(24 * time.Hour), 1},
		{"one day and a minute", base.Add(24*time.Hour + time.Minute), 2},
		{"three days", base.Add(72 * time.Hour), 3},
		{"checkout before checkin", base.Add(-time.Hour), 1},
	}

	for _, tt := range cases {
		if got := Nights(base, tt.out); got != tt.wants {
			t.Fatalf("%s: Nights=%d, want %d", tt.name, got, tt.wants)
		}
	}
}

func TestStayPrice(t *testing.T) {
	in := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	out := in.Add(25 * time.Hour) // two nights

	price, err := StayPrice(models.SpotTypeCPlus, in, out)
	if err != nil {
		t.Fatalf("StayPrice: %v", err)
	}
	if price != 72 {
		t.Fatalf("price=%v, want 72", price)
	}

	price, err = StayPrice(models.SpotTypeCPlus, in, in.Add(time.Hour))
	if err != nil {
		t.Fatalf("StayPrice: %v", err)
	}
	if price != 36 {
		t.Fatalf("one-night CPLUS price=%v, want 36", price)
	}
}

func TestUnknownSpotType(t *testing.T) {
	if _, err := NightlyRate(models.SpotType("D")); err == nil {
		t.Fatal("expected error for unknown spot type")
	}
}
