package models

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from  StayState
		to    StayState
		valid bool
	}{
		{StayPending, StayActive, true},
		{StayPending, StayDiscarded, true},
		{StayPending, StayCheckedOut, false},
		{StayPending, StaySinpa, false},
		{StayActive, StayCheckedOut, true},
		{StayActive, StaySinpa, true},
		{StayActive, StayDiscarded, false},
		{StayActive, StayPending, false},
		{StayCheckedOut, StayDiscarded, true},
		{StayCheckedOut, StayActive, false},
		{StayDiscarded, StayActive, false},
		{StayDiscarded, StayPending, false},
		{StaySinpa, StayActive, false},
		{StaySinpa, StayDiscarded, false},
	}

	for _, tt := range cases {
		if got := CanTransition(tt.from, tt.to); got != tt.valid {
			t.Fatalf("CanTransition(%q, %q)=%v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	terminal := []StayState{StayCheckedOut, StayDiscarded, StaySinpa}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("expected %q to be terminal", s)
		}
	}
	for _, s := range []StayState{StayPending, StayActive} {
		if s.Terminal() {
			t.Fatalf("expected %q not to be terminal", s)
		}
	}
}

func TestNormalizePlate(t *testing.T) {
	cases := map[string]string{
		" 1234 abc ": "1234ABC",
		"m-1234-xz":  "M1234XZ",
		"B 789 KL":   "B789KL",
	}
	for in, want := range cases {
		if got := NormalizePlate(in); got != want {
			t.Fatalf("NormalizePlate(%q)=%q, want %q", in, got, want)
		}
	}
}
