package money

import "testing"

func TestRound_HalvesAwayFromZero(t *testing.T) {
	tests := []struct {
		in   float64
		want int64
	}{
		{0, 0},
		{0.4, 0},
		{0.5, 1},
		{1.5, 2},
		{2.5, 3},
		{-0.5, -1},
		{-1.5, -2},
		{99.999, 100},
	}

	for _, tt := range tests {
		if got := Round(tt.in); got != tt.want {
			t.Fatalf("Round(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		amount  int64
		percent float64
		want    int64
	}{
		{1000000, 10, 100000},
		{100, 12.5, 13},
		{101, 50, 51},
		{0, 99, 0},
		{333, 33.3, 111},
	}

	for _, tt := range tests {
		if got := Percent(tt.amount, tt.percent); got != tt.want {
			t.Fatalf("Percent(%d, %v) = %d, want %d", tt.amount, tt.percent, got, tt.want)
		}
	}
}

func TestRate(t *testing.T) {
	if got := Rate(922500, 0.2); got != 184500 {
		t.Fatalf("Rate(922500, 0.2) = %d, want 184500", got)
	}
	if got := Rate(101, 0.005); got != 1 {
		t.Fatalf("Rate(101, 0.005) = %d, want 1", got)
	}
}
