package risk

import "testing"

func TestLTVHaircutBps(t *testing.T) {
	tests := []struct {
		ltv  int
		tier Tier
		want int
	}{
		{5000, TierLow, 5000},
		{5000, TierMedium, 4500},
		{5000, TierHigh, 4000},
		{2500, TierHigh, 2000},
	}
	for _, tt := range tests {
		if got := LTVHaircutBps(tt.ltv, tt.tier); got != tt.want {
			t.Fatalf("LTVHaircutBps(%d, %s) = %d, want %d", tt.ltv, tt.tier, got, tt.want)
		}
	}
}
