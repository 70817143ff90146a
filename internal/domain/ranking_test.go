package domain_test

import (
	"testing"

	"github.com/conectados/conectados-api/internal/domain"
)

func TestRankingStatusFor(t *testing.T) {
	tests := []struct {
		count int
		want  domain.RankingStatus
	}{
		{-1, domain.RankingRed},
		{0, domain.RankingRed},
		{1, domain.RankingYellow},
		{14, domain.RankingYellow},
		{15, domain.RankingGreen},
		{200, domain.RankingGreen},
	}
	for _, tt := range tests {
		if got := domain.RankingStatusFor(tt.count); got != tt.want {
			t.Errorf("RankingStatusFor(%d) = %s, want %s", tt.count, got, tt.want)
		}
	}
}

func TestRankingStatusFor_Monotonic(t *testing.T) {
	prev := domain.RankingStatusFor(0).Rank()
	for n := 1; n <= 40; n++ {
		cur := domain.RankingStatusFor(n).Rank()
		if cur < prev {
			t.Fatalf("status rank decreased at %d: %d < %d", n, cur, prev)
		}
		prev = cur
	}
}
