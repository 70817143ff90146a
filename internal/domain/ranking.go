package domain

// RankingStatus is the three-tier ranking label derived from completed referrals.
type RankingStatus string

const (
	RankingGreen  RankingStatus = "Verde"
	RankingYellow RankingStatus = "Amarelo"
	RankingRed    RankingStatus = "Vermelho"
)

// GreenThreshold is the number of completed referrals that turns a member green.
const GreenThreshold = 15

// RankingStatusFor maps a completed-referral count to its status.
func RankingStatusFor(contractsCompleted int) RankingStatus {
	switch {
	case contractsCompleted >= GreenThreshold:
		return RankingGreen
	case contractsCompleted >= 1:
		return RankingYellow
	default:
		return RankingRed
	}
}

// Rank orders statuses Red < Yellow < Green.
func (s RankingStatus) Rank() int {
	switch s {
	case RankingGreen:
		return 2
	case RankingYellow:
		return 1
	default:
		return 0
	}
}
