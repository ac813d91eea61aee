package betting

import "github.com/rewired-gh/betledger/internal/models"

// PayoutPlan is the computed winnings for one claimed gamble.
type PayoutPlan struct {
	GambleID int             `json:"gamble_id"`
	Gambler  models.Identity `json:"gambler"`
	Amount   models.Amount   `json:"amount"`
	Winnings models.Amount   `json:"winnings"`
}

// HouseShare returns percent of the surplus (total minus payable), rounded down.
func HouseShare(total, payable models.Amount, percent int) models.Amount {
	if percent <= 0 || total.Cmp(payable) <= 0 {
		return models.Amount{}
	}
	if percent > 100 {
		percent = 100
	}
	surplus := total.Sub(payable)
	return surplus.Mul(models.NewAmount(int64(percent))).Div(models.NewAmount(100))
}

// ProRataWinnings computes amount - amount*winnerBetsPlaced/tally with floor
// division. The result is never above amount.
func ProRataWinnings(amount, winnerBetsPlaced, tally models.Amount) models.Amount {
	if tally.Sign() == 0 {
		return amount
	}
	share := amount.Mul(winnerBetsPlaced).Div(tally)
	if share.Cmp(amount) >= 0 {
		return models.Amount{}
	}
	return amount.Sub(share)
}

func planPayouts(gambles []models.Gamble, winnerBetsPlaced, tally models.Amount) []PayoutPlan {
	var plans []PayoutPlan
	for _, g := range gambles {
		if g.Status != models.OutcomeWon || !g.Claimed || g.Paid {
			continue
		}
		plans = append(plans, PayoutPlan{
			GambleID: g.ID,
			Gambler:  g.Gambler,
			Amount:   g.Amount,
			Winnings: ProRataWinnings(g.Amount, winnerBetsPlaced, tally),
		})
	}
	return plans
}
