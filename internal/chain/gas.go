package chain

import (
	"context"
	"sort"

	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

// SelectGas escolhe a maior moeda SUI de owner com saldo de pelo menos
// max(budget, minBalance). Sem moeda elegível o erro é NO_GAS_COINS.
func SelectGas(ctx context.Context, gw Gateway, owner string, budget, minBalance uint64) (GasPayment, error) {
	coins, err := gw.ListCoins(ctx, owner, SuiCoinType)
	if err != nil {
		return GasPayment{}, apperr.Wrap(apperr.NoGasCoins, err, "list gas coins of %s", owner)
	}
	threshold := minBalance
	if budget > threshold {
		threshold = budget
	}
	eligible := make([]Coin, 0, len(coins))
	for _, c := range coins {
		if c.Balance >= threshold {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return GasPayment{}, apperr.New(apperr.NoGasCoins, "%s has no gas coin with balance >= %d", owner, threshold)
	}
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].Balance > eligible[j].Balance })
	return GasPayment{Owner: owner, Coins: eligible[:1], Budget: budget}, nil
}
