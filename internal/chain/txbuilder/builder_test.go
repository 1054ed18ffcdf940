package txbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/pricebet-settlement/internal/chain"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

const (
	user = "0xa11ce"
	pool = "0xp001"
)

func testBuilder() *Builder {
	return New(Config{
		PackageID:     "0xbeef",
		AdminCapID:    "0xad",
		TreasuryCapID: "0x7e",
	})
}

func TestPlaceBet_MergesBeforeSplit(t *testing.T) {
	b := testBuilder()

	coins, err := SelectCoins([]chain.Coin{
		{ID: "0xc100", Balance: 100},
		{ID: "0xc300", Balance: 300},
		{ID: "0xc200", Balance: 200},
	}, 550)
	require.NoError(t, err)
	require.Len(t, coins, 3)
	assert.Equal(t, "0xc300", coins[0].ID)

	ids := []string{coins[0].ID, coins[1].ID, coins[2].ID}
	plan, err := b.PlaceBet(PlaceBetParams{Sender: user, PoolID: pool, Prediction: PredictGold, CoinIDs: ids, Amount: 550})
	require.NoError(t, err)

	require.Len(t, plan.Commands, 3)
	merge, split, call := plan.Commands[0], plan.Commands[1], plan.Commands[2]

	assert.Equal(t, chain.CmdMergeCoins, merge.Kind)
	assert.Equal(t, chain.Input(2), merge.Coin)
	assert.Equal(t, []chain.Argument{chain.Input(3), chain.Input(4)}, merge.Sources)
	assert.Equal(t, "0xc300", plan.Inputs[2].ObjectID)

	assert.Equal(t, chain.CmdSplitCoins, split.Kind)
	assert.Equal(t, chain.Input(2), split.Coin)
	assert.Equal(t, chain.PureU64(550).Pure, plan.Inputs[split.Sources[0].Index].Pure)

	assert.Equal(t, chain.CmdMoveCall, call.Kind)
	assert.Equal(t, "place_bet", call.Function)
	assert.Equal(t, chain.NestedResult(1, 0), call.Arguments[1])
	assert.Equal(t, []string{chain.SuiCoinType}, call.TypeArguments)
}

func TestPlaceBet_SingleCoinUsedDirectly(t *testing.T) {
	plan, err := testBuilder().PlaceBet(PlaceBetParams{Sender: user, PoolID: pool, Prediction: PredictBTC, CoinIDs: []string{"0xc1"}, Amount: 10})
	require.NoError(t, err)

	require.Len(t, plan.Commands, 2)
	assert.Equal(t, chain.CmdSplitCoins, plan.Commands[0].Kind)
	assert.Equal(t, chain.Input(2), plan.Commands[0].Coin)
	assert.Equal(t, chain.NestedResult(0, 0), plan.Commands[1].Arguments[1])
	assert.Equal(t, []byte{2}, plan.Inputs[1].Pure)
}

func TestPlaceBet_Validation(t *testing.T) {
	b := testBuilder()
	cases := []struct {
		name string
		p    PlaceBetParams
	}{
		{"no coins", PlaceBetParams{Sender: user, PoolID: pool, Prediction: PredictGold, Amount: 1}},
		{"zero amount", PlaceBetParams{Sender: user, PoolID: pool, Prediction: PredictGold, CoinIDs: []string{"0x1"}}},
		{"bad prediction", PlaceBetParams{Sender: user, PoolID: pool, Prediction: 9, CoinIDs: []string{"0x1"}, Amount: 1}},
		{"no pool", PlaceBetParams{Sender: user, Prediction: PredictGold, CoinIDs: []string{"0x1"}, Amount: 1}},
		{"blank coin id", PlaceBetParams{Sender: user, PoolID: pool, Prediction: PredictGold, CoinIDs: []string{"0x1", ""}, Amount: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.PlaceBet(tc.p)
			require.Error(t, err)
			assert.Equal(t, apperr.InvalidInput, apperr.CodeOf(err))
		})
	}
}

func TestSelectCoins(t *testing.T) {
	coins := []chain.Coin{{ID: "a", Balance: 50}, {ID: "b", Balance: 500}, {ID: "c", Balance: 70}}

	got, err := SelectCoins(coins, 400)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)

	got, err = SelectCoins(coins, 560)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, []string{got[0].ID, got[1].ID})

	_, err = SelectCoins(coins, 1000)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	_, err = SelectCoins(nil, 1)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestFinalizeRound_TransfersFeeCoinToCollector(t *testing.T) {
	plan, err := testBuilder().FinalizeRound(FinalizeParams{
		Sender: "0xadmin", PoolID: pool,
		GoldStart: 200_000, GoldEnd: 201_000, BtcStart: 6_000_000, BtcEnd: 6_100_000,
		GoldAvgVol: 150, BtcAvgVol: 300, Collector: "0xfee",
	})
	require.NoError(t, err)
	require.Len(t, plan.Commands, 2)

	call := plan.Commands[0]
	assert.Equal(t, "finalize_round", call.Function)
	assert.Len(t, call.Arguments, 10)

	tr := plan.Commands[1]
	assert.Equal(t, chain.CmdTransferObjects, tr.Kind)
	assert.Equal(t, []chain.Argument{chain.Result(0)}, tr.Sources)
	collector, _ := chain.PureAddress("0xfee")
	assert.Equal(t, collector.Pure, plan.Inputs[tr.Recipient.Index].Pure)
}

func TestFinalizeRound_InvalidCollector(t *testing.T) {
	_, err := testBuilder().FinalizeRound(FinalizeParams{Sender: "0xadmin", PoolID: pool, Collector: "nope"})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestAdminPlans(t *testing.T) {
	b := testBuilder()

	plan, err := b.CreatePool(CreatePoolParams{Sender: "0xadmin", RoundNumber: 7, LockTimeMs: 1000, EndTimeMs: 2000})
	require.NoError(t, err)
	assert.Equal(t, "create_pool", plan.Commands[0].Function)
	assert.Equal(t, "0xad", plan.Inputs[0].ObjectID)

	_, err = b.CreatePool(CreatePoolParams{Sender: "0xadmin", LockTimeMs: 2000, EndTimeMs: 2000})
	assert.Error(t, err)

	plan, err = b.LockPool("0xadmin", pool)
	require.NoError(t, err)
	last := plan.Inputs[len(plan.Inputs)-1]
	assert.Equal(t, chain.ClockObjectID, last.ObjectID)
	assert.False(t, last.Mutable)

	plan, err = b.MintReward(MintParams{Sender: "0xadmin", Recipient: user, Amount: 5})
	require.NoError(t, err)
	assert.Equal(t, "reward_token", plan.Commands[0].Module)
	assert.Empty(t, plan.Commands[0].TypeArguments)
}

func TestClaimPayout(t *testing.T) {
	plan, err := testBuilder().ClaimPayout(ClaimParams{Sender: user, PoolID: pool, SettlementID: "0x5e"})
	require.NoError(t, err)
	require.Len(t, plan.Commands, 2)
	assert.Equal(t, "claim_payout", plan.Commands[0].Function)
	assert.Equal(t, chain.CmdTransferObjects, plan.Commands[1].Kind)
}
