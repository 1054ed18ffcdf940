// Package txbuilder monta as transações programáveis (não assinadas) do
// pool de previsão. Todas as funções são puras: não fazem I/O.
package txbuilder

import (
	"sort"

	"github.com/radieske/pricebet-settlement/internal/chain"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

// Prediction é o lado apostado, no formato esperado pelo contrato.
type Prediction uint8

const (
	PredictGold Prediction = 1
	PredictBTC  Prediction = 2
)

// Config identifica o pacote Move e os objetos de capacidade.
type Config struct {
	PackageID     string
	PoolModule    string // ex: "prediction_pool"
	RewardModule  string // ex: "reward_token"
	CoinType      string // tipo genérico do pool, ex: "0x2::sui::SUI"
	AdminCapID    string
	TreasuryCapID string
}

type Builder struct {
	cfg Config
}

func New(cfg Config) *Builder {
	if cfg.PoolModule == "" {
		cfg.PoolModule = "prediction_pool"
	}
	if cfg.RewardModule == "" {
		cfg.RewardModule = "reward_token"
	}
	if cfg.CoinType == "" {
		cfg.CoinType = chain.SuiCoinType
	}
	return &Builder{cfg: cfg}
}

type PlaceBetParams struct {
	Sender     string
	PoolID     string
	Prediction Prediction
	CoinIDs    []string // primeira moeda é a principal
	Amount     uint64
}

// PlaceBet funde as moedas do usuário na primeira, separa o valor exato e
// chama place_bet. A fusão precisa vir antes do split: o split usa o saldo
// da moeda principal já somado ao das demais.
func (b *Builder) PlaceBet(p PlaceBetParams) (chain.Plan, error) {
	if p.Sender == "" || p.PoolID == "" {
		return chain.Plan{}, apperr.New(apperr.InvalidInput, "sender and pool are required")
	}
	if p.Prediction != PredictGold && p.Prediction != PredictBTC {
		return chain.Plan{}, apperr.New(apperr.InvalidInput, "invalid prediction %d", p.Prediction)
	}
	if len(p.CoinIDs) == 0 {
		return chain.Plan{}, apperr.New(apperr.InvalidInput, "at least one coin is required")
	}
	if p.Amount == 0 {
		return chain.Plan{}, apperr.New(apperr.InvalidInput, "amount must be positive")
	}

	plan := chain.Plan{Sender: p.Sender}
	pool := add(&plan, chain.SharedObject(p.PoolID, true))
	pred := add(&plan, chain.PureU8(uint8(p.Prediction)))
	coins := make([]chain.Argument, 0, len(p.CoinIDs))
	for _, id := range p.CoinIDs {
		if id == "" {
			return chain.Plan{}, apperr.New(apperr.InvalidInput, "empty coin id")
		}
		coins = append(coins, add(&plan, chain.OwnedObject(id)))
	}
	amount := add(&plan, chain.PureU64(p.Amount))
	clock := add(&plan, chain.SharedObject(chain.ClockObjectID, false))

	primary := coins[0]
	if len(coins) > 1 {
		plan.Commands = append(plan.Commands, chain.Command{
			Kind:    chain.CmdMergeCoins,
			Coin:    primary,
			Sources: coins[1:],
		})
	}
	split := cmd(&plan, chain.Command{
		Kind:    chain.CmdSplitCoins,
		Coin:    primary,
		Sources: []chain.Argument{amount},
	})
	plan.Commands = append(plan.Commands, b.call(b.cfg.PoolModule, "place_bet",
		pool, chain.NestedResult(split, 0), pred, clock))
	return plan, nil
}

type ClaimParams struct {
	Sender       string
	PoolID       string
	SettlementID string
}

// ClaimPayout resgata o prêmio e transfere a moeda devolvida ao próprio usuário.
func (b *Builder) ClaimPayout(p ClaimParams) (chain.Plan, error) {
	if p.Sender == "" || p.PoolID == "" || p.SettlementID == "" {
		return chain.Plan{}, apperr.New(apperr.InvalidInput, "sender, pool and settlement are required")
	}
	recipient, err := chain.PureAddress(p.Sender)
	if err != nil {
		return chain.Plan{}, apperr.Wrap(apperr.InvalidInput, err, "sender")
	}
	plan := chain.Plan{Sender: p.Sender}
	pool := add(&plan, chain.SharedObject(p.PoolID, true))
	settlement := add(&plan, chain.SharedObject(p.SettlementID, false))
	clock := add(&plan, chain.SharedObject(chain.ClockObjectID, false))
	to := add(&plan, recipient)

	payout := cmd(&plan, b.call(b.cfg.PoolModule, "claim_payout", pool, settlement, clock))
	plan.Commands = append(plan.Commands, transfer(chain.Result(payout), to))
	return plan, nil
}

type CreatePoolParams struct {
	Sender      string
	RoundNumber uint64
	LockTimeMs  uint64
	EndTimeMs   uint64
}

func (b *Builder) CreatePool(p CreatePoolParams) (chain.Plan, error) {
	if p.Sender == "" || b.cfg.AdminCapID == "" {
		return chain.Plan{}, apperr.New(apperr.InvalidInput, "sender and admin cap are required")
	}
	if p.EndTimeMs <= p.LockTimeMs {
		return chain.Plan{}, apperr.New(apperr.InvalidInput, "end time must be after lock time")
	}
	plan := chain.Plan{Sender: p.Sender}
	adminCap := add(&plan, chain.OwnedObject(b.cfg.AdminCapID))
	round := add(&plan, chain.PureU64(p.RoundNumber))
	lock := add(&plan, chain.PureU64(p.LockTimeMs))
	end := add(&plan, chain.PureU64(p.EndTimeMs))
	clock := add(&plan, chain.SharedObject(chain.ClockObjectID, false))
	plan.Commands = append(plan.Commands, b.call(b.cfg.PoolModule, "create_pool", adminCap, round, lock, end, clock))
	return plan, nil
}

// LockPool recebe o relógio como dependência explícita: o contrato valida
// lock_time contra o timestamp on-chain.
func (b *Builder) LockPool(sender, poolID string) (chain.Plan, error) {
	if sender == "" || poolID == "" || b.cfg.AdminCapID == "" {
		return chain.Plan{}, apperr.New(apperr.InvalidInput, "sender, pool and admin cap are required")
	}
	plan := chain.Plan{Sender: sender}
	adminCap := add(&plan, chain.OwnedObject(b.cfg.AdminCapID))
	pool := add(&plan, chain.SharedObject(poolID, true))
	clock := add(&plan, chain.SharedObject(chain.ClockObjectID, false))
	plan.Commands = append(plan.Commands, b.call(b.cfg.PoolModule, "lock_pool", adminCap, pool, clock))
	return plan, nil
}

// FinalizeParams carrega valores já escalados para inteiros.
type FinalizeParams struct {
	Sender     string
	PoolID     string
	GoldStart  uint64
	GoldEnd    uint64
	BtcStart   uint64
	BtcEnd     uint64
	GoldAvgVol uint64
	BtcAvgVol  uint64
	IsFallback bool
	Collector  string
}

// FinalizeRound cria o Settlement on-chain e, na mesma transação, transfere a
// moeda de taxa devolvida pela chamada para o coletor.
func (b *Builder) FinalizeRound(p FinalizeParams) (chain.Plan, error) {
	if p.Sender == "" || p.PoolID == "" || b.cfg.AdminCapID == "" {
		return chain.Plan{}, apperr.New(apperr.InvalidInput, "sender, pool and admin cap are required")
	}
	collector, err := chain.PureAddress(p.Collector)
	if err != nil {
		return chain.Plan{}, apperr.Wrap(apperr.InvalidInput, err, "fee collector")
	}
	plan := chain.Plan{Sender: p.Sender}
	args := []chain.Argument{
		add(&plan, chain.OwnedObject(b.cfg.AdminCapID)),
		add(&plan, chain.SharedObject(p.PoolID, true)),
		add(&plan, chain.PureU64(p.GoldStart)),
		add(&plan, chain.PureU64(p.GoldEnd)),
		add(&plan, chain.PureU64(p.BtcStart)),
		add(&plan, chain.PureU64(p.BtcEnd)),
		add(&plan, chain.PureU64(p.GoldAvgVol)),
		add(&plan, chain.PureU64(p.BtcAvgVol)),
		add(&plan, chain.PureBool(p.IsFallback)),
		add(&plan, chain.SharedObject(chain.ClockObjectID, false)),
	}
	to := add(&plan, collector)
	fee := cmd(&plan, b.call(b.cfg.PoolModule, "finalize_round", args...))
	plan.Commands = append(plan.Commands, transfer(chain.Result(fee), to))
	return plan, nil
}

type MintParams struct {
	Sender    string
	Recipient string
	Amount    uint64 // já na unidade base
}

func (b *Builder) MintReward(p MintParams) (chain.Plan, error) {
	if p.Sender == "" || b.cfg.TreasuryCapID == "" {
		return chain.Plan{}, apperr.New(apperr.InvalidInput, "sender and treasury cap are required")
	}
	if p.Amount == 0 {
		return chain.Plan{}, apperr.New(apperr.InvalidInput, "amount must be positive")
	}
	recipient, err := chain.PureAddress(p.Recipient)
	if err != nil {
		return chain.Plan{}, apperr.Wrap(apperr.InvalidInput, err, "recipient")
	}
	plan := chain.Plan{Sender: p.Sender}
	treasury := add(&plan, chain.OwnedObject(b.cfg.TreasuryCapID))
	amount := add(&plan, chain.PureU64(p.Amount))
	to := add(&plan, recipient)
	plan.Commands = append(plan.Commands, chain.Command{
		Kind:      chain.CmdMoveCall,
		Package:   b.cfg.PackageID,
		Module:    b.cfg.RewardModule,
		Function:  "mint",
		Arguments: []chain.Argument{treasury, amount, to},
	})
	return plan, nil
}

// SelectCoins escolhe moedas da maior para a menor até cobrir amount.
// A primeira moeda devolvida é a maior e vira a principal no PlaceBet.
func SelectCoins(coins []chain.Coin, amount uint64) ([]chain.Coin, error) {
	if len(coins) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "no coins available")
	}
	sorted := make([]chain.Coin, len(coins))
	copy(sorted, coins)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Balance > sorted[j].Balance })

	var total uint64
	for i, c := range sorted {
		total += c.Balance
		if total >= amount {
			return sorted[:i+1], nil
		}
	}
	return nil, apperr.New(apperr.InvalidInput, "insufficient balance: have %d, need %d", total, amount)
}

func (b *Builder) call(module, function string, args ...chain.Argument) chain.Command {
	return chain.Command{
		Kind:          chain.CmdMoveCall,
		Package:       b.cfg.PackageID,
		Module:        module,
		Function:      function,
		TypeArguments: []string{b.cfg.CoinType},
		Arguments:     args,
	}
}

func transfer(obj, to chain.Argument) chain.Command {
	return chain.Command{Kind: chain.CmdTransferObjects, Sources: []chain.Argument{obj}, Recipient: to}
}

// add registra o input e devolve o argumento que o referencia
func add(p *chain.Plan, in chain.PlanInput) chain.Argument {
	p.Inputs = append(p.Inputs, in)
	return chain.Input(uint16(len(p.Inputs) - 1))
}

// cmd registra o comando e devolve seu índice para uso como Result
func cmd(p *chain.Plan, c chain.Command) uint16 {
	p.Commands = append(p.Commands, c)
	return uint16(len(p.Commands) - 1)
}
