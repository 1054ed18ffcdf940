// Package chaintest traz um Gateway em memória para testes dos serviços.
package chaintest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/radieske/pricebet-settlement/internal/chain"
)

// Gateway é um ledger falso. Build serializa o plano em JSON (determinístico);
// Submit registra a transação como confirmada, salvo quando SubmitErr/ConfirmStatus
// mandam o contrário.
type Gateway struct {
	mu sync.Mutex

	Coins map[string][]chain.Coin // owner -> moedas (qualquer tipo)
	// CoinsErr faz ListCoins falhar para o owner
	CoinsErr map[string]error
	BuildErr error

	SimulateResult *chain.SimulationResult
	SimulateErr    error
	// SubmitErrs é consumido em ordem, um erro por chamada de Submit.
	SubmitErrs    []error
	SubmitNoHash  bool
	ConfirmStatus chain.TxStatus
	ConfirmError  string
	// NotFoundPolls faz FetchByDigest devolver ErrTxNotFound nas primeiras N consultas.
	NotFoundPolls int
	// Changes/Events devolvidos para cada digest confirmado.
	ObjectChanges []chain.ObjectChange
	Events        []chain.Event

	Builds      int
	Simulations int
	Submits     int
	Fetches     int
	Submitted   [][]string // assinaturas por submissão
	Plans       []chain.Plan

	txs map[string]*chain.TxRecord
}

func New() *Gateway {
	return &Gateway{
		Coins: map[string][]chain.Coin{},
		txs:   map[string]*chain.TxRecord{},
	}
}

type builtTx struct {
	Plan chain.Plan       `json:"plan"`
	Gas  chain.GasPayment `json:"gas"`
}

func (g *Gateway) Build(_ context.Context, plan chain.Plan, gas chain.GasPayment) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Builds++
	g.Plans = append(g.Plans, plan)
	if g.BuildErr != nil {
		return nil, g.BuildErr
	}
	return json.Marshal(builtTx{Plan: plan, Gas: gas})
}

func (g *Gateway) Simulate(_ context.Context, _ []byte) (*chain.SimulationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Simulations++
	if g.SimulateErr != nil {
		return nil, g.SimulateErr
	}
	if g.SimulateResult != nil {
		return g.SimulateResult, nil
	}
	return &chain.SimulationResult{Success: true}, nil
}

func (g *Gateway) Submit(_ context.Context, _ []byte, signatures []string) (*chain.SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Submits++
	if len(g.SubmitErrs) > 0 {
		err := g.SubmitErrs[0]
		g.SubmitErrs = g.SubmitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	g.Submitted = append(g.Submitted, signatures)
	if g.SubmitNoHash {
		return &chain.SubmitResult{}, nil
	}
	digest := fmt.Sprintf("digest-%d", g.Submits)
	status := g.ConfirmStatus
	if status == "" {
		status = chain.TxSuccess
	}
	g.txs[digest] = &chain.TxRecord{
		Digest:        digest,
		Status:        status,
		Error:         g.ConfirmError,
		Events:        g.Events,
		ObjectChanges: g.ObjectChanges,
	}
	return &chain.SubmitResult{Digest: digest}, nil
}

func (g *Gateway) FetchByDigest(_ context.Context, digest string) (*chain.TxRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Fetches++
	if g.NotFoundPolls > 0 {
		g.NotFoundPolls--
		return nil, chain.ErrTxNotFound
	}
	rec, ok := g.txs[digest]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	cp := *rec
	return &cp, nil
}

func (g *Gateway) ListCoins(_ context.Context, owner, _ string) ([]chain.Coin, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.CoinsErr[owner]; err != nil {
		return nil, err
	}
	return append([]chain.Coin(nil), g.Coins[owner]...), nil
}

// PutTx registra diretamente uma transação confirmada (cenários de recuperação).
func (g *Gateway) PutTx(rec chain.TxRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.txs[rec.Digest] = &rec
}

// Signer assina com um texto fixo prefixado pelo endereço.
type Signer struct {
	Addr string
	Err  error
}

func (s Signer) Address() string { return s.Addr }

func (s Signer) SignTransaction(txBytes []byte) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return fmt.Sprintf("sig:%s:%d", s.Addr, len(txBytes)), nil
}
