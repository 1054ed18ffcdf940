// Package chain define a fronteira com o ledger Sui: a descrição de transação
// não assinada (Plan), os resultados observáveis e a interface Gateway.
package chain

import (
	"context"
	"errors"
)

// SuiCoinType é o tipo da moeda nativa usada para pagar gás.
const SuiCoinType = "0x2::sui::SUI"

// ClockObjectID é o objeto compartilhado de relógio do Sui.
const ClockObjectID = "0x6"

// ErrTxNotFound indica que o full node ainda não conhece o digest.
var ErrTxNotFound = errors.New("transaction not found")

// Gateway abstrai as chamadas ao ledger. Implementações devem ser seguras
// para uso concorrente.
type Gateway interface {
	// Build serializa o plano em bytes de TransactionData de forma determinística.
	Build(ctx context.Context, plan Plan, gas GasPayment) ([]byte, error)
	// Simulate executa dry run; nunca altera estado.
	Simulate(ctx context.Context, txBytes []byte) (*SimulationResult, error)
	// Submit envia a transação com as assinaturas (usuário e/ou sponsor).
	Submit(ctx context.Context, txBytes []byte, signatures []string) (*SubmitResult, error)
	// FetchByDigest busca a transação confirmada; ErrTxNotFound se ausente.
	FetchByDigest(ctx context.Context, digest string) (*TxRecord, error)
	// ListCoins lista moedas do tipo informado pertencentes a owner.
	ListCoins(ctx context.Context, owner, coinType string) ([]Coin, error)
}

// Signer é a identidade que assina transações (o sponsor).
type Signer interface {
	Address() string
	SignTransaction(txBytes []byte) (string, error)
}

// Coin é uma referência a um objeto Coin<T> com saldo.
type Coin struct {
	ID      string
	Version uint64
	Digest  string
	Balance uint64
}

// GasPayment descreve quem paga o gás e com quais moedas.
type GasPayment struct {
	Owner  string
	Coins  []Coin
	Budget uint64
}

type SimulationResult struct {
	Success bool
	Error   string
}

type SubmitResult struct {
	Digest string
}

// TxStatus é o status de efeitos reportado pelo ledger.
type TxStatus string

const (
	TxSuccess TxStatus = "success"
	TxFailure TxStatus = "failure"
)

// TxRecord é a visão confirmada de uma transação.
type TxRecord struct {
	Digest        string
	Status        TxStatus
	Error         string
	Events        []Event
	ObjectChanges []ObjectChange
}

type Event struct {
	Type       string
	ParsedJSON map[string]any
}

type ObjectChange struct {
	Type       string // created | mutated | transferred | deleted ...
	ObjectID   string
	ObjectType string
}
