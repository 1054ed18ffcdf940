// Package sponsor implementa o protocolo em duas fases (prepare / execute)
// das transações de usuário com gás pago pelo sponsor.
package sponsor

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/chain"
	"github.com/radieske/pricebet-settlement/internal/chain/recovery"
	"github.com/radieske/pricebet-settlement/internal/chain/txbuilder"
	"github.com/radieske/pricebet-settlement/internal/nonce"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
	"github.com/radieske/pricebet-settlement/internal/shared/logger"
	"github.com/radieske/pricebet-settlement/internal/shared/metrics"
)

// Intent é a ação do usuário que está sendo patrocinada.
type Intent string

const (
	IntentPlaceBet Intent = "place_bet"
	IntentClaim    Intent = "claim_payout"
)

const opSponsored = "sponsored"

type Config struct {
	CoinType      string // moeda apostada
	GasBudget     uint64
	MinGasBalance uint64
	NonceTTL      time.Duration
}

type PrepareRequest struct {
	Intent       Intent
	UserAddress  string
	PoolID       string
	Prediction   txbuilder.Prediction
	CoinIDs      []string // vazio => seleção automática entre as moedas do usuário
	Amount       uint64
	SettlementID string // apenas claim
	BetID        string
	UserID       string
}

type Prepared struct {
	TxBytes   string `json:"txBytes"` // base64
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"` // epoch ms
}

type ExecuteRequest struct {
	TxBytes       string `json:"txBytes"`
	UserSignature string `json:"userSignature"`
	Nonce         string `json:"nonce"`
	BetID         string `json:"betId"`
	UserID        string `json:"userId"`
}

type Executed struct {
	Digest string
	Record *chain.TxRecord
}

type Service struct {
	gw        chain.Gateway
	signer    chain.Signer
	nonces    nonce.Store
	builder   *txbuilder.Builder
	cfg       Config
	confirmer recovery.Confirmer
	metrics   *metrics.Settlement
	log       *zap.Logger

	// Now é trocado nos testes
	Now func() time.Time
}

// New monta o serviço. signer nil é aceito: prepare e execute falham com
// ENV_MISSING até a chave ser configurada.
func New(gw chain.Gateway, signer chain.Signer, nonces nonce.Store, builder *txbuilder.Builder, cfg Config, m *metrics.Settlement, log *zap.Logger) *Service {
	if cfg.CoinType == "" {
		cfg.CoinType = chain.SuiCoinType
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 60 * time.Second
	}
	confirmer := recovery.DefaultConfirmer()
	confirmer.OnPoll = m.ConfirmPoll
	return &Service{
		gw:        gw,
		signer:    signer,
		nonces:    nonces,
		builder:   builder,
		cfg:       cfg,
		confirmer: confirmer,
		metrics:   m,
		log:       logger.OrNop(log),
		Now:       time.Now,
	}
}

// WithConfirmer troca a política de confirmação (testes e worker de reconciliação).
func (s *Service) WithConfirmer(c recovery.Confirmer) *Service {
	if c.OnPoll == nil {
		c.OnPoll = s.metrics.ConfirmPoll
	}
	s.confirmer = c
	return s
}

// Prepare monta, simula e registra a transação; o nonce só é emitido depois
// de um dry run bem-sucedido.
func (s *Service) Prepare(ctx context.Context, req PrepareRequest) (*Prepared, error) {
	if s.signer == nil {
		return nil, apperr.New(apperr.EnvMissing, "sponsor signing key is not configured")
	}
	if req.BetID == "" || req.UserID == "" {
		return nil, apperr.New(apperr.InvalidInput, "betId and userId are required")
	}

	plan, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	gas, err := chain.SelectGas(ctx, s.gw, s.signer.Address(), s.cfg.GasBudget, s.cfg.MinGasBalance)
	if err != nil {
		return nil, err
	}

	txBytes, err := s.gw.Build(ctx, plan, gas)
	if err != nil {
		return nil, recovery.RPCError(err, "build transaction")
	}

	sim, err := s.gw.Simulate(ctx, txBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.DryRunFailed, err, "dry run")
	}
	if !sim.Success {
		return nil, apperr.New(apperr.DryRunFailed, "dry run failed: %s", sim.Error)
	}

	n := uuid.NewString()
	expiresAt := s.Now().Add(s.cfg.NonceTTL).UnixMilli()
	rec := nonce.Record{
		TxBytesHash: hashBytes(txBytes),
		ExpiresAt:   expiresAt,
		BetID:       req.BetID,
		UserID:      req.UserID,
	}
	if err := s.nonces.Save(ctx, n, rec, s.cfg.NonceTTL); err != nil {
		return nil, err
	}

	s.log.Info("transaction prepared",
		zap.String("intent", string(req.Intent)),
		zap.String("bet_id", req.BetID),
		zap.String("user_id", req.UserID),
		zap.Int("tx_bytes", len(txBytes)),
	)
	return &Prepared{
		TxBytes:   base64.StdEncoding.EncodeToString(txBytes),
		Nonce:     n,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) plan(ctx context.Context, req PrepareRequest) (chain.Plan, error) {
	switch req.Intent {
	case IntentPlaceBet, "":
		coinIDs := req.CoinIDs
		if len(coinIDs) == 0 {
			ids, err := s.userCoins(ctx, req.UserAddress, req.Amount)
			if err != nil {
				return chain.Plan{}, err
			}
			coinIDs = ids
		}
		return s.builder.PlaceBet(txbuilder.PlaceBetParams{
			Sender:     req.UserAddress,
			PoolID:     req.PoolID,
			Prediction: req.Prediction,
			CoinIDs:    coinIDs,
			Amount:     req.Amount,
		})
	case IntentClaim:
		return s.builder.ClaimPayout(txbuilder.ClaimParams{
			Sender:       req.UserAddress,
			PoolID:       req.PoolID,
			SettlementID: req.SettlementID,
		})
	default:
		return chain.Plan{}, apperr.New(apperr.InvalidInput, "unknown intent %q", req.Intent)
	}
}

func (s *Service) userCoins(ctx context.Context, owner string, amount uint64) ([]string, error) {
	if owner == "" {
		return nil, apperr.New(apperr.InvalidInput, "user address is required")
	}
	coins, err := s.gw.ListCoins(ctx, owner, s.cfg.CoinType)
	if err != nil {
		return nil, recovery.RPCError(err, "list user coins")
	}
	picked, err := txbuilder.SelectCoins(coins, amount)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(picked))
	for i, c := range picked {
		ids[i] = c.ID
	}
	return ids, nil
}

// Execute valida o nonce e submete uma única vez. Não há retry aqui: o nonce
// já foi consumido e uma segunda submissão dos mesmos bytes não é segura de
// distinguir de um sucesso ainda não observado. Se a submissão foi aceita mas
// a confirmação falhou, o digest volta junto com o erro.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (*Executed, error) {
	if s.signer == nil {
		return nil, apperr.New(apperr.EnvMissing, "sponsor signing key is not configured")
	}
	if req.Nonce == "" || req.UserSignature == "" {
		return nil, apperr.New(apperr.InvalidInput, "nonce and userSignature are required")
	}
	txBytes, err := base64.StdEncoding.DecodeString(req.TxBytes)
	if err != nil || len(txBytes) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "txBytes must be non-empty base64")
	}

	rec, err := s.nonces.Consume(ctx, req.Nonce)
	if errors.Is(err, nonce.ErrNotFound) {
		s.metrics.NonceConsumed("missing")
		return nil, apperr.New(apperr.InvalidNonce, "nonce is unknown, used or expired")
	}
	if err != nil {
		s.metrics.NonceConsumed("error")
		return nil, err
	}

	if hashBytes(txBytes) != rec.TxBytesHash {
		s.metrics.NonceConsumed("tx_mismatch")
		return nil, apperr.New(apperr.TxMismatch, "transaction bytes differ from the prepared transaction")
	}
	if rec.Expired(s.Now()) {
		s.metrics.NonceConsumed("expired")
		return nil, apperr.New(apperr.NonceExpired, "nonce expired at %d", rec.ExpiresAt)
	}
	if rec.BetID != req.BetID {
		s.metrics.NonceConsumed("bet_mismatch")
		return nil, apperr.New(apperr.BetMismatch, "nonce was issued for another bet")
	}
	if rec.UserID != req.UserID {
		s.metrics.NonceConsumed("user_mismatch")
		return nil, apperr.New(apperr.UserMismatch, "nonce was issued for another user")
	}
	s.metrics.NonceConsumed("ok")

	sponsorSig, err := s.signer.SignTransaction(txBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.ExecuteFailed, err, "sponsor signature")
	}

	res, err := s.gw.Submit(ctx, txBytes, []string{req.UserSignature, sponsorSig})
	if err != nil {
		serr := recovery.SubmitError(err)
		s.metrics.Submission(opSponsored, "error")
		s.log.Warn("sponsored submit failed",
			zap.String("bet_id", req.BetID),
			zap.String("category", string(serr.Category)),
			zap.Error(err),
		)
		return nil, serr
	}
	if res == nil || res.Digest == "" {
		s.metrics.Submission(opSponsored, "no_digest")
		return nil, apperr.New(apperr.ExecuteFailed, "submit returned no transaction digest")
	}

	start := s.Now()
	txRec, err := s.confirmer.EnsureOnChain(ctx, s.gw, res.Digest)
	s.metrics.ConfirmDuration(s.Now().Sub(start))
	if err != nil {
		s.metrics.Submission(opSponsored, "unconfirmed")
		s.log.Warn("sponsored transaction not confirmed",
			zap.String("bet_id", req.BetID),
			zap.String("digest", res.Digest),
			zap.Error(err),
		)
		// a chain aceitou a submissão; o digest volta junto para reconciliação
		return &Executed{Digest: res.Digest}, err
	}
	s.metrics.Submission(opSponsored, "ok")
	s.log.Info("sponsored transaction executed",
		zap.String("bet_id", req.BetID),
		zap.String("user_id", req.UserID),
		zap.String("digest", res.Digest),
	)
	return &Executed{Digest: res.Digest, Record: txRec}, nil
}

// EnsureOnChain expõe a confirmação para quem reconcilia um digest já gravado.
func (s *Service) EnsureOnChain(ctx context.Context, digest string) (*chain.TxRecord, error) {
	return s.confirmer.EnsureOnChain(ctx, s.gw, digest)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
