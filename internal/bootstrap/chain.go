// Package bootstrap monta as dependências comuns aos binários: cliente da
// chain, signer do sponsor, builders, máquina de rodadas e publishers.
package bootstrap

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/admin"
	"github.com/radieske/pricebet-settlement/internal/chain"
	"github.com/radieske/pricebet-settlement/internal/chain/recovery"
	"github.com/radieske/pricebet-settlement/internal/chain/suirpc"
	"github.com/radieske/pricebet-settlement/internal/chain/txbuilder"
	"github.com/radieske/pricebet-settlement/internal/events"
	"github.com/radieske/pricebet-settlement/internal/nonce"
	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/shared/config"
	"github.com/radieske/pricebet-settlement/internal/shared/kafka"
	"github.com/radieske/pricebet-settlement/internal/shared/metrics"
	"github.com/radieske/pricebet-settlement/internal/sponsor"
)

// Chain agrupa o acesso à Sui compartilhado pelos serviços
type Chain struct {
	Gateway *suirpc.Client
	Signer  chain.Signer // nil quando a chave não está configurada
	Builder *txbuilder.Builder

	cfg config.Config
	log *zap.Logger
}

// NewChain nunca falha por falta de chave: as operações que precisam dela
// devolvem ENV_MISSING no uso.
func NewChain(cfg config.Config, log *zap.Logger) *Chain {
	c := &Chain{
		Gateway: suirpc.New(cfg.SuiRPCURL, cfg.SuiRPCRPS, log),
		Builder: txbuilder.New(txbuilder.Config{
			PackageID:     cfg.SuiPackageID,
			CoinType:      cfg.SuiBetCoinType,
			AdminCapID:    cfg.SuiAdminCapID,
			TreasuryCapID: cfg.SuiTreasuryCapID,
		}),
		cfg: cfg,
		log: log,
	}

	if cfg.SuiSponsorKey == "" {
		log.Warn("SUI_SPONSOR_PRIVATE_KEY not set; sponsored and admin transactions are disabled")
		return c
	}
	signer, err := suirpc.LoadEd25519Signer(cfg.SuiSponsorKey)
	if err != nil {
		log.Error("invalid sponsor key; sponsored and admin transactions are disabled", zap.Error(err))
		return c
	}
	c.Signer = signer
	log.Info("sponsor signer loaded", zap.String("address", signer.Address()))
	return c
}

func (c *Chain) Confirmer() recovery.Confirmer {
	cf := recovery.DefaultConfirmer()
	if c.cfg.ConfirmAttempts > 0 {
		cf.Attempts = c.cfg.ConfirmAttempts
	}
	if c.cfg.ConfirmDelay > 0 {
		cf.Delay = c.cfg.ConfirmDelay
	}
	return cf
}

func (c *Chain) Sponsor(nonces nonce.Store, m *metrics.Settlement) *sponsor.Service {
	return sponsor.New(c.Gateway, c.Signer, nonces, c.Builder, sponsor.Config{
		CoinType:      c.cfg.SuiBetCoinType,
		GasBudget:     c.cfg.SuiGasBudget,
		MinGasBalance: c.cfg.SuiMinGasBalance,
		NonceTTL:      c.cfg.NonceTTL,
	}, m, c.log.Named("sponsor")).WithConfirmer(c.Confirmer())
}

func (c *Chain) Admin(rec round.Recorder, m *metrics.Settlement) *admin.Operations {
	return admin.New(c.Gateway, c.Signer, c.Builder, rec, admin.Config{
		FeeCollector:   c.cfg.SuiFeeCollector,
		GasBudget:      c.cfg.SuiGasBudget,
		MinGasBalance:  c.cfg.SuiMinGasBalance,
		RewardDecimals: c.cfg.RewardDecimals,
	}, m, c.log).WithRecovery(recovery.DefaultRetrier(), c.Confirmer())
}

// Machine monta a máquina de rodadas sobre o repositório Postgres e as
// operações administrativas on-chain
func Machine(cfg config.Config, repo round.Repository, ops round.ChainOps, n round.Notifier, m *metrics.Settlement, log *zap.Logger) *round.Machine {
	return round.NewMachine(repo, ops, n, round.MachineConfig{
		PlatformFeeRate: cfg.PlatformFeeRate,
		NonceTTL:        cfg.NonceTTL,
		ReconcileGrace:  cfg.ReconcileGrace,
	}, m, log)
}

// Writers são os produtores Kafka de eventos de rodada e de aposta
type Writers struct {
	Lifecycle *kafkago.Writer
	Executed  *kafkago.Writer
	DLQ       *kafkago.Writer
	Manual    *kafkago.Writer // confirmações recusadas, para o operador
}

func NewWriters(cfg config.Config) *Writers {
	return &Writers{
		Lifecycle: kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRoundLifecycle),
		Executed:  kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetExecuted),
		DLQ:       kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetExecutedDLQ),
		Manual:    kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetExecutedManual),
	}
}

func (w *Writers) Publisher(log *zap.Logger) *events.KafkaPublisher {
	return events.NewKafkaPublisher(w.Lifecycle, w.Executed, w.DLQ, log)
}

func (w *Writers) Close() {
	_ = w.Lifecycle.Close()
	_ = w.Executed.Close()
	_ = w.DLQ.Close()
	_ = w.Manual.Close()
}

// EnsureTopics cria os tópicos em ambientes locais; em prod ficam com a infra
func EnsureTopics(ctx context.Context, cfg config.Config, log *zap.Logger) {
	if cfg.Env != "local" && cfg.Env != "dev" {
		return
	}
	err := kafka.EnsureTopics(ctx, cfg.KafkaBrokers, log,
		cfg.TopicRoundLifecycle, cfg.TopicBetExecuted, cfg.TopicBetExecutedDLQ, cfg.TopicBetExecutedManual)
	if err != nil {
		log.Warn("kafka topics not ensured", zap.String("brokers", cfg.KafkaBrokers), zap.Error(err))
	}
}
