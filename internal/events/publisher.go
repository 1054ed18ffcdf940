// Package events publica no Kafka as transições de rodada e as execuções de
// aposta confirmadas on-chain.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/shared/kafka"
	ev "github.com/radieske/pricebet-settlement/pkg/contracts/events"
)

// KafkaPublisher encapsula os writers dos tópicos de rodada e de apostas.
// Writers nil desligam o tópico correspondente.
type KafkaPublisher struct {
	lifecycle kafka.MessageWriter
	executed  kafka.MessageWriter
	dlq       kafka.MessageWriter
	log       *zap.Logger
	Now       func() time.Time
}

func NewKafkaPublisher(lifecycle, executed, dlq kafka.MessageWriter, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		lifecycle: lifecycle,
		executed:  executed,
		dlq:       dlq,
		log:       log.Named("events"),
		Now:       time.Now,
	}
}

var _ round.Notifier = (*KafkaPublisher)(nil)

// RoundEvent monta o payload publicado para uma transição
func RoundEvent(r *round.Round, from, to round.Status, reason string, at time.Time) ev.RoundTransitioned {
	e := ev.RoundTransitioned{
		RoundID:     r.ID,
		RoundNumber: r.RoundNumber,
		From:        string(from),
		To:          string(to),
		PoolID:      r.PoolID,
		Reason:      reason,
		Ts:          at.UTC(),
	}
	if to == round.Settled || to == round.Voided || to == round.Calculating {
		e.Winner = string(r.Winner)
		e.PayoutPool = r.PayoutPool
	}
	return e
}

// RoundTransitioned publica no tópico de ciclo de vida com a chave do round.
// Falha de publicação não desfaz a transição: só é registrada.
func (p *KafkaPublisher) RoundTransitioned(ctx context.Context, r *round.Round, from, to round.Status, reason string) {
	if p.lifecycle == nil {
		return
	}
	e := RoundEvent(r, from, to, reason, p.Now())
	if err := kafka.WriteJSON(ctx, p.lifecycle, r.ID, e); err != nil {
		p.log.Error("failed to publish round transition",
			zap.String("round_id", r.ID), zap.String("to", string(to)), zap.Error(err))
		return
	}
	p.log.Debug("published round transition", zap.String("round_id", r.ID), zap.String("to", string(to)))
}

func betEvent(b *round.Bet, digest string, at time.Time) ev.BetExecuted {
	return ev.BetExecuted{
		BetID:    b.ID,
		UserID:   b.UserID,
		RoundID:  b.RoundID,
		Amount:   b.Amount,
		Digest:   digest,
		TsUnixMs: at.UnixMilli(),
	}
}

// PublishBetExecuted avisa que a aposta foi registrada depois da execução on-chain
func (p *KafkaPublisher) PublishBetExecuted(ctx context.Context, b *round.Bet, digest string) error {
	if p.executed == nil {
		return nil
	}
	return kafka.WriteJSON(ctx, p.executed, b.ID, betEvent(b, digest, p.Now()))
}

// PublishBetExecutedDLQ envia para a DLQ uma execução aceita pela chain cujo
// registro off-chain falhou
func (p *KafkaPublisher) PublishBetExecutedDLQ(ctx context.Context, b *round.Bet, digest, reason string) error {
	if p.dlq == nil {
		p.log.Warn("bet execution dlq disabled", zap.String("bet_id", b.ID), zap.String("digest", digest))
		return nil
	}
	e := betEvent(b, digest, p.Now())
	e.Reason = reason
	return kafka.WriteJSON(ctx, p.dlq, b.ID, e)
}
