// Package reconcile consome a DLQ de execuções de aposta e refaz o registro
// off-chain de transações que a chain aceitou mas a API não conseguiu gravar.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/chain"
	"github.com/radieske/pricebet-settlement/internal/chain/recovery"
	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
	"github.com/radieske/pricebet-settlement/internal/shared/kafka"
	ev "github.com/radieske/pricebet-settlement/pkg/contracts/events"
)

// Resultados reportados em OnResult
const (
	ResultConfirmed     = "confirmed"
	ResultFailedOnChain = "failed_on_chain"
	ResultInvalid       = "invalid"
	ResultUnresolved    = "unresolved"
	// a chain aceitou a aposta depois que a rodada entrou em CALCULATING;
	// a mensagem vai para o tópico de revisão manual
	ResultManualReview = "manual_review"
)

// ConfirmFunc faz o polling do digest na chain (sponsor.Service.EnsureOnChain)
type ConfirmFunc func(ctx context.Context, digest string) (*chain.TxRecord, error)

type Bets interface {
	ConfirmBetExecuted(ctx context.Context, betID, digest string) (*round.Bet, error)
	RecordBetDigest(ctx context.Context, betID, digest string) error
}

type Publisher interface {
	PublishBetExecuted(ctx context.Context, b *round.Bet, digest string) error
}

// Worker processa uma mensagem por vez e só faz commit depois de decidir o
// destino dela. Falhas transitórias são repetidas no lugar até Attempts.
type Worker struct {
	Log     *zap.Logger
	Reader  kafka.MessageReader
	Confirm ConfirmFunc
	Bets    Bets
	Events  Publisher           // opcional
	Parked  kafka.MessageWriter // tópico de revisão manual; nil só loga

	Attempts int
	Backoff  time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error

	OnResult func(result string) // métricas
}

// Run consome até o contexto encerrar
func (w *Worker) Run(ctx context.Context) error {
	for {
		m, err := kafka.ReadNext(ctx, w.Reader)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.Log.Warn("kafka read failed", zap.Error(err))
			if serr := w.sleep(ctx, 500*time.Millisecond); serr != nil {
				return serr
			}
			continue
		}

		result := w.Handle(ctx, m)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.OnResult != nil {
			w.OnResult(result)
		}
		if err := w.Reader.CommitMessages(ctx, m); err != nil {
			w.Log.Warn("kafka commit failed", zap.Error(err))
		}
	}
}

// Handle decide o destino de uma mensagem da DLQ
func (w *Worker) Handle(ctx context.Context, m kafkago.Message) string {
	var e ev.BetExecuted
	if err := json.Unmarshal(m.Value, &e); err != nil || e.BetID == "" || e.Digest == "" {
		w.Log.Warn("invalid dlq message", zap.ByteString("key", m.Key), zap.Error(err))
		return ResultInvalid
	}
	log := w.Log.With(zap.String("bet_id", e.BetID), zap.String("digest", e.Digest))

	// o digest na aposta segura a liquidação da rodada enquanto reconciliamos
	if err := w.Bets.RecordBetDigest(ctx, e.BetID, e.Digest); err != nil {
		log.Warn("record bet digest", zap.Error(err))
	}

	attempts := w.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := w.sleep(ctx, w.Backoff*time.Duration(i)); err != nil {
				return ResultUnresolved
			}
		}
		bet, err := w.reconcile(ctx, e)
		if err == nil {
			log.Info("bet execution reconciled", zap.Int("attempt", i+1))
			if w.Events != nil {
				if perr := w.Events.PublishBetExecuted(ctx, bet, e.Digest); perr != nil {
					log.Warn("publish bet executed", zap.Error(perr))
				}
			}
			return ResultConfirmed
		}
		if errors.Is(err, errFailedOnChain) {
			log.Warn("transaction failed on chain; bet stays pending", zap.Error(err))
			return ResultFailedOnChain
		}
		if apperr.Is(err, apperr.BetNotFound) {
			log.Error("bet referenced by dlq does not exist", zap.Error(err))
			return ResultInvalid
		}
		if apperr.Is(err, apperr.BetRoundClosed) {
			log.Error("bet executed on chain after round closed; parked for manual review", zap.Error(err))
			w.park(ctx, m, err, log)
			return ResultManualReview
		}
		lastErr = err
		log.Warn("reconcile attempt failed", zap.Int("attempt", i+1), zap.Error(err))
	}
	log.Error("bet execution left unresolved", zap.Error(lastErr))
	return ResultUnresolved
}

var errFailedOnChain = errors.New("transaction failed on chain")

func (w *Worker) reconcile(ctx context.Context, e ev.BetExecuted) (*round.Bet, error) {
	rec, err := w.Confirm(ctx, e.Digest)
	if err != nil {
		if apperr.Is(err, apperr.ExecuteFailed) {
			return nil, errors.Join(errFailedOnChain, err)
		}
		return nil, err
	}
	if rec.Status != chain.TxSuccess {
		return nil, errFailedOnChain
	}
	return w.Bets.ConfirmBetExecuted(ctx, e.BetID, e.Digest)
}

// park copia a mensagem para o tópico de revisão manual, com o motivo no header
func (w *Worker) park(ctx context.Context, m kafkago.Message, reason error, log *zap.Logger) {
	if w.Parked == nil {
		return
	}
	parked := kafkago.Message{
		Key:     m.Key,
		Value:   m.Value,
		Headers: []kafkago.Header{{Key: "reason", Value: []byte(reason.Error())}},
		Time:    time.Now(),
	}
	attempts := max(w.Attempts, 1)
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := w.sleep(ctx, w.Backoff*time.Duration(i)); err != nil {
				break
			}
		}
		err := w.Parked.WriteMessages(ctx, parked)
		if err == nil {
			return
		}
		log.Warn("park message failed", zap.Int("attempt", i+1), zap.Error(err))
	}
	log.Error("manual review message not parked", zap.ByteString("value", m.Value))
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	if w.Sleep != nil {
		return w.Sleep(ctx, d)
	}
	return recovery.SleepContext(ctx, d)
}
