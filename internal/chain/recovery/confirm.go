package recovery

import (
	"context"
	"time"

	"github.com/radieske/pricebet-settlement/internal/chain"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

// Confirmer faz polling do digest até achar a transação confirmada.
type Confirmer struct {
	Attempts int
	Delay    time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
	// OnPoll recebe "success", "failure" ou "pending" a cada consulta.
	OnPoll func(result string)
}

// DefaultConfirmer: 3 consultas com 1s de intervalo.
func DefaultConfirmer() Confirmer {
	return Confirmer{Attempts: 3, Delay: time.Second}
}

// EnsureOnChain devolve o registro confirmado. Status failure é definitivo e
// não é repetido; ausência (inclusive erro de transporte na consulta) é
// repetida até esgotar as tentativas, resultando em SUI_TX_NOT_FOUND.
func (c Confirmer) EnsureOnChain(ctx context.Context, gw chain.Gateway, digest string) (*chain.TxRecord, error) {
	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := c.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, c.Delay); err != nil {
				break
			}
		}
		rec, err := gw.FetchByDigest(ctx, digest)
		if err != nil {
			lastErr = err
			c.poll("pending")
			continue
		}
		switch rec.Status {
		case chain.TxSuccess:
			c.poll("success")
			return rec, nil
		case chain.TxFailure:
			c.poll("failure")
			return nil, apperr.New(apperr.ExecuteFailed, "transaction %s failed on chain: %s", digest, rec.Error)
		default:
			c.poll("pending")
		}
	}
	return nil, apperr.Wrap(apperr.TxNotFound, lastErr, "transaction %s not confirmed after %d attempts", digest, attempts)
}

func (c Confirmer) poll(result string) {
	if c.OnPoll != nil {
		c.OnPoll(result)
	}
}
