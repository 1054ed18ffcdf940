package recovery

import (
	"context"
	"time"
)

// Retrier repete uma submissão em falhas passageiras com backoff linear
// fixo (Backoff × tentativa), sem jitter.
type Retrier struct {
	Attempts int
	Backoff  time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
	OnRetry  func(attempt int, err error)
}

// DefaultRetrier: 3 tentativas, 300ms × tentativa.
func DefaultRetrier() Retrier {
	return Retrier{Attempts: 3, Backoff: 300 * time.Millisecond}
}

// Do executa fn até sucesso, erro fatal ou fim do orçamento de tentativas.
func (r Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if r.OnRetry != nil {
				r.OnRetry(i+1, err)
			}
			if serr := sleep(ctx, time.Duration(i)*r.Backoff); serr != nil {
				return err
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
	}
	return err
}

// SleepContext dorme d ou até o contexto ser cancelado.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
