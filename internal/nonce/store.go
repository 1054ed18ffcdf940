// Package nonce guarda os registros de transações preparadas. Cada nonce é
// escrito uma vez e lido uma vez: o consumo é atômico (GETDEL) e é o único
// ponto de exclusão mútua entre executes concorrentes.
package nonce

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

// ErrNotFound cobre nonce nunca emitido, já consumido ou expirado.
var ErrNotFound = errors.New("nonce not found")

// Record é o formato persistido de uma transação preparada.
type Record struct {
	TxBytesHash string `json:"txBytesHash"` // sha256 hex dos bytes simulados
	ExpiresAt   int64  `json:"expiresAt"`   // epoch ms
	BetID       string `json:"betId"`
	UserID      string `json:"userId"`
}

// Expired compara o prazo absoluto com now.
func (r Record) Expired(now time.Time) bool {
	return now.UnixMilli() >= r.ExpiresAt
}

// Store é o contrato usado pelo serviço de transações patrocinadas.
type Store interface {
	Save(ctx context.Context, nonce string, rec Record, ttl time.Duration) error
	Consume(ctx context.Context, nonce string) (*Record, error)
}

// RedisStore implementa Store sobre Redis
// Prefix: namespace das chaves; o TTL fica a cargo do próprio Redis
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

func NewRedisStore(c *redis.Client) *RedisStore {
	return &RedisStore{Client: c, Prefix: "sponsor:nonce:"}
}

func (s *RedisStore) key(nonce string) string { return s.Prefix + nonce }

// Save grava o registro com expiração. Falha do Redis é fatal para o prepare
// (nenhum retry nesta camada).
func (s *RedisStore) Save(ctx context.Context, nonce string, rec Record, ttl time.Duration) error {
	if nonce == "" {
		return apperr.New(apperr.InvalidInput, "empty nonce")
	}
	if ttl <= 0 {
		return apperr.New(apperr.InvalidInput, "nonce ttl must be positive")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return apperr.Wrap(apperr.NonceStoreFailed, err, "encode nonce record")
	}
	// NX: um nonce nunca é sobrescrito
	ok, err := s.Client.SetNX(ctx, s.key(nonce), b, ttl).Result()
	if err != nil {
		return apperr.Wrap(apperr.NonceStoreFailed, err, "save nonce")
	}
	if !ok {
		return apperr.New(apperr.NonceStoreFailed, "nonce already exists")
	}
	return nil
}

// Consume lê e apaga a chave numa única operação.
func (s *RedisStore) Consume(ctx context.Context, nonce string) (*Record, error) {
	if nonce == "" {
		return nil, ErrNotFound
	}
	b, err := s.Client.GetDel(ctx, s.key(nonce)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.NonceStoreFailed, err, "consume nonce")
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, apperr.Wrap(apperr.NonceStoreFailed, err, "decode nonce record")
	}
	return &rec, nil
}
