package roundfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/events"
	"github.com/radieske/pricebet-settlement/internal/round"
)

// RedisBroadcaster publica as transições no canal Pub/Sub lido pelas
// instâncias da API que mantêm conexões WebSocket
type RedisBroadcaster struct {
	r       *redis.Client
	channel string
	log     *zap.Logger
	Now     func() time.Time
}

func NewRedisBroadcaster(r *redis.Client, channel string, log *zap.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{r: r, channel: channel, log: log.Named("roundfeed"), Now: time.Now}
}

var _ round.Notifier = (*RedisBroadcaster)(nil)

func (b *RedisBroadcaster) RoundTransitioned(ctx context.Context, r *round.Round, from, to round.Status, reason string) {
	payload, err := json.Marshal(RoundUpdate{
		RoundID: r.ID,
		Payload: events.RoundEvent(r, from, to, reason, b.Now()),
	})
	if err != nil {
		b.log.Warn("marshal round update", zap.Error(err))
		return
	}
	if err := b.r.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.log.Warn("redis publish failed", zap.String("round_id", r.ID), zap.Error(err))
	}
}

// StartRedisSubscriber confirma a inscrição no canal e repassa, numa
// goroutine, cada atualização recebida ao hub até o contexto encerrar
func StartRedisSubscriber(ctx context.Context, r *redis.Client, channel string, hub *Hub, log *zap.Logger) error {
	sub := r.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var upd RoundUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
					log.Warn("round feed unmarshal", zap.Error(err))
					continue
				}
				hub.Broadcast(upd)
			}
		}
	}()
	return nil
}
