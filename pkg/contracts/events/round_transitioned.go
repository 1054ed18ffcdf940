package events

import "time"

// Evento publicado no tópico "round_lifecycle" a cada transição confirmada.
type RoundTransitioned struct {
	RoundID     string    `json:"round_id"`
	RoundNumber int64     `json:"round_number"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	PoolID      string    `json:"pool_id,omitempty"`
	Winner      string    `json:"winner,omitempty"`
	PayoutPool  int64     `json:"payout_pool,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Ts          time.Time `json:"ts"`
}
