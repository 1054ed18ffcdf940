package events

// Evento emitido pelo settlement-api após a confirmação on-chain de uma aposta.
// Também é o payload da DLQ quando o registro off-chain falha (reconcile-worker).
type BetExecuted struct {
	BetID    string `json:"bet_id"`
	UserID   string `json:"user_id"`
	RoundID  string `json:"round_id"`
	Amount   int64  `json:"amount"`
	Digest   string `json:"digest"`
	Reason   string `json:"reason,omitempty"` // preenchido apenas na DLQ
	TsUnixMs int64  `json:"ts_unix_ms"`
}
