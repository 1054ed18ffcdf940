package topics

const (
	// Rodadas
	RoundLifecycle = "round_lifecycle"

	// Apostas
	BetExecuted = "bet_executed"

	// DLQs
	BetExecutedDLQ = "bet_executed_dlq"

	// Revisão manual (confirmação tardia de rodada já liquidada)
	BetExecutedManual = "bet_executed_manual"

	// Redis Pub/Sub
	RoundFeedChannel = "round_status_broadcast"
)
