package roundfeed

import ev "github.com/radieske/pricebet-settlement/pkg/contracts/events"

// AllRounds é a assinatura que recebe atualizações de qualquer rodada
const AllRounds = "*"

// ClientMsg é uma mensagem recebida do cliente WebSocket.
// Type: subscribe | unsubscribe | ping; RoundID vazio equivale a AllRounds.
type ClientMsg struct {
	Type    string `json:"type"`
	RoundID string `json:"roundId"`
}

// RoundUpdate é o que trafega no canal Redis e é repassado aos clientes
type RoundUpdate struct {
	RoundID string               `json:"roundId"`
	Payload ev.RoundTransitioned `json:"payload"`
}
