package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Settlement agrupa as métricas da camada de coordenação com a chain.
// Métodos aceitam receiver nil (testes e ferramentas sem Prometheus).
type Settlement struct {
	submissions  *prometheus.CounterVec
	retries      *prometheus.CounterVec
	confirmPolls *prometheus.CounterVec
	confirmTime  prometheus.Histogram
	nonces       *prometheus.CounterVec
	transitions  *prometheus.CounterVec
}

// NewSettlement cria e registra as métricas no registerer informado
func NewSettlement(reg prometheus.Registerer) *Settlement {
	m := &Settlement{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_chain_submissions_total",
			Help: "submissões à chain por operação e resultado",
		}, []string{"op", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_chain_retries_total",
			Help: "novas tentativas de submissão por operação e categoria",
		}, []string{"op", "category"}),
		confirmPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_confirm_polls_total",
			Help: "consultas de confirmação por resultado",
		}, []string{"result"}),
		confirmTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_confirm_seconds",
			Help:    "tempo até a confirmação on-chain",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5},
		}),
		nonces: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_nonce_consume_total",
			Help: "consumo de nonce por resultado",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_round_transitions_total",
			Help: "transições de rodada efetivadas",
		}, []string{"from", "to"}),
	}
	reg.MustRegister(m.submissions, m.retries, m.confirmPolls, m.confirmTime, m.nonces, m.transitions)
	return m
}

func (m *Settlement) Submission(op, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(op, outcome).Inc()
}

func (m *Settlement) Retry(op, category string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op, category).Inc()
}

func (m *Settlement) ConfirmPoll(result string) {
	if m == nil {
		return
	}
	m.confirmPolls.WithLabelValues(result).Inc()
}

func (m *Settlement) ConfirmDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.confirmTime.Observe(d.Seconds())
}

func (m *Settlement) NonceConsumed(result string) {
	if m == nil {
		return
	}
	m.nonces.WithLabelValues(result).Inc()
}

func (m *Settlement) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}
