package round

import (
	"fmt"

	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

// Event dispara uma transição.
type Event string

const (
	EventOpen      Event = "open"
	EventCancel    Event = "cancel"
	EventLock      Event = "lock"
	EventCalculate Event = "calculate"
	EventSettle    Event = "settle"
	EventVoid      Event = "void"
)

// Transition é uma linha da tabela: From + Event -> To.
type Transition struct {
	From  Status
	Event Event
	To    Status
}

// DefaultTransitions são as únicas transições legais de uma rodada.
func DefaultTransitions() []Transition {
	return []Transition{
		{Scheduled, EventOpen, BettingOpen},
		{Scheduled, EventCancel, Cancelled},
		{BettingOpen, EventLock, BettingLocked},
		{BettingLocked, EventCalculate, Calculating},
		{Calculating, EventSettle, Settled},
		{Calculating, EventVoid, Voided},
	}
}

type tableKey struct {
	from  Status
	event Event
}

// Table é a tabela de transições já validada.
type Table struct {
	next map[tableKey]Status
}

// NewTable valida a tabela: estados conhecidos, sem duplicatas, nada sai de
// estado terminal, nada volta para SCHEDULED, todo estado não terminal tem
// saída e todo estado é alcançável a partir de SCHEDULED.
func NewTable(rows []Transition) (*Table, error) {
	t := &Table{next: make(map[tableKey]Status, len(rows))}
	outgoing := map[Status]int{}
	for _, row := range rows {
		if !row.From.Valid() || !row.To.Valid() {
			return nil, fmt.Errorf("transition %s -%s-> %s: unknown status", row.From, row.Event, row.To)
		}
		if row.Event == "" {
			return nil, fmt.Errorf("transition %s -> %s: empty event", row.From, row.To)
		}
		if row.From.Terminal() {
			return nil, fmt.Errorf("transition out of terminal status %s", row.From)
		}
		if row.To == Scheduled {
			return nil, fmt.Errorf("transition %s -%s-> back to %s", row.From, row.Event, Scheduled)
		}
		k := tableKey{row.From, row.Event}
		if _, dup := t.next[k]; dup {
			return nil, fmt.Errorf("duplicate transition %s -%s->", row.From, row.Event)
		}
		t.next[k] = row.To
		outgoing[row.From]++
	}

	for s := range statusRank {
		if !s.Terminal() && outgoing[s] == 0 {
			return nil, fmt.Errorf("status %s has no outgoing transition", s)
		}
	}
	reached := map[Status]bool{Scheduled: true}
	queue := []Status{Scheduled}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for k, to := range t.next {
			if k.from == cur && !reached[to] {
				reached[to] = true
				queue = append(queue, to)
			}
		}
	}
	for s := range statusRank {
		if !reached[s] {
			return nil, fmt.Errorf("status %s is unreachable", s)
		}
	}
	return t, nil
}

// MustDefaultTable é usada na montagem da máquina; a tabela padrão é válida.
func MustDefaultTable() *Table {
	t, err := NewTable(DefaultTransitions())
	if err != nil {
		panic(err)
	}
	return t
}

// Next devolve o destino ou ROUND_INVALID_TRANSITION.
func (t *Table) Next(from Status, ev Event) (Status, error) {
	to, ok := t.next[tableKey{from, ev}]
	if !ok {
		return "", apperr.New(apperr.RoundInvalidTransition, "event %q is not allowed from %s", ev, from)
	}
	return to, nil
}

// Allowed indica se o evento é aceito a partir de from.
func (t *Table) Allowed(from Status, ev Event) bool {
	_, ok := t.next[tableKey{from, ev}]
	return ok
}
