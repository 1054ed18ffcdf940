package admin

import (
	"strings"

	"github.com/radieske/pricebet-settlement/internal/chain"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

// structName devolve o nome do struct de um tipo Move, sem pacote nem genéricos.
func structName(typ string) string {
	if i := strings.Index(typ, "<"); i >= 0 {
		typ = typ[:i]
	}
	if i := strings.LastIndex(typ, "::"); i >= 0 {
		return typ[i+2:]
	}
	return typ
}

func isCoin(typ string) bool {
	return strings.Contains(typ, "::coin::Coin<")
}

func created(rec *chain.TxRecord, match func(objectType string) bool) string {
	for _, oc := range rec.ObjectChanges {
		if oc.Type == "created" && match(oc.ObjectType) {
			return oc.ObjectID
		}
	}
	return ""
}

func eventField(rec *chain.TxRecord, eventName, field string) string {
	for _, e := range rec.Events {
		if structName(e.Type) != eventName {
			continue
		}
		if v, ok := e.ParsedJSON[field].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// ParsePoolID procura o pool no evento PoolCreated e, na falta dele, entre os
// objetos criados.
func ParsePoolID(rec *chain.TxRecord) (string, error) {
	if id := eventField(rec, "PoolCreated", "pool_id"); id != "" {
		return id, nil
	}
	if id := created(rec, func(t string) bool { return structName(t) == "Pool" }); id != "" {
		return id, nil
	}
	return "", apperr.New(apperr.ParseFailed, "transaction %s created no pool", rec.Digest)
}

// ParseSettlement exige o Settlement e a moeda de taxa criados pelo finalize.
func ParseSettlement(rec *chain.TxRecord) (settlementID, feeCoinID string, err error) {
	settlementID = eventField(rec, "RoundFinalized", "settlement_id")
	if settlementID == "" {
		settlementID = created(rec, func(t string) bool { return structName(t) == "Settlement" })
	}
	if settlementID == "" {
		return "", "", apperr.New(apperr.ParseFailed, "transaction %s created no settlement", rec.Digest)
	}
	feeCoinID = created(rec, isCoin)
	if feeCoinID == "" {
		return "", "", apperr.New(apperr.ParseFailed, "transaction %s created no fee coin", rec.Digest)
	}
	return settlementID, feeCoinID, nil
}
