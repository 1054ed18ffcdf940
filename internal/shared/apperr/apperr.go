// Package apperr define o erro estruturado (código + mensagem + categoria)
// compartilhado por todas as camadas de liquidação.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifica a classe do erro exposta ao chamador.
type Code string

const (
	EnvMissing       Code = "ENV_MISSING"
	NoGasCoins       Code = "NO_GAS_COINS"
	DryRunFailed     Code = "SUI_DRY_RUN_FAILED"
	InvalidNonce     Code = "INVALID_NONCE"
	TxMismatch       Code = "TX_MISMATCH"
	NonceExpired     Code = "NONCE_EXPIRED"
	BetMismatch      Code = "BET_MISMATCH"
	UserMismatch     Code = "USER_MISMATCH"
	ExecuteFailed    Code = "SUI_EXECUTE_FAILED"
	TxNotFound       Code = "SUI_TX_NOT_FOUND"
	ParseFailed      Code = "SUI_PARSE_FAILED"
	RoundDataMissing Code = "ROUND_DATA_MISSING"
	RoundDataInvalid Code = "ROUND_DATA_INVALID"
	RoundTimeOverlap Code = "ROUND_TIME_OVERLAP"

	RoundNotFound          Code = "ROUND_NOT_FOUND"
	RoundNotDue            Code = "ROUND_NOT_DUE"
	RoundInvalidTransition Code = "ROUND_INVALID_TRANSITION"
	BetNotFound            Code = "BET_NOT_FOUND"
	BetInvalid             Code = "BET_INVALID"
	BetRoundClosed         Code = "BET_ROUND_CLOSED"
	InvalidInput           Code = "INVALID_INPUT"
	NonceStoreFailed       Code = "NONCE_STORE_FAILED"
)

// Category classifica falhas de transporte na submissão à chain.
type Category string

const (
	CategoryNone      Category = ""
	CategoryRateLimit Category = "rate_limit"
	CategoryTimeout   Category = "timeout"
	CategoryRPC       Category = "rpc"
)

// Error é o erro estruturado devolvido por serviços e handlers.
type Error struct {
	Code     Code
	Message  string
	Category Category
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.Category != CategoryNone {
		msg += " (" + string(e.Category) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New cria um erro sem causa.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap anexa a causa original ao erro estruturado.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithCategory devolve uma cópia com a categoria informada.
func (e *Error) WithCategory(c Category) *Error {
	cp := *e
	cp.Category = c
	return &cp
}

// CodeOf retorna o código do primeiro *Error na cadeia, ou "" se não houver.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// CategoryOf retorna a categoria do primeiro *Error na cadeia.
func CategoryOf(err error) Category {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Category
	}
	return CategoryNone
}

func Is(err error, code Code) bool { return CodeOf(err) == code }
