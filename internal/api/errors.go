package api

import (
	"encoding/json"
	"net/http"

	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusOf traduz o código do erro para o status HTTP
func StatusOf(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.InvalidInput, apperr.BetInvalid, apperr.RoundDataInvalid:
		return http.StatusBadRequest
	case apperr.InvalidNonce, apperr.TxMismatch, apperr.NonceExpired, apperr.BetMismatch, apperr.UserMismatch:
		return http.StatusConflict
	case apperr.RoundTimeOverlap, apperr.RoundInvalidTransition, apperr.BetRoundClosed:
		return http.StatusConflict
	case apperr.RoundNotFound, apperr.BetNotFound:
		return http.StatusNotFound
	case apperr.RoundNotDue:
		return http.StatusTooEarly
	case apperr.RoundDataMissing, apperr.DryRunFailed:
		return http.StatusUnprocessableEntity
	case apperr.EnvMissing, apperr.NoGasCoins, apperr.NonceStoreFailed:
		return http.StatusServiceUnavailable
	case apperr.ExecuteFailed:
		switch apperr.CategoryOf(err) {
		case apperr.CategoryRateLimit:
			return http.StatusTooManyRequests
		case apperr.CategoryTimeout:
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case apperr.TxNotFound:
		return http.StatusGatewayTimeout
	case apperr.ParseFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorBody(err error) ErrorResponse {
	code := apperr.CodeOf(err)
	if code == "" {
		return ErrorResponse{Code: "INTERNAL", Message: "internal error"}
	}
	return ErrorResponse{Code: string(code), Message: err.Error(), Category: string(apperr.CategoryOf(err))}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusOf(err), errorBody(err))
}
