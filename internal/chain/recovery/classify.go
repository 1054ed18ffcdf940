// Package recovery reúne o que as submissões de usuário e de admin
// compartilham: classificação de falhas, retry com backoff fixo e a
// confirmação por polling do digest.
package recovery

import (
	"context"
	"errors"
	"strings"

	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

// assinaturas conhecidas de falhas passageiras no texto do erro
var (
	rateLimitSignatures = []string{"429", "rate limit", "too many requests", "request limit"}
	timeoutSignatures   = []string{"timeout", "timed out", "deadline exceeded", "etimedout", "econnreset", "connection reset"}
	serverSignatures    = []string{"500", "502", "503", "504", "bad gateway", "service unavailable", "gateway timeout", "internal server error"}
)

// Classify devolve a categoria da falha de submissão e se ela é passageira.
// rate_limit e timeout são sempre passageiros; rpc só quando o texto indica 5xx.
func Classify(err error) (apperr.Category, bool) {
	if err == nil {
		return apperr.CategoryNone, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.CategoryTimeout, true
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, rateLimitSignatures):
		return apperr.CategoryRateLimit, true
	case containsAny(msg, timeoutSignatures):
		return apperr.CategoryTimeout, true
	case containsAny(msg, serverSignatures):
		return apperr.CategoryRPC, true
	default:
		return apperr.CategoryRPC, false
	}
}

// SubmitError reclassifica um erro de transporte como SUI_EXECUTE_FAILED
// com a categoria preenchida.
func SubmitError(err error) *apperr.Error {
	cat, _ := Classify(err)
	return apperr.Wrap(apperr.ExecuteFailed, err, "submit transaction").WithCategory(cat)
}

// RPCError estrutura falhas de build ou leitura no full node, que não são
// rejeição do dry run. Erros que já têm código passam intactos.
func RPCError(err error, format string, args ...any) error {
	if apperr.CodeOf(err) != "" {
		return err
	}
	cat, _ := Classify(err)
	return apperr.Wrap(apperr.ExecuteFailed, err, format, args...).WithCategory(cat)
}

// IsTransient informa se um erro já estruturado pode ser tentado de novo.
func IsTransient(err error) bool {
	if !apperr.Is(err, apperr.ExecuteFailed) {
		return false
	}
	switch apperr.CategoryOf(err) {
	case apperr.CategoryRateLimit, apperr.CategoryTimeout:
		return true
	case apperr.CategoryRPC:
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Err != nil {
			_, transient := Classify(ae.Err)
			return transient
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
