// Package api expõe o protocolo prepare/execute, a consulta de apostas e
// rodadas, as rotas administrativas e o feed WebSocket das rodadas.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
	"github.com/radieske/pricebet-settlement/internal/sponsor"
)

type Sponsor interface {
	Prepare(ctx context.Context, req sponsor.PrepareRequest) (*sponsor.Prepared, error)
	Execute(ctx context.Context, req sponsor.ExecuteRequest) (*sponsor.Executed, error)
}

type Rounds interface {
	FindRound(ctx context.Context, id string) (*round.Round, error)
	ListActiveRounds(ctx context.Context) ([]*round.Round, error)
}

// Lifecycle são as entradas da máquina de rodadas (round.Machine)
type Lifecycle interface {
	Schedule(ctx context.Context, req round.ScheduleRequest) (*round.Round, error)
	Open(ctx context.Context, id string, start round.PriceSnapshot) (*round.Round, error)
	Lock(ctx context.Context, id string) (*round.Round, error)
	Finalize(ctx context.Context, id string, end round.EndSnapshot) (*round.Round, error)
	Cancel(ctx context.Context, id, reason string) (*round.Round, error)
}

type Prices interface {
	Start(ctx context.Context) (round.PriceSnapshot, error)
	End(ctx context.Context) (round.EndSnapshot, error)
}

type Rewards interface {
	MintReward(ctx context.Context, recipient string, amount decimal.Decimal) (string, error)
}

type BetEvents interface {
	PublishBetExecuted(ctx context.Context, b *round.Bet, digest string) error
	PublishBetExecutedDLQ(ctx context.Context, b *round.Bet, digest, reason string) error
}

// Deps agrupa os colaboradores do servidor. Prices, Rewards, Events e Feed
// são opcionais.
type Deps struct {
	Sponsor    Sponsor
	Bets       round.BetRepository
	Rounds     Rounds
	Lifecycle  Lifecycle
	Prices     Prices
	Rewards    Rewards
	Events     BetEvents
	Feed       http.Handler // GET /ws/rounds
	AdminToken string       // vazio desliga a checagem
}

type Server struct {
	log *zap.Logger
	d   Deps
}

func NewServer(log *zap.Logger, d Deps) *Server {
	return &Server{log: log.Named("api"), d: d}
}

// Router retorna o roteador HTTP com todas as rotas
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/bets", s.placeBet)
		r.Get("/bets/{id}", s.getBet)
		r.Post("/bets/{id}/execute", s.executeBet)

		r.Post("/claims/prepare", s.prepareClaim)
		r.Post("/claims/execute", s.executeClaim)

		r.Get("/rounds", s.listRounds)
		r.Get("/rounds/{id}", s.getRound)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/rounds", s.scheduleRound)
			r.Post("/rounds/{id}/open", s.openRound)
			r.Post("/rounds/{id}/lock", s.lockRound)
			r.Post("/rounds/{id}/finalize", s.finalizeRound)
			r.Post("/rounds/{id}/cancel", s.cancelRound)
			r.Post("/rewards", s.mintReward)
		})
	})

	if s.d.Feed != nil {
		r.Get("/ws/rounds", s.d.Feed.ServeHTTP)
	}
	return r
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.d.AdminToken != "" {
			got := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.d.AdminToken)) != 1 {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: "UNAUTHORIZED", Message: "admin token required"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// decode lê o corpo JSON; optional aceita corpo vazio
func decode(r *http.Request, dst any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		return apperr.New(apperr.InvalidInput, "bad json: %v", err)
	}
	return nil
}

// fail registra erros inesperados e responde no formato padrão
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if StatusOf(err) >= http.StatusInternalServerError {
		s.log.Warn("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("code", string(apperr.CodeOf(err))),
			zap.Error(err))
	}
	writeError(w, err)
}
