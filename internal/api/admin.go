package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

func (s *Server) scheduleRound(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRoundRequest
	if err := decode(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	rd, err := s.d.Lifecycle.Schedule(r.Context(), round.ScheduleRequest{
		RoundNumber: req.RoundNumber,
		Type:        req.Type,
		StartTime:   req.StartTime,
		LockTime:    req.LockTime,
		EndTime:     req.EndTime,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, roundView(rd))
}

func (s *Server) openRound(w http.ResponseWriter, r *http.Request) {
	var req OpenRoundRequest
	if err := decode(r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}
	var start round.PriceSnapshot
	switch {
	case req.GoldPrice != nil && req.BtcPrice != nil:
		start = round.PriceSnapshot{Gold: *req.GoldPrice, Btc: *req.BtcPrice}
	case req.GoldPrice != nil || req.BtcPrice != nil:
		s.fail(w, r, apperr.New(apperr.InvalidInput, "goldPrice and btcPrice must be sent together"))
		return
	case s.d.Prices != nil:
		snap, err := s.d.Prices.Start(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		start = snap
	}
	s.respondRound(w, r)(s.d.Lifecycle.Open(r.Context(), chi.URLParam(r, "id"), start))
}

func (s *Server) lockRound(w http.ResponseWriter, r *http.Request) {
	s.respondRound(w, r)(s.d.Lifecycle.Lock(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) finalizeRound(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRoundRequest
	if err := decode(r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}
	fields := []*float64{req.GoldEnd, req.BtcEnd, req.GoldAvgVol, req.BtcAvgVol}
	set := 0
	for _, f := range fields {
		if f != nil {
			set++
		}
	}

	var end round.EndSnapshot
	switch {
	case set == len(fields):
		end = round.EndSnapshot{GoldEnd: *req.GoldEnd, BtcEnd: *req.BtcEnd, GoldAvgVol: *req.GoldAvgVol, BtcAvgVol: *req.BtcAvgVol}
	case set > 0:
		s.fail(w, r, apperr.New(apperr.InvalidInput, "goldEnd, btcEnd, goldAvgVol and btcAvgVol must be sent together"))
		return
	case s.d.Prices != nil:
		snap, err := s.d.Prices.End(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		end = snap
	}
	s.respondRound(w, r)(s.d.Lifecycle.Finalize(r.Context(), chi.URLParam(r, "id"), end))
}

func (s *Server) cancelRound(w http.ResponseWriter, r *http.Request) {
	var req CancelRoundRequest
	if err := decode(r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "admin"
	}
	s.respondRound(w, r)(s.d.Lifecycle.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason))
}

func (s *Server) respondRound(w http.ResponseWriter, r *http.Request) func(*round.Round, error) {
	return func(rd *round.Round, err error) {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, roundView(rd))
	}
}

func (s *Server) mintReward(w http.ResponseWriter, r *http.Request) {
	if s.d.Rewards == nil {
		s.fail(w, r, apperr.New(apperr.EnvMissing, "reward minting is not configured"))
		return
	}
	var req MintRewardRequest
	if err := decode(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || req.Recipient == "" {
		s.fail(w, r, apperr.New(apperr.InvalidInput, "recipient and a decimal amount are required"))
		return
	}
	digest, err := s.d.Rewards.MintReward(r.Context(), req.Recipient, amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExecutedResponse{Digest: digest})
}
