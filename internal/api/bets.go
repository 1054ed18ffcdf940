package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/chain/txbuilder"
	"github.com/radieske/pricebet-settlement/internal/payout"
	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
	"github.com/radieske/pricebet-settlement/internal/sponsor"
)

func prediction(side payout.Side) txbuilder.Prediction {
	if side == payout.BTC {
		return txbuilder.PredictBTC
	}
	return txbuilder.PredictGold
}

// placeBet cria a aposta PENDING e devolve a transação preparada para o
// usuário assinar
func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if err := decode(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	side := payout.Side(req.Prediction)
	if req.RoundID == "" || req.UserID == "" || req.UserAddress == "" || !side.Valid() || req.Amount <= 0 {
		s.fail(w, r, apperr.New(apperr.InvalidInput, "roundId, userId, userAddress, prediction (GOLD|BTC) and a positive amount are required"))
		return
	}

	rd, err := s.d.Rounds.FindRound(r.Context(), req.RoundID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rd.Status != round.BettingOpen || rd.PoolID == "" {
		s.fail(w, r, apperr.New(apperr.BetInvalid, "round %s is %s, not open for betting", rd.ID, rd.Status))
		return
	}

	bet := &round.Bet{RoundID: rd.ID, UserID: req.UserID, Prediction: side, Amount: req.Amount}
	if err := s.d.Bets.CreatePendingBet(r.Context(), bet); err != nil {
		s.fail(w, r, err)
		return
	}

	prep, err := s.d.Sponsor.Prepare(r.Context(), sponsor.PrepareRequest{
		Intent:      sponsor.IntentPlaceBet,
		UserAddress: req.UserAddress,
		PoolID:      rd.PoolID,
		Prediction:  prediction(side),
		CoinIDs:     req.CoinIDs,
		Amount:      uint64(req.Amount),
		BetID:       bet.ID,
		UserID:      req.UserID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PreparedResponse{
		BetID:     bet.ID,
		TxBytes:   prep.TxBytes,
		Nonce:     prep.Nonce,
		ExpiresAt: prep.ExpiresAt,
	})
}

func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	b, err := s.d.Bets.FindBet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, betView(b))
}

// executeBet submete a aposta assinada e grava o resultado. Se a chain aceitou
// mas o registro off-chain falhou, o digest vai para a DLQ de reconciliação.
func (s *Server) executeBet(w http.ResponseWriter, r *http.Request) {
	var req sponsor.ExecuteRequest
	if err := decode(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	req.BetID = chi.URLParam(r, "id")

	bet, err := s.d.Bets.FindBet(r.Context(), req.BetID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ex, err := s.d.Sponsor.Execute(r.Context(), req)
	if err != nil {
		if ex != nil && ex.Digest != "" {
			s.recordDigest(r, bet, ex.Digest)
			s.deadLetter(r, bet, ex.Digest, "unconfirmed: "+err.Error())
			body := errorBody(err)
			body.Digest = ex.Digest
			writeJSON(w, StatusOf(err), body)
			return
		}
		s.fail(w, r, err)
		return
	}

	recorded, err := s.d.Bets.ConfirmBetExecuted(r.Context(), bet.ID, ex.Digest)
	if apperr.Is(err, apperr.BetRoundClosed) {
		s.log.Error("bet executed on chain after round closed",
			zap.String("bet_id", bet.ID), zap.String("digest", ex.Digest), zap.Error(err))
		s.deadLetter(r, bet, ex.Digest, err.Error())
		body := errorBody(err)
		body.Digest = ex.Digest
		writeJSON(w, StatusOf(err), body)
		return
	}
	if err != nil {
		s.recordDigest(r, bet, ex.Digest)
		s.log.Error("bet executed on chain but not recorded",
			zap.String("bet_id", bet.ID), zap.String("digest", ex.Digest), zap.Error(err))
		s.deadLetter(r, bet, ex.Digest, err.Error())
		writeJSON(w, http.StatusAccepted, ExecutedResponse{BetID: bet.ID, Digest: ex.Digest, ChainStatus: "RECONCILING"})
		return
	}

	if s.d.Events != nil {
		if err := s.d.Events.PublishBetExecuted(r.Context(), recorded, ex.Digest); err != nil {
			s.log.Warn("publish bet executed", zap.String("bet_id", bet.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, ExecutedResponse{BetID: bet.ID, Digest: ex.Digest, ChainStatus: string(recorded.ChainStatus)})
}

// recordDigest anota o digest na aposta pendente; a liquidação da rodada espera
// por ele enquanto a DLQ não resolve
func (s *Server) recordDigest(r *http.Request, bet *round.Bet, digest string) {
	if err := s.d.Bets.RecordBetDigest(r.Context(), bet.ID, digest); err != nil {
		s.log.Warn("record bet digest", zap.String("bet_id", bet.ID), zap.String("digest", digest), zap.Error(err))
	}
}

func (s *Server) deadLetter(r *http.Request, bet *round.Bet, digest, reason string) {
	if s.d.Events == nil {
		return
	}
	if err := s.d.Events.PublishBetExecutedDLQ(r.Context(), bet, digest, reason); err != nil {
		s.log.Error("bet execution dlq publish failed",
			zap.String("bet_id", bet.ID), zap.String("digest", digest), zap.Error(err))
	}
}

// prepareClaim prepara o resgate de uma aposta vencedora ou reembolsada
func (s *Server) prepareClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimPrepareRequest
	if err := decode(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.RoundID == "" || req.BetID == "" || req.UserID == "" || req.UserAddress == "" {
		s.fail(w, r, apperr.New(apperr.InvalidInput, "roundId, betId, userId and userAddress are required"))
		return
	}

	rd, err := s.d.Rounds.FindRound(r.Context(), req.RoundID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if (rd.Status != round.Settled && rd.Status != round.Voided) || rd.SettlementID == "" {
		s.fail(w, r, apperr.New(apperr.BetInvalid, "round %s is not settled", rd.ID))
		return
	}
	bet, err := s.d.Bets.FindBet(r.Context(), req.BetID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if bet.RoundID != rd.ID || bet.UserID != req.UserID {
		s.fail(w, r, apperr.New(apperr.BetInvalid, "bet %s does not belong to this user and round", bet.ID))
		return
	}
	if bet.ResultStatus != round.ResultWon && bet.ResultStatus != round.ResultRefunded {
		s.fail(w, r, apperr.New(apperr.BetInvalid, "bet %s has nothing to claim (%s)", bet.ID, bet.ResultStatus))
		return
	}

	prep, err := s.d.Sponsor.Prepare(r.Context(), sponsor.PrepareRequest{
		Intent:       sponsor.IntentClaim,
		UserAddress:  req.UserAddress,
		PoolID:       rd.PoolID,
		SettlementID: rd.SettlementID,
		BetID:        bet.ID,
		UserID:       req.UserID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PreparedResponse{BetID: bet.ID, TxBytes: prep.TxBytes, Nonce: prep.Nonce, ExpiresAt: prep.ExpiresAt})
}

func (s *Server) executeClaim(w http.ResponseWriter, r *http.Request) {
	var req sponsor.ExecuteRequest
	if err := decode(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	ex, err := s.d.Sponsor.Execute(r.Context(), req)
	if err != nil {
		body := errorBody(err)
		if ex != nil {
			body.Digest = ex.Digest
		}
		if StatusOf(err) >= http.StatusInternalServerError {
			s.log.Warn("claim execute failed", zap.String("bet_id", req.BetID), zap.Error(err))
		}
		writeJSON(w, StatusOf(err), body)
		return
	}
	s.log.Info("payout claimed", zap.String("bet_id", req.BetID), zap.String("digest", ex.Digest))
	writeJSON(w, http.StatusOK, ExecutedResponse{BetID: req.BetID, Digest: ex.Digest})
}

func (s *Server) listRounds(w http.ResponseWriter, r *http.Request) {
	rs, err := s.d.Rounds.ListActiveRounds(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]RoundResponse, 0, len(rs))
	for _, rd := range rs {
		out = append(out, roundView(rd))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getRound(w http.ResponseWriter, r *http.Request) {
	rd, err := s.d.Rounds.FindRound(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roundView(rd))
}
