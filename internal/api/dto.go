package api

import (
	"time"

	"github.com/radieske/pricebet-settlement/internal/round"
)

type PlaceBetRequest struct {
	RoundID     string   `json:"roundId"`
	UserID      string   `json:"userId"`
	UserAddress string   `json:"userAddress"`
	Prediction  string   `json:"prediction"` // GOLD | BTC
	Amount      int64    `json:"amount"`     // unidades base da moeda apostada
	CoinIDs     []string `json:"coinIds,omitempty"`
}

type PreparedResponse struct {
	BetID     string `json:"betId"`
	TxBytes   string `json:"txBytes"`
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"`
}

type ExecutedResponse struct {
	BetID       string `json:"betId,omitempty"`
	Digest      string `json:"digest"`
	ChainStatus string `json:"chainStatus,omitempty"`
}

type ClaimPrepareRequest struct {
	RoundID     string `json:"roundId"`
	BetID       string `json:"betId"`
	UserID      string `json:"userId"`
	UserAddress string `json:"userAddress"`
}

type ScheduleRoundRequest struct {
	RoundNumber int64     `json:"roundNumber"`
	Type        string    `json:"type"`
	StartTime   time.Time `json:"startTime"`
	LockTime    time.Time `json:"lockTime"`
	EndTime     time.Time `json:"endTime"`
}

// OpenRoundRequest sem preços usa o feed
type OpenRoundRequest struct {
	GoldPrice *float64 `json:"goldPrice,omitempty"`
	BtcPrice  *float64 `json:"btcPrice,omitempty"`
}

// FinalizeRoundRequest sem preços usa o feed
type FinalizeRoundRequest struct {
	GoldEnd    *float64 `json:"goldEnd,omitempty"`
	BtcEnd     *float64 `json:"btcEnd,omitempty"`
	GoldAvgVol *float64 `json:"goldAvgVol,omitempty"`
	BtcAvgVol  *float64 `json:"btcAvgVol,omitempty"`
}

type CancelRoundRequest struct {
	Reason string `json:"reason"`
}

type MintRewardRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"` // decimal, ex: "1.5"
}

type ErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
	Digest   string `json:"digest,omitempty"`
}

type BetResponse struct {
	BetID            string `json:"betId"`
	RoundID          string `json:"roundId"`
	UserID           string `json:"userId"`
	Prediction       string `json:"prediction"`
	Amount           int64  `json:"amount"`
	ChainStatus      string `json:"chainStatus"`
	ResultStatus     string `json:"resultStatus"`
	SettlementStatus string `json:"settlementStatus"`
	SuiTxHash        string `json:"suiTxHash,omitempty"`
	PayoutAmount     int64  `json:"payoutAmount"`
}

func betView(b *round.Bet) BetResponse {
	return BetResponse{
		BetID:            b.ID,
		RoundID:          b.RoundID,
		UserID:           b.UserID,
		Prediction:       string(b.Prediction),
		Amount:           b.Amount,
		ChainStatus:      string(b.ChainStatus),
		ResultStatus:     string(b.ResultStatus),
		SettlementStatus: string(b.SettlementStatus),
		SuiTxHash:        b.SuiTxHash,
		PayoutAmount:     b.PayoutAmount,
	}
}

type RoundResponse struct {
	ID                   string     `json:"id"`
	RoundNumber          int64      `json:"roundNumber"`
	Type                 string     `json:"type"`
	Status               string     `json:"status"`
	StartTime            time.Time  `json:"startTime"`
	LockTime             time.Time  `json:"lockTime"`
	EndTime              time.Time  `json:"endTime"`
	TotalPool            int64      `json:"totalPool"`
	TotalGoldBets        int64      `json:"totalGoldBets"`
	TotalBtcBets         int64      `json:"totalBtcBets"`
	TotalBetsCount       int64      `json:"totalBetsCount"`
	GoldStartPrice       *float64   `json:"goldStartPrice,omitempty"`
	BtcStartPrice        *float64   `json:"btcStartPrice,omitempty"`
	GoldEndPrice         *float64   `json:"goldEndPrice,omitempty"`
	BtcEndPrice          *float64   `json:"btcEndPrice,omitempty"`
	EndPriceFallback     bool       `json:"endPriceFallback"`
	Winner               string     `json:"winner,omitempty"`
	IsVoid               bool       `json:"isVoid"`
	VoidReason           string     `json:"voidReason,omitempty"`
	PayoutPool           int64      `json:"payoutPool"`
	PayoutRatio          string     `json:"payoutRatio"`
	PlatformFeeCollected int64      `json:"platformFeeCollected"`
	PoolID               string     `json:"poolId,omitempty"`
	SettlementID         string     `json:"settlementId,omitempty"`
	SettledAt            *time.Time `json:"settledAt,omitempty"`
}

func roundView(r *round.Round) RoundResponse {
	return RoundResponse{
		ID:                   r.ID,
		RoundNumber:          r.RoundNumber,
		Type:                 r.Type,
		Status:               string(r.Status),
		StartTime:            r.StartTime,
		LockTime:             r.LockTime,
		EndTime:              r.EndTime,
		TotalPool:            r.TotalPool,
		TotalGoldBets:        r.TotalGoldBets,
		TotalBtcBets:         r.TotalBtcBets,
		TotalBetsCount:       r.TotalBetsCount,
		GoldStartPrice:       r.GoldStartPrice,
		BtcStartPrice:        r.BtcStartPrice,
		GoldEndPrice:         r.GoldEndPrice,
		BtcEndPrice:          r.BtcEndPrice,
		EndPriceFallback:     r.EndPriceFallback,
		Winner:               string(r.Winner),
		IsVoid:               r.IsVoid,
		VoidReason:           r.VoidReason,
		PayoutPool:           r.PayoutPool,
		PayoutRatio:          r.PayoutRatio.String(),
		PlatformFeeCollected: r.PlatformFeeCollected,
		PoolID:               r.PoolID,
		SettlementID:         r.SettlementID,
		SettledAt:            r.SettledAt,
	}
}
