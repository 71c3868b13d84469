package server

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/FelixGibson/gmx-synthetics/internal/engine"
	"github.com/FelixGibson/gmx-synthetics/internal/errs"
	"github.com/FelixGibson/gmx-synthetics/internal/market"
	"github.com/FelixGibson/gmx-synthetics/internal/observability"
	"github.com/FelixGibson/gmx-synthetics/internal/order"
	"github.com/FelixGibson/gmx-synthetics/internal/position"
	"github.com/FelixGibson/gmx-synthetics/internal/query"
)

type marketView struct {
	ID         string `json:"id"`
	LongToken  string `json:"long_token"`
	ShortToken string `json:"short_token"`
}

type fundingView struct {
	Market          string            `json:"market"`
	FactorPerSecond string            `json:"factor_per_second"`
	Exponent        uint32            `json:"exponent"`
	UpdatedAt       int64             `json:"updated_at"`
	LongIndex       map[string]string `json:"long_index"`
	ShortIndex      map[string]string `json:"short_index"`
}

type borrowingView struct {
	Market           string `json:"market"`
	IsLong           bool   `json:"is_long"`
	FactorPerSecond  string `json:"factor_per_second"`
	CumulativeFactor string `json:"cumulative_factor"`
	UpdatedAt        int64  `json:"updated_at"`
}

type openInterestView struct {
	Market string            `json:"market"`
	Long   map[string]string `json:"long"`
	Short  map[string]string `json:"short"`
}

type positionView struct {
	Account                 string `json:"account"`
	Market                  string `json:"market"`
	CollateralToken         string `json:"collateral_token"`
	IsLong                  bool   `json:"is_long"`
	SizeInUsd               string `json:"size_in_usd"`
	CollateralAmount        string `json:"collateral_amount"`
	FundingFeeAmountPerSize string `json:"funding_fee_amount_per_size"`
	BorrowingFactor         string `json:"borrowing_factor"`
	IncreasedAt             int64  `json:"increased_at"`
	DecreasedAt             int64  `json:"decreased_at"`
}

type orderView struct {
	ID                    string `json:"id"`
	Account               string `json:"account"`
	Market                string `json:"market"`
	CollateralToken       string `json:"collateral_token"`
	IsLong                bool   `json:"is_long"`
	Type                  string `json:"type"`
	Status                string `json:"status"`
	SizeDeltaUsd          string `json:"size_delta_usd"`
	CollateralDeltaAmount string `json:"collateral_delta_amount"`
	TriggerPrice          string `json:"trigger_price"`
	AcceptablePrice       string `json:"acceptable_price"`
	ExecutionFeeAmount    string `json:"execution_fee_amount"`
	FrozenReason          string `json:"frozen_reason,omitempty"`
	CreatedAt             int64  `json:"created_at"`
	UpdatedAt             int64  `json:"updated_at"`
}

type claimableEntry struct {
	Market string `json:"market"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func toPositionView(p *position.Position) positionView {
	return positionView{
		Account:                 p.Account,
		Market:                  p.Market,
		CollateralToken:         p.CollateralToken,
		IsLong:                  p.IsLong,
		SizeInUsd:               p.SizeInUsd.String(),
		CollateralAmount:        p.CollateralAmount.String(),
		FundingFeeAmountPerSize: p.FundingFeeAmountPerSize.String(),
		BorrowingFactor:         p.BorrowingFactor.String(),
		IncreasedAt:             p.IncreasedAt,
		DecreasedAt:             p.DecreasedAt,
	}
}

func toOrderView(o *order.Order) orderView {
	return orderView{
		ID:                    o.ID.String(),
		Account:               o.Account,
		Market:                o.Market,
		CollateralToken:       o.CollateralToken,
		IsLong:                o.IsLong,
		Type:                  o.Type.String(),
		Status:                o.Status.String(),
		SizeDeltaUsd:          o.SizeDeltaUsd.String(),
		CollateralDeltaAmount: o.CollateralDeltaAmount.String(),
		TriggerPrice:          o.TriggerPrice.String(),
		AcceptablePrice:       o.AcceptablePrice.String(),
		ExecutionFeeAmount:    o.ExecutionFeeAmount.String(),
		FrozenReason:          o.FrozenReason,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
	}
}

// registerQueryRoutes registers the HTTP/JSON query surface on the
// gateway mux. Live-state routes read through the engine gate;
// history routes read Postgres via the query service.
func registerQueryRoutes(mux *runtime.ServeMux, deps *Deps) {
	h := &queryHandlers{gate: deps.Gate, history: deps.History, metrics: deps.Metrics}

	mux.HandlePath(http.MethodGet, "/v1/markets", h.instrument("markets", h.listMarkets))
	mux.HandlePath(http.MethodGet, "/v1/markets/{market}/funding", h.instrument("funding", h.getFunding))
	mux.HandlePath(http.MethodGet, "/v1/markets/{market}/borrowing", h.instrument("borrowing", h.getBorrowing))
	mux.HandlePath(http.MethodGet, "/v1/markets/{market}/open-interest", h.instrument("open_interest", h.getOpenInterest))
	mux.HandlePath(http.MethodGet, "/v1/markets/{market}/funding-history", h.instrument("funding_history", h.getFundingHistory))
	mux.HandlePath(http.MethodGet, "/v1/accounts/{account}/positions", h.instrument("positions", h.listPositions))
	mux.HandlePath(http.MethodGet, "/v1/accounts/{account}/orders", h.instrument("orders", h.listOrders))
	mux.HandlePath(http.MethodGet, "/v1/accounts/{account}/claimable", h.instrument("claimable", h.listClaimable))
	mux.HandlePath(http.MethodGet, "/v1/accounts/{account}/fees", h.instrument("fees", h.listFees))
	mux.HandlePath(http.MethodGet, "/v1/accounts/{account}/claims", h.instrument("claims", h.listClaims))
	mux.HandlePath(http.MethodPost, "/v1/accounts/{account}/claims", h.instrument("claim", h.claimFunding))
}

// claimRequest asks for payout of the account's escrowed funding
// receivables, pairwise over markets and tokens.
type claimRequest struct {
	Markets  []string `json:"markets"`
	Tokens   []string `json:"tokens"`
	Receiver string   `json:"receiver"`
}

type claimResponse struct {
	Amounts []string `json:"amounts"`
}

type queryHandlers struct {
	gate    *engine.Gate
	history *query.Service
	metrics *observability.Metrics
}

func (h *queryHandlers) instrument(endpoint string, fn runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		fn(sw, r, pathParams)
		if h.metrics != nil {
			h.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			h.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (h *queryHandlers) listMarkets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var views []marketView
	h.gate.Do(func(e *engine.Engine) error {
		for _, m := range e.Markets() {
			views = append(views, marketView{ID: m.ID, LongToken: m.LongToken, ShortToken: m.ShortToken})
		}
		return nil
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": views})
}

func (h *queryHandlers) getFunding(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	marketID := pathParams["market"]

	var view fundingView
	err := h.gate.Do(func(e *engine.Engine) error {
		state, err := e.FundingState(marketID)
		if err != nil {
			return err
		}
		view = fundingView{
			Market:          marketID,
			FactorPerSecond: state.FactorPerSecond.String(),
			Exponent:        state.Exponent,
			UpdatedAt:       state.UpdatedAt,
			LongIndex:       map[string]string{},
			ShortIndex:      map[string]string{},
		}
		for _, m := range e.Markets() {
			if m.ID != marketID {
				continue
			}
			for _, token := range m.Tokens() {
				long, err := e.FundingIndex(marketID, token, true)
				if err != nil {
					return err
				}
				short, err := e.FundingIndex(marketID, token, false)
				if err != nil {
					return err
				}
				view.LongIndex[token] = long.String()
				view.ShortIndex[token] = short.String()
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *queryHandlers) getBorrowing(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	marketID := pathParams["market"]

	var views []borrowingView
	err := h.gate.Do(func(e *engine.Engine) error {
		for _, isLong := range []bool{true, false} {
			state, err := e.BorrowingState(marketID, isLong)
			if err != nil {
				return err
			}
			views = append(views, borrowingView{
				Market:           marketID,
				IsLong:           isLong,
				FactorPerSecond:  state.FactorPerSecond.String(),
				CumulativeFactor: state.CumulativeFactor.String(),
				UpdatedAt:        state.UpdatedAt,
			})
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sides": views})
}

func (h *queryHandlers) getOpenInterest(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	marketID := pathParams["market"]

	view := openInterestView{
		Market: marketID,
		Long:   map[string]string{},
		Short:  map[string]string{},
	}
	err := h.gate.Do(func(e *engine.Engine) error {
		var mkt *market.Market
		for _, m := range e.Markets() {
			if m.ID == marketID {
				mm := m
				mkt = &mm
				break
			}
		}
		if mkt == nil {
			return errs.InvalidInputf("unknown market %q", marketID)
		}
		for _, token := range mkt.Tokens() {
			long, err := e.OpenInterest(marketID, token, true)
			if err != nil {
				return err
			}
			short, err := e.OpenInterest(marketID, token, false)
			if err != nil {
				return err
			}
			view.Long[token] = long.String()
			view.Short[token] = short.String()
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *queryHandlers) getFundingHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history store not configured"})
		return
	}
	marketID := pathParams["market"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	payloads, err := h.history.FundingHistory(r.Context(), marketID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accruals": payloads})
}

func (h *queryHandlers) listPositions(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account := pathParams["account"]

	var views []positionView
	h.gate.Do(func(e *engine.Engine) error {
		for _, p := range e.PositionsByAccount(account) {
			views = append(views, toPositionView(p))
		}
		return nil
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": views})
}

func (h *queryHandlers) listOrders(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account := pathParams["account"]

	var views []orderView
	h.gate.Do(func(e *engine.Engine) error {
		for _, o := range e.OrdersByAccount(account) {
			views = append(views, toOrderView(o))
		}
		return nil
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": views})
}

func (h *queryHandlers) listClaimable(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account := pathParams["account"]

	var entries []claimableEntry
	h.gate.Do(func(e *engine.Engine) error {
		for _, m := range e.Markets() {
			for _, token := range m.Tokens() {
				amount := e.ClaimableFunding(m.ID, token, account)
				if amount.Sign() == 0 {
					continue
				}
				entries = append(entries, claimableEntry{
					Market: m.ID,
					Token:  token,
					Amount: amount.String(),
				})
			}
		}
		return nil
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"claimable": entries})
}

func (h *queryHandlers) claimFunding(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account := pathParams["account"]

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.KindInvalidInput, err, "decode claim request"))
		return
	}

	var amounts []*big.Int
	err := h.gate.Do(func(e *engine.Engine) error {
		var err error
		amounts, err = e.ClaimFundingFees(account, req.Markets, req.Tokens, req.Receiver)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := claimResponse{Amounts: make([]string, len(amounts))}
	for i, a := range amounts {
		resp.Amounts[i] = a.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *queryHandlers) listFees(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history store not configured"})
		return
	}
	account := pathParams["account"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	var marketID *string
	if m := r.URL.Query().Get("market"); m != "" {
		marketID = &m
	}

	records, err := h.history.FeeSettlements(r.Context(), account, marketID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []query.FeeSettlementRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settlements": records})
}

func (h *queryHandlers) listClaims(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history store not configured"})
		return
	}
	account := pathParams["account"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.history.Claims(r.Context(), account, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []query.ClaimRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"claims": records})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindInvalidInput, errs.KindInvalidOrderType:
		status = http.StatusBadRequest
	case errs.KindForbidden:
		status = http.StatusForbidden
	case errs.KindFeatureDisabled:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
