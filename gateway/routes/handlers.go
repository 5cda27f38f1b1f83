package routes

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"yieldcredit/gateway/middleware"
	"yieldcredit/native/credit"
)

type handlers struct {
	svc    Service
	logger *slog.Logger
}

type positionResponse struct {
	User           string   `json:"user"`
	Index          uint64   `json:"index"`
	Outcome        string   `json:"outcome"`
	Health         uint64   `json:"health"`
	Depositor      string   `json:"depositor"`
	Token          string   `json:"token"`
	AmountIn       string   `json:"amount_in"`
	BorrowedTokens []string `json:"borrowed_tokens"`
	Ratios         []uint64 `json:"ratios"`
	Timestamp      uint64   `json:"timestamp"`
	Terminated     bool     `json:"terminated"`
	BorrowedAmount []string `json:"borrowed_amounts"`
	MintedShares   string   `json:"minted_shares"`
}

func toPosition(p *credit.Position) positionResponse {
	out := positionResponse{
		User:    p.User.Hex(),
		Index:   p.Index,
		Outcome: p.Outcome.String(),
		Health:  p.Health,
	}
	if lend := p.Lend; lend != nil {
		out.Depositor = lend.Depositor.Hex()
		out.Token = lend.Token.Hex()
		out.AmountIn = amountString(lend.AmountIn)
		out.Ratios = lend.Ratios
		out.Timestamp = lend.Timestamp
		out.Terminated = lend.Terminated
		for _, token := range lend.BorrowedTokens {
			out.BorrowedTokens = append(out.BorrowedTokens, token.Hex())
		}
	}
	if borrow := p.Borrow; borrow != nil {
		out.MintedShares = amountString(borrow.MintedAmount)
		for _, amount := range borrow.BorrowedAmountOuts {
			out.BorrowedAmount = append(out.BorrowedAmount, amountString(amount))
		}
	}
	return out
}

func (h *handlers) positions(w http.ResponseWriter, r *http.Request) {
	user, err := urlAddress(r, "user")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.svc.Positions(user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]positionResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPosition(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) userIndex(r *http.Request) (common.Address, uint64, error) {
	user, err := urlAddress(r, "user")
	if err != nil {
		return common.Address{}, 0, err
	}
	index, err := parseIndex(chi.URLParam(r, "index"))
	if err != nil {
		return common.Address{}, 0, err
	}
	return user, index, nil
}

func (h *handlers) position(w http.ResponseWriter, r *http.Request) {
	user, index, err := h.userIndex(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.svc.Position(user, index)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPosition(p))
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	user, index, err := h.userIndex(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	health, err := h.svc.Health(user, index)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"health": health})
}

func (h *handlers) vault(w http.ResponseWriter, r *http.Request) {
	token, err := h.urlToken(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.svc.VaultInfo(token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":          v.Token.Hex(),
		"symbol":         v.Symbol,
		"vault":          v.Vault.Hex(),
		"manager":        v.Manager.Hex(),
		"total_supply":   amountString(v.TotalSupply),
		"total_borrowed": amountString(v.TotalBorrowed),
		"bad_debt":       amountString(v.BadDebt),
		"free_liquidity": amountString(v.FreeLiquidity),
		"utilization":    v.Utilization,
		"paused":         v.Paused,
	})
}

func (h *handlers) pending(w http.ResponseWriter, r *http.Request) {
	pool, err := urlAddress(r, "pool")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := urlAddress(r, "user")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := h.svc.PendingRewards(pool, user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pending": amountString(amount)})
}

// caller returns the authenticated address or writes 401.
func (h *handlers) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "caller not authenticated"})
	}
	return caller, ok
}

type openRequest struct {
	Depositor      string   `json:"depositor"`
	Token          string   `json:"token"`
	AmountIn       string   `json:"amount_in"`
	BorrowedTokens []string `json:"borrowed_tokens"`
	Ratios         []uint64 `json:"ratios"`
	Recipient      string   `json:"recipient,omitempty"`
	Value          string   `json:"value,omitempty"`
}

func (req openRequest) parse(caller common.Address) (credit.OpenRequest, error) {
	var out credit.OpenRequest
	var err error
	if out.Depositor, err = parseAddress("depositor", req.Depositor); err != nil {
		return out, err
	}
	if out.Token, err = parseAddress("token", req.Token); err != nil {
		return out, err
	}
	if out.AmountIn, err = parseAmount("amount_in", req.AmountIn); err != nil {
		return out, err
	}
	for i, raw := range req.BorrowedTokens {
		token, err := parseAddress("borrowed_tokens", raw)
		if err != nil {
			return out, badRequest("leg %d: %v", i, err)
		}
		out.BorrowedTokens = append(out.BorrowedTokens, token)
	}
	out.Ratios = req.Ratios
	out.Recipient = caller
	if req.Recipient != "" {
		if out.Recipient, err = parseAddress("recipient", req.Recipient); err != nil {
			return out, err
		}
	}
	out.Value = new(big.Int)
	if req.Value != "" {
		if out.Value, err = parseAmount("value", req.Value); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (h *handlers) open(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body openRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := body.parse(caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	index, err := h.svc.OpenLendCredit(r.Context(), caller, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"index": index})
}

type indexRequest struct {
	User  string `json:"user,omitempty"`
	Index uint64 `json:"index"`
}

func (h *handlers) repay(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body indexRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	surplus, err := h.svc.RepayCredit(r.Context(), caller, body.Index)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"surplus": amountString(surplus)})
}

func (h *handlers) liquidate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body indexRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := parseAddress("user", body.User)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reward, err := h.svc.Liquidate(r.Context(), caller, user, body.Index)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reward": amountString(reward)})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func (h *handlers) liquidity(w http.ResponseWriter, r *http.Request, apply func(caller, token common.Address, amount *big.Int) error) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	token, err := h.urlToken(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body amountRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := apply(caller, token, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) supply(w http.ResponseWriter, r *http.Request) {
	h.liquidity(w, r, func(caller, token common.Address, amount *big.Int) error {
		return h.svc.AddLiquidity(r.Context(), caller, token, amount)
	})
}

func (h *handlers) withdraw(w http.ResponseWriter, r *http.Request) {
	h.liquidity(w, r, func(caller, token common.Address, amount *big.Int) error {
		return h.svc.RemoveLiquidity(r.Context(), caller, token, amount)
	})
}

func (h *handlers) claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	pool, err := urlAddress(r, "pool")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	paid, err := h.svc.Claim(r.Context(), caller, pool)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"paid": amountString(paid)})
}
