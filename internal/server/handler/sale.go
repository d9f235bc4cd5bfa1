package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlaunch/saled/internal/domain"
	"github.com/openlaunch/saled/internal/service"
)

// SaleHandler serves the public sale endpoints: status, purchases, balances,
// and claims.
type SaleHandler struct {
	sale   *service.SaleService
	logger *slog.Logger
}

// NewSaleHandler creates a SaleHandler.
func NewSaleHandler(sale *service.SaleService, logger *slog.Logger) *SaleHandler {
	return &SaleHandler{sale: sale, logger: logger}
}

// purchaseRequest is the POST /api/purchase body. Asset may be omitted or the
// zero address for native-currency purchases.
type purchaseRequest struct {
	Buyer      string `json:"buyer"`
	Asset      string `json:"asset"`
	PaidAmount string `json:"paid_amount"`
}

// claimRequest is the POST /api/claim body.
type claimRequest struct {
	Participant string `json:"participant"`
}

// GetStatus returns the read-only sale view.
// GET /api/sale/status
func (h *SaleHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sale.Status(r.Context()))
}

// PostPurchase settles a purchase.
// POST /api/purchase
func (h *SaleHandler) PostPurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	buyer, ok := parseAddress(req.Buyer)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid buyer address")
		return
	}
	asset := domain.NativeAsset
	if req.Asset != "" {
		if asset, ok = parseAddress(req.Asset); !ok {
			writeError(w, http.StatusBadRequest, "invalid asset address")
			return
		}
	}
	paid, ok := new(big.Int).SetString(req.PaidAmount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid paid_amount")
		return
	}

	p, err := h.sale.Purchase(r.Context(), buyer, asset, paid)
	if err != nil {
		writeSaleError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, purchaseView(p))
}

// PostClaim settles a post-close claim.
// POST /api/claim
func (h *SaleHandler) PostClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	participant, ok := parseAddress(req.Participant)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid participant address")
		return
	}

	c, err := h.sale.Claim(r.Context(), participant)
	if err != nil {
		writeSaleError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"claim_id":    c.ID,
		"participant": c.Participant.Hex(),
		"tokens":      c.Tokens.String(),
		"claimed_at":  c.ClaimedAt,
	})
}

// GetBalance returns a participant's credited, unclaimed balance.
// GET /api/balance/{address}
func (h *SaleHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(pathParam(r, "address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"participant": addr.Hex(),
		"tokens":      h.sale.Balance(addr).String(),
	})
}

// ListPurchases returns purchase history. With a buyer query parameter it
// returns that buyer's purchases; otherwise the most recent across all
// buyers.
// GET /api/purchases?buyer=0x...&limit=50&offset=0
func (h *SaleHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		purchases []domain.Purchase
		err       error
	)
	if buyerStr := r.URL.Query().Get("buyer"); buyerStr != "" {
		buyer, ok := parseAddress(buyerStr)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid buyer address")
			return
		}
		purchases, err = h.sale.ListPurchases(r.Context(), buyer, opts)
	} else {
		purchases, err = h.sale.RecentPurchases(r.Context(), opts.Limit)
	}
	if err != nil {
		logHandler(h.logger, "sale").ErrorContext(r.Context(), "list purchases failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list purchases")
		return
	}

	views := make([]map[string]any, 0, len(purchases))
	for _, p := range purchases {
		views = append(views, purchaseView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": views})
}

// GetPurchase returns one purchase by ledger ID.
// GET /api/purchases/{id}
func (h *SaleHandler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := h.sale.GetPurchase(r.Context(), pathParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "purchase not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get purchase")
		return
	}
	writeJSON(w, http.StatusOK, purchaseView(p))
}

// ListClaims returns a participant's claim history.
// GET /api/claims?participant=0x...
func (h *SaleHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	participant, ok := parseAddress(r.URL.Query().Get("participant"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid participant address")
		return
	}

	claims, err := h.sale.ListClaims(r.Context(), participant, parseListOpts(r))
	if err != nil {
		logHandler(h.logger, "sale").ErrorContext(r.Context(), "list claims failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list claims")
		return
	}

	views := make([]map[string]any, 0, len(claims))
	for _, c := range claims {
		views = append(views, map[string]any{
			"claim_id":    c.ID,
			"participant": c.Participant.Hex(),
			"tokens":      c.Tokens.String(),
			"claimed_at":  c.ClaimedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": views})
}

func purchaseView(p domain.Purchase) map[string]any {
	return map[string]any{
		"purchase_id": p.ID,
		"buyer":       p.Buyer.Hex(),
		"asset":       p.PaymentAsset.Hex(),
		"paid_amount": p.PaidAmount.String(),
		"tokens":      p.Tokens.String(),
		"phase":       p.PhaseIndex,
		"path":        string(p.Path),
		"created_at":  p.CreatedAt,
	}
}

// writeSaleError maps engine failure kinds onto HTTP status codes.
func writeSaleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAccess):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrPricing):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrCapacity):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrTransfer):
		writeError(w, http.StatusBadGateway, "asset transfer failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseAddress validates and parses a 0x-prefixed hex address.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}
