package httpapi

import (
	"net/http"

	"activations-controlplane/pkg/db/pagination"
	"activations-controlplane/services/wallet"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type depositRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
	Description    string          `json:"description"`
}

type dailyLimitRequest struct {
	// Limit clears the daily cap when null.
	Limit *decimal.Decimal `json:"limit"`
}

func (h *Handler) getWallet(c *gin.Context) {
	w, err := h.wallet.Get(c.Request.Context(), c.Param("workspaceId"))
	ok(c, w, err)
}

func (h *Handler) deposit(c *gin.Context) {
	var req depositRequest
	if !bindJSON(c, &req) {
		return
	}
	txn, err := h.wallet.Deposit(c.Request.Context(), wallet.DepositParams{
		WorkspaceID:    c.Param("workspaceId"),
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		Description:    req.Description,
	})
	respond(c, http.StatusCreated, txn, err)
}

func (h *Handler) setDailyLimit(c *gin.Context) {
	var req dailyLimitRequest
	if !bindJSON(c, &req) {
		return
	}
	w, err := h.wallet.SetDailyLimit(c.Request.Context(), c.Param("workspaceId"), req.Limit)
	ok(c, w, err)
}

func (h *Handler) listTransactions(c *gin.Context) {
	var page pagination.Pagination
	if !bindQuery(c, &page) {
		return
	}
	rows, info, err := h.wallet.ListTransactions(c.Request.Context(), c.Param("workspaceId"), page)
	ok(c, listResponse[wallet.Transaction]{Data: rows, PageInfo: info}, err)
}

func (h *Handler) verifyWallet(c *gin.Context) {
	valid, err := h.wallet.VerifyChain(c.Request.Context(), c.Param("workspaceId"))
	ok(c, gin.H{"valid": valid}, err)
}
