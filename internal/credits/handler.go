package credits

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"resume-tailor/internal/ledger"
	"resume-tailor/internal/shared/server/middleware"
	"resume-tailor/internal/shared/server/respond"
	"resume-tailor/internal/shared/util"
)

// Handler exposes credit endpoints.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches credit routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/credits", h.balance)
	rg.GET("/credits/transactions", h.transactions)
}

// RegisterDevRoutes attaches dev-only credit routes.
func (h *Handler) RegisterDevRoutes(rg *gin.RouterGroup) {
	rg.POST("/credits/grant", h.grant)
}

func (h *Handler) balance(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	balance, err := h.Svc.Balance(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "failed to fetch balance")
		return
	}
	p := h.Svc.Policy
	respond.JSON(c, http.StatusOK, gin.H{
		"balance": balance.StringFixed(2),
		"policy": gin.H{
			"tokensPerCredit":   p.TokensPerCredit,
			"roundingIncrement": p.RoundingIncrement.String(),
			"minimumForTailor":  p.MinimumForTailor.String(),
		},
	})
}

const defaultTransactionsLimit = 20

func (h *Handler) transactions(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	limit := defaultTransactionsLimit
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit <= 0 {
		limit = defaultTransactionsLimit
	}
	if limit > 100 {
		limit = 100
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	txs, err := h.Svc.Transactions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		writeError(c, err, "failed to list transactions")
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{"items": txs})
}

type grantRequest struct {
	Amount      string `json:"amount" binding:"required"`
	Kind        string `json:"kind"`
	Description string `json:"description" binding:"max=200"`
}

func (h *Handler) grant(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid request body", nil)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "amount must be a decimal string", nil)
		return
	}
	key, err := util.IdempotencyKey(c.GetHeader("Idempotency-Key"))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
		return
	}
	kind := ledger.Kind(req.Kind)
	if kind == "" {
		kind = ledger.KindGrant
	}

	rec, created, err := h.Svc.Credit(c.Request.Context(), CreditInput{
		UserID:         userID,
		Amount:         amount,
		Kind:           kind,
		Description:    req.Description,
		IdempotencyKey: key,
	})
	if err != nil {
		writeError(c, err, "failed to grant credits")
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	respond.JSON(c, status, rec)
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
	case errors.Is(err, ledger.ErrUserNotFound):
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "user not found", nil)
	case errors.Is(err, ErrIdempotencyConflict):
		respond.Error(c, http.StatusConflict, respond.CodeIdempotencyConflict, "idempotency key already used for another transaction", nil)
	case errors.Is(err, ledger.ErrLockTimeout):
		c.Header("Retry-After", "1")
		respond.Error(c, http.StatusServiceUnavailable, respond.CodeLedgerBusy, "ledger busy, retry shortly", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respond.Canceled(c)
	default:
		respond.Internal(c, fallback)
	}
}
