package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finledger/reconcile/internal/models"
	"github.com/finledger/reconcile/internal/recon"
)

// Handlers exposes the reconciliation engine over HTTP.
type Handlers struct {
	engine *recon.Engine
	log    zerolog.Logger
}

func NewHandlers(engine *recon.Engine, log zerolog.Logger) *Handlers {
	return &Handlers{engine: engine, log: log}
}

// NewRouter builds the gin router with all routes registered.
func NewRouter(engine *recon.Engine, log zerolog.Logger) *gin.Engine {
	h := NewHandlers(engine, log)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/obligations", h.CreateObligation)
	r.GET("/obligations", h.ListObligations)
	r.GET("/obligations/:id", h.GetObligation)
	r.GET("/obligations/:id/payments", h.ListPayments)
	r.POST("/obligations/:id/payments", h.ApplyPayment)
	r.DELETE("/payments/:id", h.ReversePayment)

	return r
}

type createObligationRequest struct {
	Kind            string          `json:"kind" binding:"required"`
	Counterparty    string          `json:"counterparty"`
	TotalObligation decimal.Decimal `json:"total_obligation"`
}

func (h *Handlers) CreateObligation(c *gin.Context) {
	var req createObligationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid request body"})
		return
	}

	o, err := h.engine.CreateObligation(c.Request.Context(), models.ObligationKind(req.Kind), req.Counterparty, req.TotalObligation)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *Handlers) ListObligations(c *gin.Context) {
	out, err := h.engine.ListObligations(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetObligation(c *gin.Context) {
	o, err := h.engine.GetObligation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handlers) ListPayments(c *gin.Context) {
	out, err := h.engine.ListPayments(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if out == nil {
		out = []models.Payment{}
	}
	c.JSON(http.StatusOK, out)
}

type applyPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
	Note      string          `json:"note"`
	CreatedBy string          `json:"created_by"`
}

func (h *Handlers) ApplyPayment(c *gin.Context) {
	var req applyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid request body"})
		return
	}

	meta := models.PaymentMeta{
		Method:         req.Method,
		Reference:      req.Reference,
		Note:           req.Note,
		CreatedBy:      req.CreatedBy,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	}

	p, err := h.engine.ApplyPayment(c.Request.Context(), c.Param("id"), req.Amount, meta)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handlers) ReversePayment(c *gin.Context) {
	if err := h.engine.ReversePayment(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeError maps engine failures to status codes with a corrective action
// the UI layer can show.
func (h *Handlers) writeError(c *gin.Context, err error) {
	var ve *recon.ValidationError
	var nf *recon.NotFoundError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"field":   ve.Field,
			"message": ve.Reason,
		})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "record no longer exists, refresh and retry",
		})
	case errors.Is(err, recon.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "record was modified concurrently, retry the operation",
		})
	default:
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "unexpected error",
		})
	}
}
