package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Spok95/shipment-recon/internal/domain/inventory"
	"github.com/Spok95/shipment-recon/internal/domain/shipments"
	"github.com/Spok95/shipment-recon/internal/infra/codefile"
	"github.com/Spok95/shipment-recon/internal/recon"
)

const maxUpload = 16 << 20

type handlers struct {
	engine *recon.Engine
	stock  Stock
	log    *slog.Logger
}

type sessionDTO struct {
	ID            int64                   `json:"id"`
	OriginID      int64                   `json:"origin_id"`
	DestinationID int64                   `json:"destination_id"`
	Status        shipments.Status        `json:"status"`
	MasterCodes   []string                `json:"master_codes"`
	UniqueCodes   []string                `json:"unique_codes"`
	Expected      *shipments.Baseline     `json:"expected,omitempty"`
	Scanned       shipments.Aggregate     `json:"scanned"`
	Stats         recon.DetailedStats     `json:"stats"`
	Discrepancies []recon.Discrepancy     `json:"discrepancies,omitempty"`
	Committing    bool                    `json:"committing"`
	Confirmation  *shipments.Confirmation `json:"confirmation,omitempty"`
	IncidentID    *int64                  `json:"incident_id,omitempty"`
	Version       int64                   `json:"version"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

func toDTO(v *recon.SessionView) sessionDTO {
	s := v.Session
	return sessionDTO{
		ID:            s.ID,
		OriginID:      s.OriginID,
		DestinationID: s.DestinationID,
		Status:        s.Status,
		MasterCodes:   s.MasterCodes,
		UniqueCodes:   s.UniqueCodes,
		Expected:      s.Expected,
		Scanned:       s.Scanned,
		Stats:         v.Stats,
		Discrepancies: v.Discrepancies,
		Committing:    s.CommitStartedAt != nil,
		Confirmation:  s.Confirmation,
		IncidentID:    s.IncidentID,
		Version:       s.Version,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func sessionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, apiError{Code: "VALIDATION_ERROR", Message: "invalid session id"})
		return 0, false
	}
	return id, true
}

type openSessionRequest struct {
	OriginID      int64 `json:"origin_id" binding:"required,gt=0"`
	DestinationID int64 `json:"destination_id" binding:"required,gt=0,nefield=OriginID"`
}

// openSession: POST /api/v1/sessions
func (h *handlers) openSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, err := h.engine.GetOrCreateSession(c.Request.Context(), req.OriginID, req.DestinationID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toDTO(v))
}

// getSession: GET /api/v1/sessions/:id
func (h *handlers) getSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	v, err := h.engine.GetSession(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toDTO(v))
}

type scanRequest struct {
	Code string `json:"code" binding:"required,max=512"`
}

// scan: POST /api/v1/sessions/:id/scan. Отказ по коду — 200 с outcome, не ошибка.
func (h *handlers) scan(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.engine.ScanOne(c.Request.Context(), id, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type batchRequest struct {
	Codes []string `json:"codes" binding:"required,min=1,dive,required,max=512"`
}

// batch: POST /api/v1/sessions/:id/batch, ответ — поток NDJSON.
func (h *handlers) batch(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.stream(c, id, req.Codes)
}

// batchXLSX: POST /api/v1/sessions/:id/batch/xlsx, multipart с полем file.
func (h *handlers) batchXLSX(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	if fh.Size > maxUpload {
		badRequest(c, errors.New("file is too large"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, err)
		return
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, maxUpload))
	if err != nil {
		badRequest(c, err)
		return
	}
	list, err := codefile.FromXLSX(data)
	if err != nil {
		badRequest(c, err)
		return
	}
	h.stream(c, id, list)
}

func (h *handlers) stream(c *gin.Context, id int64, list []string) {
	events, err := h.engine.ScanBatch(c.Request.Context(), id, list)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Type", recon.NDJSONContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	last, err := recon.WriteNDJSON(c.Writer, events)
	if err != nil {
		h.log.Warn("batch stream write failed", "session_id", id, "err", err)
		return
	}
	if last.Type == recon.EventError {
		h.log.Warn("batch stream ended with error", "session_id", id, "code", last.ErrorCode)
	}
}

// unlink: DELETE /api/v1/sessions/:id/codes/:code
func (h *handlers) unlink(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	v, err := h.engine.UnlinkCode(c.Request.Context(), id, c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toDTO(v))
}

// cancel: POST /api/v1/sessions/:id/cancel
func (h *handlers) cancel(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	v, err := h.engine.CancelSession(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toDTO(v))
}

type confirmRequest struct {
	ActorID         int64 `json:"actor_id" binding:"gte=0"`
	ManualVariantID int64 `json:"manual_variant_id" binding:"gte=0"`
	ManualQty       int64 `json:"manual_qty" binding:"gte=0"`
}

// confirm: POST /api/v1/sessions/:id/confirm. Тело необязательно.
func (h *handlers) confirm(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req confirmRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	res, err := h.engine.Confirm(c.Request.Context(), id, recon.ConfirmRequest{
		ActorID:         req.ActorID,
		ManualVariantID: req.ManualVariantID,
		ManualQty:       req.ManualQty,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type receiveRequest struct {
	ActorID     int64  `json:"actor_id" binding:"gte=0"`
	WarehouseID int64  `json:"warehouse_id" binding:"required,gt=0"`
	VariantID   int64  `json:"variant_id" binding:"required,gt=0"`
	Qty         int64  `json:"qty" binding:"required,gt=0"`
	Note        string `json:"note" binding:"max=256"`
}

// receiveStock: POST /api/v1/stock/receive — приход ручного остатка.
func (h *handlers) receiveStock(c *gin.Context) {
	var req receiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	mid, err := h.stock.Receive(c.Request.Context(), req.ActorID, req.WarehouseID, req.VariantID, req.Qty, req.Note)
	if err != nil {
		if errors.Is(err, inventory.ErrInvalidQty) {
			badRequest(c, err)
			return
		}
		h.fail(c, err)
		return
	}
	bal, err := h.stock.GetBalance(c.Request.Context(), req.WarehouseID, req.VariantID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"movement_id": mid, "balance": bal})
}

// balance: GET /api/v1/stock/:warehouse/:variant
func (h *handlers) balance(c *gin.Context) {
	wh, err1 := strconv.ParseInt(c.Param("warehouse"), 10, 64)
	variant, err2 := strconv.ParseInt(c.Param("variant"), 10, 64)
	if err := errors.Join(err1, err2); err != nil {
		badRequest(c, err)
		return
	}
	bal, err := h.stock.GetBalance(c.Request.Context(), wh, variant)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"warehouse_id": wh, "variant_id": variant, "balance": bal})
}
