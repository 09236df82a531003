package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"staysync/internal/services"
	"staysync/internal/transport/httpdto"
	sync_errors "staysync/pkg/errors"
)

// signatureHeader is the partner's HMAC header.
const signatureHeader = "X-Channex-Signature"

type WebhookHandler struct {
	ingestor  *services.WebhookIngestor
	processor *services.WebhookProcessor
	maxBody   int64
}

func NewWebhookHandler(ingestor *services.WebhookIngestor, processor *services.WebhookProcessor, maxBody int64) *WebhookHandler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &WebhookHandler{ingestor: ingestor, processor: processor, maxBody: maxBody}
}

// Receive accepts one partner delivery. Every rejection is a 4xx; the
// partner keeps redelivering until it sees a 2xx.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("unreadable body", "INVALID_REQUEST"))
		return
	}
	if int64(len(body)) > h.maxBody {
		c.JSON(http.StatusRequestEntityTooLarge, httpdto.NewErrorResponse("payload too large", "PAYLOAD_TOO_LARGE"))
		return
	}

	rec, err := h.ingestor.Ingest(c.Request.Context(), c.ClientIP(), c.GetHeader(signatureHeader), body)
	switch {
	case err == nil:
	case errors.Is(err, sync_errors.ErrAlreadyExists):
		// Redelivery of an accepted event: acknowledge, do not requeue.
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.WebhookAck{Status: "duplicate"}))
		return
	case errors.Is(err, sync_errors.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, httpdto.NewErrorResponse("payload too large", "PAYLOAD_TOO_LARGE"))
		return
	case errors.Is(err, sync_errors.ErrForbidden):
		c.JSON(http.StatusForbidden, httpdto.NewErrorResponse("source not allowed", "FORBIDDEN"))
		return
	case errors.Is(err, sync_errors.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("invalid signature", "INVALID_SIGNATURE"))
		return
	case errors.Is(err, sync_errors.ErrStaleEvent):
		c.JSON(http.StatusUnprocessableEntity, httpdto.NewErrorResponse("event outside replay window", "STALE_EVENT"))
		return
	case errors.Is(err, sync_errors.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("malformed payload", "INVALID_REQUEST"))
		return
	default:
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("ingest failed", "INTERNAL_ERROR"))
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.WebhookAck{
		ReceiptID: rec.ID,
		EventID:   rec.EventID,
		Status:    string(rec.Status),
	}))
}

// Get returns one stored delivery record for inspection.
func (h *WebhookHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid webhook id", "INVALID_REQUEST"))
		return
	}
	rec, err := h.ingestor.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.WebhookRecordResponse{
		ID:          rec.ID,
		Provider:    rec.Provider,
		EventID:     rec.EventID,
		EventType:   rec.EventType,
		SourceIP:    rec.SourceIP,
		Status:      string(rec.Status),
		Action:      rec.Action,
		Error:       rec.Error,
		ReceivedAt:  rec.ReceivedAt,
		ProcessedAt: rec.ProcessedAt,
	}))
}

// Replay forces processing of one delivery still in the received
// state, ahead of the background poller.
func (h *WebhookHandler) Replay(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid webhook id", "INVALID_REQUEST"))
		return
	}
	rec, err := h.ingestor.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	h.processor.Process(c.Request.Context(), rec)
	if updated, err := h.ingestor.Get(c.Request.Context(), id); err == nil {
		rec = updated
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.WebhookRecordResponse{
		ID:        rec.ID,
		EventID:   rec.EventID,
		EventType: rec.EventType,
		Status:    string(rec.Status),
		Action:    rec.Action,
	}))
}
