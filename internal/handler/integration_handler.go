package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"staysync/internal/domain/channel"
	"staysync/internal/domain/outbox"
	"staysync/internal/services"
	"staysync/internal/transport/httpdto"
)

type IntegrationHandler struct {
	service *services.ChannelService
}

func NewIntegrationHandler(service *services.ChannelService) *IntegrationHandler {
	return &IntegrationHandler{service: service}
}

func (h *IntegrationHandler) CreateConnection(c *gin.Context) {
	var req httpdto.CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	conn := &channel.Connection{
		Provider:      req.Provider,
		PropertyID:    req.PropertyID,
		APIKey:        req.APIKey,
		WebhookSecret: req.WebhookSecret,
	}
	if req.ProjectID != "" {
		projectID, err := uuid.Parse(req.ProjectID)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid project id", "INVALID_REQUEST"))
			return
		}
		conn.ProjectID = projectID
	}

	if err := h.service.CreateConnection(c.Request.Context(), conn); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(httpdto.FromConnection(conn)))
}

func (h *IntegrationHandler) GetConnection(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid connection id", "INVALID_REQUEST"))
		return
	}
	conn, err := h.service.GetConnection(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromConnection(conn)))
}

func (h *IntegrationHandler) ListConnections(c *gin.Context) {
	conns, err := h.service.ListConnections(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ListConnectionsResponse{
		Connections: httpdto.FromConnectionSlice(conns),
		Total:       len(conns),
	}))
}

func (h *IntegrationHandler) UpdateConnectionStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid connection id", "INVALID_REQUEST"))
		return
	}
	var req httpdto.UpdateConnectionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	if err := h.service.UpdateConnectionStatus(c.Request.Context(), id, channel.ConnectionStatus(req.Status)); err != nil {
		respondError(c, err)
		return
	}
	conn, err := h.service.GetConnection(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromConnection(conn)))
}

func (h *IntegrationHandler) CreateMapping(c *gin.Context) {
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid connection id", "INVALID_REQUEST"))
		return
	}
	var req httpdto.CreateMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	unitID, err := uuid.Parse(req.UnitID)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid unit id", "INVALID_REQUEST"))
		return
	}

	m := &channel.Mapping{
		ConnectionID: connectionID,
		UnitID:       unitID,
		RoomTypeID:   req.RoomTypeID,
		RatePlanID:   req.RatePlanID,
	}
	if err := h.service.CreateMapping(c.Request.Context(), m); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(httpdto.FromMapping(m)))
}

func (h *IntegrationHandler) ListMappings(c *gin.Context) {
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid connection id", "INVALID_REQUEST"))
		return
	}
	mappings, err := h.service.ListMappings(c.Request.Context(), connectionID)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]httpdto.MappingResponse, 0, len(mappings))
	for i := range mappings {
		out = append(out, httpdto.FromMapping(&mappings[i]))
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(out))
}

// TriggerSync queues a full resync of prices and availability for every
// unit under the connection.
func (h *IntegrationHandler) TriggerSync(c *gin.Context) {
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid connection id", "INVALID_REQUEST"))
		return
	}
	var req httpdto.TriggerSyncRequest
	_ = c.ShouldBindJSON(&req)

	event, err := h.service.TriggerFullSync(c.Request.Context(), connectionID, req.DaysAhead)
	if err != nil {
		respondError(c, err)
		return
	}
	if event == nil {
		// An identical sync is already queued.
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "already_queued"}))
		return
	}
	c.JSON(http.StatusAccepted, httpdto.NewSuccessResponse(httpdto.FromOutboxEvent(event)))
}

func (h *IntegrationHandler) ListOutbox(c *gin.Context) {
	status := outbox.Status(c.DefaultQuery("status", string(outbox.StatusPending)))
	limit, _ := strconv.Atoi(c.Query("limit"))

	events, err := h.service.ListOutbox(c.Request.Context(), status, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ListOutboxResponse{
		Events: httpdto.FromOutboxEventSlice(events),
		Total:  len(events),
	}))
}

// RetryOutboxEvent puts a failed event back in the queue with a fresh
// attempt budget.
func (h *IntegrationHandler) RetryOutboxEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid event id", "INVALID_REQUEST"))
		return
	}
	event, err := h.service.RetryEvent(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromOutboxEvent(event)))
}

func (h *IntegrationHandler) ListLedger(c *gin.Context) {
	var connectionID *uuid.UUID
	if raw := c.Query("connection_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid connection id", "INVALID_REQUEST"))
			return
		}
		connectionID = &id
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	entries, err := h.service.ListLedger(c.Request.Context(), connectionID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ListLedgerResponse{
		Entries: httpdto.FromLedgerEntrySlice(entries),
		Total:   len(entries),
	}))
}
