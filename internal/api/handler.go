package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	orders *service.OrderService
	qr     *service.QRService
	mirror *service.MirrorService
	store  *store.Store
	auth   *AuthMiddleware
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orders *service.OrderService, qr *service.QRService, mirror *service.MirrorService, st *store.Store, auth *AuthMiddleware) *Handler {
	return &Handler{
		orders: orders,
		qr:     qr,
		mirror: mirror,
		store:  st,
		auth:   auth,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	// Public verification endpoint; everything else requires a token.
	api.POST("/verify", h.verifyQR)

	authed := api.Group("")
	authed.Use(h.auth.Authenticate())
	{
		authed.POST("/orders", RequireRole(models.RoleBuyer), h.createOrder)
		authed.GET("/orders", RequireRole(models.RoleAdmin), h.listOrders)
		authed.GET("/orders/my", RequireRole(models.RoleBuyer), h.listOrders)
		authed.GET("/orders/store", RequireRole(models.RoleSeller), h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.PATCH("/orders/:id/status", RequireRole(models.RoleSeller, models.RoleAdmin), h.updateOrderStatus)
		authed.POST("/orders/:id/undo-status", RequireRole(models.RoleSeller, models.RoleAdmin), h.undoOrderStatus)
		authed.GET("/orders/:id/status-history", h.getStatusHistory)

		authed.POST("/order/:orderId/generate", RequireRole(models.RoleSeller), h.generateLabels)
		authed.GET("/order/:orderId/status", h.getQRStatus)

		authed.POST("/blockchain/products/:tokenId/shipment", RequireRole(models.RoleSeller, models.RoleAdmin), h.createShipment)
		authed.PUT("/blockchain/products/:tokenId/shipment", RequireRole(models.RoleSeller, models.RoleAdmin), h.updateShipment)
		authed.GET("/blockchain/products/:tokenId/shipments", h.getShipmentHistory)
		authed.GET("/blockchain/status", h.getNetworkStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck verifies the database is reachable.
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.store.GetDB().PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles checkout.
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	actor := actorFrom(c)
	orders, err := h.orders.CreateOrder(c.Request.Context(), actor.UserID, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, orders)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, order)
}

// listOrders serves all three listing routes; the service projects by role.
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, orders)
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	order, err := h.orders.Transition(c.Request.Context(), actorFrom(c), c.Param("id"), req.Status, req.Notes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, order)
}

func (h *Handler) undoOrderStatus(c *gin.Context) {
	order, err := h.orders.UndoLastTransition(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, order)
}

func (h *Handler) getStatusHistory(c *gin.Context) {
	history, err := h.orders.GetStatusHistory(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, history)
}

func (h *Handler) generateLabels(c *gin.Context) {
	result, err := h.qr.GenerateLabels(c.Request.Context(), actorFrom(c), c.Param("orderId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, result)
}

type verifyRequest struct {
	QRData string `json:"qrData" binding:"required"`
}

// verifyQR is public. Every failure renders the same generic response so
// callers cannot probe which check rejected them.
func (h *Handler) verifyQR(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "QR data is required"})
		return
	}

	result, err := h.qr.Verify(c.Request.Context(), req.QRData)
	if err != nil {
		if errors.Is(err, service.ErrVerificationFailed) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Order not found or QR code inactive"})
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"verificationResult": result}})
}

func (h *Handler) getQRStatus(c *gin.Context) {
	info, err := h.qr.GetStatus(c.Request.Context(), actorFrom(c), c.Param("orderId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, info)
}

type createShipmentRequest struct {
	Receiver string `json:"receiver" binding:"required"`
	Location string `json:"location" binding:"required"`
}

func (h *Handler) createShipment(c *gin.Context) {
	var req createShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	res, err := h.mirror.CreateShipment(c.Request.Context(), actorFrom(c), c.Param("tokenId"), req.Receiver, req.Location)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, res)
}

type updateShipmentRequest struct {
	Stage    string `json:"stage"`
	Location string `json:"location"`
}

func (h *Handler) updateShipment(c *gin.Context) {
	var req updateShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	res, err := h.mirror.UpdateShipment(c.Request.Context(), actorFrom(c), c.Param("tokenId"), req.Stage, req.Location)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, res)
}

func (h *Handler) getShipmentHistory(c *gin.Context) {
	events, err := h.mirror.ShipmentHistory(c.Request.Context(), c.Param("tokenId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, events)
}

func (h *Handler) getNetworkStatus(c *gin.Context) {
	status, err := h.mirror.NetworkStatus(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, status)
}

// respondData renders the success envelope every endpoint shares.
func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// respondError maps service errors onto HTTP statuses. Unrecognized errors
// become opaque 500s; their detail stays in the logs.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, service.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Access denied"})
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
