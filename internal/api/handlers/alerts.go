package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sitewatch-dev/sitewatch-backend-go/internal/alerting"
	"github.com/sitewatch-dev/sitewatch-backend-go/internal/database"
	"github.com/sitewatch-dev/sitewatch-backend-go/pkg/errors"
)

// AlertsHandler exposes the alerting facade to dashboard collaborators
type AlertsHandler struct {
	engine        *alerting.Engine
	notifications *database.NotificationRepository
}

// NewAlertsHandler creates a new alerts handler
func NewAlertsHandler(engine *alerting.Engine, notifications *database.NotificationRepository) *AlertsHandler {
	return &AlertsHandler{
		engine:        engine,
		notifications: notifications,
	}
}

// RegisterRoutes registers alerting routes
func (h *AlertsHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/alerts", h.CreateAlert)
	router.GET("/alerts", h.GetAlerts)
	router.GET("/alerts/active", h.GetActiveAlerts)
	router.GET("/alerts/stats", h.GetStatistics)
	router.GET("/alerts/:id", h.GetAlert)
	router.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
	router.POST("/alerts/:id/resolve", h.ResolveAlert)
	router.POST("/alerts/:id/suppress", h.SuppressAlert)
	router.GET("/alerts/:id/notifications", h.GetAlertNotifications)
	router.GET("/notifications", h.GetRecentNotifications)

	router.GET("/rules", h.GetRules)
	router.POST("/rules", h.AddRule)
	router.PUT("/rules/:id", h.UpdateRule)
	router.DELETE("/rules/:id", h.RemoveRule)
}

type createAlertRequest struct {
	Title    string                 `json:"title" binding:"required"`
	Message  string                 `json:"message"`
	Severity alerting.Severity      `json:"severity" binding:"required"`
	Source   string                 `json:"source"`
	Tags     []string               `json:"tags"`
	Metadata map[string]interface{} `json:"metadata"`
}

// CreateAlert ingests one alert signal
func (h *AlertsHandler) CreateAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.WithDetails(errors.ErrBadRequest, err.Error()))
		return
	}
	if !req.Severity.Valid() {
		c.JSON(http.StatusBadRequest, errors.WithDetails(errors.ErrBadRequest, "unknown severity"))
		return
	}

	id := h.engine.CreateAlert(req.Title, req.Message, req.Severity, req.Source, req.Tags, req.Metadata)
	if id == "" {
		c.JSON(http.StatusBadRequest, errors.New(http.StatusBadRequest, "alert rejected"))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// GetAlerts returns stored alerts, optionally filtered by status,
// severity, or source
func (h *AlertsHandler) GetAlerts(c *gin.Context) {
	var alerts []alerting.Alert

	switch {
	case c.Query("status") != "":
		alerts = h.engine.GetAlertsByStatus(alerting.Status(c.Query("status")))
	case c.Query("severity") != "":
		alerts = h.engine.GetAlertsBySeverity(alerting.Severity(c.Query("severity")))
	case c.Query("source") != "":
		alerts = h.engine.GetAlertsBySource(c.Query("source"))
	default:
		alerts = h.engine.GetAllAlerts()
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// GetActiveAlerts returns active, unsuppressed alerts
func (h *AlertsHandler) GetActiveAlerts(c *gin.Context) {
	alerts := h.engine.GetActiveAlerts()
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// GetAlert returns one alert by id
func (h *AlertsHandler) GetAlert(c *gin.Context) {
	alert, ok := h.engine.GetAlert(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, errors.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// GetStatistics returns alert counts by status and severity
func (h *AlertsHandler) GetStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.GetStatistics())
}

type actorRequest struct {
	User string `json:"user" binding:"required"`
}

// AcknowledgeAlert acknowledges an active alert
func (h *AlertsHandler) AcknowledgeAlert(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.WithDetails(errors.ErrBadRequest, err.Error()))
		return
	}

	if !h.engine.AcknowledgeAlert(c.Param("id"), req.User) {
		c.JSON(http.StatusConflict, errors.New(http.StatusConflict, "alert not found or not active"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

// ResolveAlert resolves an alert
func (h *AlertsHandler) ResolveAlert(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.WithDetails(errors.ErrBadRequest, err.Error()))
		return
	}

	if !h.engine.ResolveAlert(c.Param("id"), req.User) {
		c.JSON(http.StatusConflict, errors.New(http.StatusConflict, "alert not found or already resolved"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

type suppressRequest struct {
	Minutes int `json:"minutes" binding:"required,gt=0"`
}

// SuppressAlert hides an alert from active views and escalation
func (h *AlertsHandler) SuppressAlert(c *gin.Context) {
	var req suppressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.WithDetails(errors.ErrBadRequest, err.Error()))
		return
	}

	if !h.engine.SuppressAlert(c.Param("id"), time.Duration(req.Minutes)*time.Minute) {
		c.JSON(http.StatusConflict, errors.New(http.StatusConflict, "alert not found or resolved"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"suppressed": true})
}

// GetAlertNotifications returns the archived notifications for an alert
func (h *AlertsHandler) GetAlertNotifications(c *gin.Context) {
	if h.notifications == nil {
		c.JSON(http.StatusNotImplemented, errors.New(http.StatusNotImplemented, "notification archive not configured"))
		return
	}

	records, err := h.notifications.ListByAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		code := errors.GetStatusCode(err)
		c.JSON(code, errors.New(code, err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": records, "count": len(records)})
}

// GetRecentNotifications returns the most recently archived notifications
func (h *AlertsHandler) GetRecentNotifications(c *gin.Context) {
	if h.notifications == nil {
		c.JSON(http.StatusNotImplemented, errors.New(http.StatusNotImplemented, "notification archive not configured"))
		return
	}

	records, err := h.notifications.ListRecent(c.Request.Context(), limitQuery(c, 50))
	if err != nil {
		code := errors.GetStatusCode(err)
		c.JSON(code, errors.New(code, err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": records, "count": len(records)})
}

// GetRules returns all registered rules
func (h *AlertsHandler) GetRules(c *gin.Context) {
	rules := h.engine.GetRules()
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

// AddRule registers a rule, overwriting on id collision
func (h *AlertsHandler) AddRule(c *gin.Context) {
	var rule alerting.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, errors.WithDetails(errors.ErrBadRequest, err.Error()))
		return
	}

	id, err := h.engine.AddRule(rule)
	if err != nil {
		code := errors.GetStatusCode(err)
		c.JSON(code, errors.New(code, err.Error()))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// UpdateRule replaces an existing rule
func (h *AlertsHandler) UpdateRule(c *gin.Context) {
	var rule alerting.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, errors.WithDetails(errors.ErrBadRequest, err.Error()))
		return
	}
	rule.ID = c.Param("id")

	if err := h.engine.UpdateRule(rule); err != nil {
		code := errors.GetStatusCode(err)
		c.JSON(code, errors.New(code, err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// RemoveRule deletes a rule
func (h *AlertsHandler) RemoveRule(c *gin.Context) {
	if !h.engine.RemoveRule(c.Param("id")) {
		c.JSON(http.StatusNotFound, errors.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

// limitQuery parses a limit query parameter with a default
func limitQuery(c *gin.Context, fallback int) int {
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
