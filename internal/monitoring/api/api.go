// Package api exposes the management HTTP surface over the monitoring
// engine. It only translates requests and errors; all behavior lives in
// the services.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/chainops/watchtower/internal/monitoring/model"
	"github.com/chainops/watchtower/internal/monitoring/service/alerting"
	"github.com/chainops/watchtower/internal/monitoring/service/health"
	"github.com/chainops/watchtower/internal/monitoring/service/scheduler"
	"github.com/chainops/watchtower/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NodeSource verifies node ids before monitoring jobs are registered.
type NodeSource interface {
	GetNode(ctx context.Context, id string) (*model.Node, error)
}

type Api struct {
	engine *scheduler.Engine
	alerts *alerting.Manager
	snaps  *health.Snapshotter
	nodes  NodeSource
	hub    *realtime.Hub
}

func NewApi(router *gin.Engine, engine *scheduler.Engine, alerts *alerting.Manager, snaps *health.Snapshotter, nodes NodeSource, hub *realtime.Hub) *Api {
	api := &Api{engine: engine, alerts: alerts, snaps: snaps, nodes: nodes, hub: hub}
	api.setupRouters(router)
	return api
}

func (api *Api) setupRouters(router *gin.Engine) {
	router.POST("/v1/engine/start", api.startEngine)
	router.POST("/v1/engine/stop", api.stopEngine)
	router.GET("/v1/engine/status", api.engineStatus)

	router.POST("/v1/nodes/:nodeID/monitoring/start", api.startNodeMonitoring)
	router.POST("/v1/nodes/:nodeID/monitoring/stop", api.stopNodeMonitoring)

	router.POST("/v1/nodes/:nodeID/alerts", api.createAlert)
	router.GET("/v1/nodes/:nodeID/alerts", api.listAlerts)
	router.GET("/v1/alerts/:alertID", api.getAlert)
	router.POST("/v1/alerts/:alertID/resolve", api.resolveAlert)

	router.GET("/v1/system/health", api.systemHealth)
	router.GET("/v1/nodes/:nodeID/metrics", api.nodeMetrics)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if api.hub != nil {
		router.GET("/ws", gin.WrapH(api.hub))
	}
}

func (api *Api) startEngine(c *gin.Context) {
	if err := api.engine.Start(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (api *Api) stopEngine(c *gin.Context) {
	api.engine.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

func (api *Api) engineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": api.engine.Running(), "jobs": api.engine.JobCount()})
}

func (api *Api) startNodeMonitoring(c *gin.Context) {
	nodeID := c.Param("nodeID")
	// Reject unknown ids up front; otherwise a typo would register a
	// check job that can only ever fail.
	if _, err := api.nodes.GetNode(c.Request.Context(), nodeID); err != nil {
		writeError(c, err)
		return
	}
	api.engine.StartNodeMonitoring(nodeID)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (api *Api) stopNodeMonitoring(c *gin.Context) {
	api.engine.StopNodeMonitoring(c.Param("nodeID"))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type createAlertRequest struct {
	Type     string         `json:"type" binding:"required"`
	Severity model.Severity `json:"severity" binding:"required"`
	Message  string         `json:"message" binding:"required"`
}

func validSeverity(s model.Severity) bool {
	switch s {
	case model.SeverityLow, model.SeverityMedium, model.SeverityHigh, model.SeverityCritical:
		return true
	}
	return false
}

func (api *Api) createAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	if !validSeverity(req.Severity) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid severity"})
		return
	}
	id, err := api.alerts.CreateAlert(c.Request.Context(), c.Param("nodeID"), model.AlertDraft{
		Type:     req.Type,
		Severity: req.Severity,
		Message:  req.Message,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (api *Api) listAlerts(c *gin.Context) {
	var resolved *bool
	if v := c.Query("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resolved filter"})
			return
		}
		resolved = &b
	}
	alerts, err := api.alerts.GetAlerts(c.Request.Context(), c.Param("nodeID"), resolved)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (api *Api) getAlert(c *gin.Context) {
	alert, err := api.alerts.GetAlert(c.Request.Context(), c.Param("alertID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type resolveAlertRequest struct {
	ResolvedBy string `json:"resolvedBy" binding:"required"`
}

func (api *Api) resolveAlert(c *gin.Context) {
	var req resolveAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	if err := api.alerts.ResolveAlert(c.Request.Context(), c.Param("alertID"), req.ResolvedBy); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (api *Api) systemHealth(c *gin.Context) {
	snap, err := api.snaps.SystemHealth(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (api *Api) nodeMetrics(c *gin.Context) {
	since := time.Now().Add(-24 * time.Hour)
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since timestamp"})
			return
		}
		since = t
	}
	samples, err := api.snaps.NodeMetrics(c.Request.Context(), c.Param("nodeID"), since)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": samples})
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, model.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
