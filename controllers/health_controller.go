package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"payment-sync-service/gateway"
	"payment-sync-service/reconcile"
)

type HealthController struct {
	DB         *gorm.DB
	Gateway    *gateway.Client
	Reconciler *reconcile.Reconciler
}

// Live reports process liveness.
func (hc *HealthController) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports readiness plus the resilience internals: breaker states and
// the reconciliation backlog.
func (hc *HealthController) Ready(c *gin.Context) {
	status := http.StatusOK
	dbStatus := "ok"
	if sqlDB, err := hc.DB.DB(); err != nil {
		dbStatus = "unavailable"
		status = http.StatusServiceUnavailable
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "unavailable"
		status = http.StatusServiceUnavailable
	}

	resp := gin.H{
		"status":   "ok",
		"database": dbStatus,
	}
	if status != http.StatusOK {
		resp["status"] = "degraded"
	}
	if hc.Gateway != nil {
		resp["breakers"] = hc.Gateway.Health()
	}
	if hc.Reconciler != nil {
		resp["reconcile_queue_depth"] = hc.Reconciler.Depth()
	}

	c.JSON(status, resp)
}
