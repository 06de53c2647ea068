package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	DB *gorm.DB
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

// @Summary Health check
// @Tags health
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Readiness check
// @Tags health
// @Success 200 {object} map[string]string
// @Router /readyz [get]
func (h *HealthHandler) ready(c *gin.Context) {
	// Readiness is the catalog database: every endpoint but /healthz
	// touches it, so an unreachable database means drain the traffic.
	if h.DB == nil {
		notReady(c, "no database handle")
		return
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		notReady(c, "database connection pool unavailable")
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		notReady(c, "database unreachable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func notReady(c *gin.Context, reason string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status": "unavailable",
		"reason": reason,
	})
}
