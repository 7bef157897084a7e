package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/mcpanel/internal/control"
	"github.com/TheGojiOG/mcpanel/internal/metrics"
)

const defaultMetricsWindow = 24 * time.Hour

// MetricsHandler serves stored resource samples
type MetricsHandler struct {
	ctl       *control.Controller
	collector *metrics.Collector
}

func NewMetricsHandler(ctl *control.Controller, collector *metrics.Collector) *MetricsHandler {
	return &MetricsHandler{ctl: ctl, collector: collector}
}

// GetMetrics returns samples of a server, newest first. ?since takes an
// RFC3339 time or a duration such as 6h; the default is the last day.
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.ctl.Lookup(name); err != nil {
		respondError(c, err)
		return
	}

	since := time.Now().Add(-defaultMetricsWindow)
	if raw := c.Query("since"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			since = time.Now().Add(-d)
		} else if t, err := time.Parse(time.RFC3339, raw); err == nil {
			since = t
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a duration or an RFC3339 timestamp"})
			return
		}
	}

	samples, err := h.collector.Samples(name, since, maxActivityLimit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, samples)
}
