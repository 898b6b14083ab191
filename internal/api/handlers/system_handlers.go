package handlers

import (
	"context"
	"net/http"

	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/core/processor"
	"face-attendance-go/internal/services/scheduler"
	"face-attendance-go/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// PipelineSource liefert die Zähler des Koordinators
type PipelineSource interface {
	Stats() processor.Stats
}

// WriterSource liefert die Zähler des Event-Writers
type WriterSource interface {
	Stats() processor.WriterStats
}

// StatusHandler liefert /api/status
type StatusHandler struct {
	DataDir   string
	Pipeline  PipelineSource
	Writer    WriterSource
	Jobs      func() []scheduler.JobInfo
	SSEClient func() int
	Ping      func(ctx context.Context) error
	Today     func(ctx context.Context) (models.Statistics, error)
}

// GetStatus liefert System-, Pipeline- und Writer-Statistiken
func (h *StatusHandler) GetStatus(c *gin.Context) {
	var pipeline *processor.Stats
	if h.Pipeline != nil {
		s := h.Pipeline.Stats()
		pipeline = &s
	}
	var writer *processor.WriterStats
	if h.Writer != nil {
		s := h.Writer.Stats()
		writer = &s
	}

	resp := gin.H{
		"system": utils.GetSystemStats(h.DataDir, pipeline, writer),
		"store":  "ok",
	}
	status := http.StatusOK
	if h.Ping != nil {
		if err := h.Ping(c.Request.Context()); err != nil {
			resp["store"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if h.Today != nil {
		if today, err := h.Today(c.Request.Context()); err == nil {
			resp["today"] = today
		} else {
			log.Debugf("Failed to read statistics: %v", err)
		}
	}
	if h.Jobs != nil {
		resp["jobs"] = h.Jobs()
	}
	if h.SSEClient != nil {
		resp["sse_clients"] = h.SSEClient()
	}
	c.JSON(status, resp)
}
