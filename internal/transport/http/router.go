package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterConfig carries what the router needs beyond the handlers.
type RouterConfig struct {
	Log      *zap.Logger
	Registry *prometheus.Registry
}

// NewRouter builds the gin engine with the REST, websocket and ops routes.
func NewRouter(h *Handler, ws *WSHandler, cfg RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := gin.New()
	r.Use(recovery(log), requestLogger(log), newRequestMetrics(reg).middleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	exams := r.Group("/api/exams/:examId")
	{
		exams.POST("/attempts", h.StartAttempt)
		exams.GET("/attempts/me", h.GetAttempt)
		exams.POST("/attempts/submit", h.SubmitAttempt)
		exams.GET("/analytics", h.GetAnalytics)
		exams.GET("/leaderboard", h.GetLeaderboard)
		if ws != nil {
			exams.GET("/leaderboard/ws", ws.ServeWS)
		}
	}

	admin := r.Group("/api/admin/exams/:examId")
	{
		admin.PUT("", h.SaveExam)
		admin.DELETE("", h.DeleteExam)
		admin.PUT("/questions/:questionId", h.SaveQuestion)
		admin.DELETE("/questions/:questionId", h.DeleteQuestion)
		admin.POST("/recompute", h.RecomputeExam)
	}
	return r
}
