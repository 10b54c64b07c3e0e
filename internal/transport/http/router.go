package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"trivia-match-service/internal/app"
	"trivia-match-service/internal/domain"
)

type createMatchRequest struct {
	CreatedBy string `json:"createdBy" binding:"required"`
	GameKind  string `json:"gameKind"`
}

// NewRouter wires the REST API, health check and WebSocket endpoint.
func NewRouter(registry *app.Registry, ws *WSHandler, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/ws", gin.WrapF(ws.ServeWS))

	h := &matchHandlers{registry: registry}
	api := router.Group("/api")
	{
		api.POST("/matches", h.create)
		api.GET("/matches/:id", h.get)
		api.DELETE("/matches/:id", h.delete)
		api.GET("/players/:player/matches", h.listForPlayer)
	}
	return router
}

type matchHandlers struct {
	registry *app.Registry
}

func (h *matchHandlers) create(c *gin.Context) {
	var req createMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "createdBy is required"})
		return
	}
	kind := domain.GameKind(req.GameKind)
	if kind == "" {
		kind = domain.GameKindTrivia
	}
	id, err := h.registry.CreateMatch(c.Request.Context(), kind, req.CreatedBy)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"matchId": id})
}

func (h *matchHandlers) get(c *gin.Context) {
	snap, err := h.registry.GetOrLoad(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *matchHandlers) delete(c *gin.Context) {
	if err := h.registry.DeleteMatch(c.Request.Context(), c.Param("id"), c.Query("actor")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *matchHandlers) listForPlayer(c *gin.Context) {
	player := c.Param("player")
	matches, err := h.registry.FindMatchesForPlayer(c.Request.Context(), player)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"player":  player,
		"matches": matches,
		"total":   len(matches),
	})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrMatchNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrMatchNotStale):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrUnsupportedGameKind):
		status = http.StatusBadRequest
	case domain.IsValidation(err):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": clientMessage(err)})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()))
	}
}
