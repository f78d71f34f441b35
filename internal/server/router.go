package server

import (
	"net/http"
	"strconv"

	"globalpulse/internal/ai"
	"globalpulse/internal/channel"
	"globalpulse/internal/config"
	"globalpulse/internal/metrics"
	"globalpulse/internal/mw"
	"globalpulse/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler 聚合 REST 侧的依赖。聊天协议本身走 /ws，这里只是面板用的只读口子
// 加上一条可信的头条推送通道。
type Handler struct {
	registry  *channel.Registry
	responder *ai.Responder
	hub       *ws.Hub
}

func NewHandler(registry *channel.Registry, responder *ai.Responder, hub *ws.Hub) *Handler {
	return &Handler{registry: registry, responder: responder, hub: hub}
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
// 限速器由调用方构造并在停服时 Stop，这里只挂中间件。
func SetupRouter(cfg config.Config, h *Handler, rl *mw.Limiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(rl.Middleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.GET("/channels", h.ListChannels)
	api.GET("/channels/:id/messages", h.ChannelMessages)
	api.POST("/news", h.PushHeadlines)

	r.GET("/ws", ws.Serve(h.hub))

	return r
}

// ListChannels 返回频道列表及每个频道的消息数与在线数。
func (h *Handler) ListChannels(c *gin.Context) {
	chs := h.registry.List()
	out := make([]gin.H, 0, len(chs))
	for _, ch := range chs {
		out = append(out, gin.H{
			"id":          ch.ID,
			"name":        ch.Name,
			"icon":        ch.Icon,
			"description": ch.Description,
			"messages":    h.registry.Count(ch.ID),
			"online":      h.hub.Online(ch.ID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

// ChannelMessages 公开返回某频道最近的消息，供面板无登录预览。
func (h *Handler) ChannelMessages(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.registry.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= channel.HistoryCap {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{"channel": id, "messages": h.registry.Recent(id, limit)})
}

// PushHeadlines 接收可信的本地新闻源推送，刷新机器人引用的头条缓存。
func (h *Handler) PushHeadlines(c *gin.Context) {
	var req struct {
		Headlines []string `json:"headlines"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Headlines) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	kept := h.responder.UpdateHeadlines(req.Headlines)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "count": kept})
}
