package ws

import (
	"context"
	"html"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"globalpulse/internal/ai"
	"globalpulse/internal/channel"
	"globalpulse/internal/identity"
	"globalpulse/internal/metrics"
	"globalpulse/internal/models"
	"globalpulse/internal/ratelimit"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	maxContentLen = 500
	historyOnJoin = 50
	pingInterval  = 30 * time.Second
)

// Hub 持有全部连接和聊天子系统的各个存储，是协议帧的唯一编排者。
// 连接上的 sess/channel/lastPong 只在持有 h.mu 时读写。
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}

	identity   *identity.Store
	registry   *channel.Registry
	msgLimiter *ratelimit.Window
	responder  *ai.Responder

	interval time.Duration
	now      func() time.Time
	stop     chan struct{}
}

func NewHub(ids *identity.Store, registry *channel.Registry, msgLimiter *ratelimit.Window, responder *ai.Responder) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		identity:   ids,
		registry:   registry,
		msgLimiter: msgLimiter,
		responder:  responder,
		interval:   pingInterval,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
}

// register 接纳新连接并下发 init 帧（频道列表、各频道统计、机器人身份）。
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	c.lastPong = h.now()
	h.mu.Unlock()
	metrics.WsConnections.Inc()
	c.enqueue(frame(map[string]interface{}{
		"type":     "init",
		"channels": h.channelStats(),
		"bot":      ai.BotProfile(),
	}))
}

// unregister 摘除连接；若其在某频道内，向该频道广播新的在线列表。幂等。
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	old := c.channel
	c.channel = ""
	c.closeSend()
	var dead []*Client
	if old != "" {
		dead = h.broadcastLocked(old, h.usersFrameLocked(old), nil)
	}
	h.mu.Unlock()
	metrics.WsConnections.Dec()
	h.kill(dead)
}

// kill 淘汰发送缓冲打满或心跳超时的连接。
func (h *Hub) kill(clients []*Client) {
	for _, c := range clients {
		h.unregister(c)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

// Run 周期向所有连接发应用层 ping，并收割超过两个周期没回 pong 的死连接。
func (h *Hub) Run() {
	ping := frame(map[string]interface{}{"type": "ping"})
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			now := h.now()
			var dead []*Client
			h.mu.Lock()
			for c := range h.clients {
				if now.Sub(c.lastPong) > 2*h.interval {
					dead = append(dead, c)
					continue
				}
				if !c.enqueue(ping) {
					dead = append(dead, c)
				}
			}
			h.mu.Unlock()
			h.kill(dead)
		}
	}
}

// Stop 结束心跳循环，用于优雅停服。
func (h *Hub) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}

// dispatch 按类型处理一个入站帧。前置条件不满足只回错误帧，不影响连接本身。
func (h *Hub) dispatch(c *Client, in Inbound) {
	switch in.Type {
	case TypeRequestCode:
		h.handleRequestCode(c, in)
	case TypeVerifyCode:
		h.handleVerifyCode(c, in)
	case TypeResumeSession:
		h.handleResumeSession(c, in)
	case TypeJoinChannel:
		h.handleJoinChannel(c, in)
	case TypeSendMessage:
		h.handleSendMessage(c, in)
	case TypeTyping:
		h.handleTyping(c)
	case TypeUpdateNews:
		h.responder.UpdateHeadlines(in.Headlines)
	case TypePong:
		h.mu.Lock()
		c.lastPong = h.now()
		h.mu.Unlock()
	default:
		c.sendError("unknown message type")
	}
}

func (h *Hub) handleRequestCode(c *Client, in Inbound) {
	if err := h.identity.RequestCode(in.Email, in.Username); err != nil {
		c.sendError(err.Error())
		return
	}
	metrics.CodesIssuedTotal.Inc()
	c.enqueue(frame(map[string]interface{}{"type": "code-sent", "email": strings.ToLower(strings.TrimSpace(in.Email))}))
}

func (h *Hub) handleVerifyCode(c *Client, in Inbound) {
	sess, err := h.identity.VerifyCode(in.Email, in.Code)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	h.mu.Lock()
	c.sess = sess
	h.mu.Unlock()
	c.enqueue(frame(map[string]interface{}{
		"type":         "verified",
		"sessionToken": sess.Token,
		"user":         sess.Profile(),
		"channels":     h.channelStats(),
	}))
}

func (h *Hub) handleResumeSession(c *Client, in Inbound) {
	sess, err := h.identity.Resume(in.SessionToken)
	if err != nil {
		c.enqueue(frame(map[string]interface{}{"type": "session-expired"}))
		return
	}
	h.mu.Lock()
	c.sess = sess
	h.mu.Unlock()
	c.enqueue(frame(map[string]interface{}{
		"type":     "session-resumed",
		"user":     sess.Profile(),
		"channels": h.channelStats(),
	}))
}

// handleJoinChannel 原子地完成换频道：旧频道在线列表重算，新频道下发
// 最近历史与在线列表。客户端视角不存在"无频道"的中间状态。
func (h *Hub) handleJoinChannel(c *Client, in Inbound) {
	ch, ok := h.registry.Get(in.Channel)
	if !ok {
		c.sendError("unknown channel")
		return
	}
	var dead []*Client
	h.mu.Lock()
	if c.sess == nil {
		h.mu.Unlock()
		c.sendError("sign in before joining a channel")
		return
	}
	old := c.channel
	c.channel = ch.ID
	if old != "" && old != ch.ID {
		dead = append(dead, h.broadcastLocked(old, h.usersFrameLocked(old), nil)...)
	}
	users, online := h.usersLocked(ch.ID)
	c.enqueue(frame(map[string]interface{}{
		"type":    "channel-joined",
		"channel": ch.ID,
		"history": h.registry.Recent(ch.ID, historyOnJoin),
		"users":   users,
		"online":  online,
	}))
	dead = append(dead, h.broadcastLocked(ch.ID, h.usersFrameLocked(ch.ID), c)...)
	h.mu.Unlock()
	h.kill(dead)
}

func (h *Hub) handleSendMessage(c *Client, in Inbound) {
	h.mu.Lock()
	sess, ch := c.sess, c.channel
	h.mu.Unlock()
	if sess == nil || ch == "" {
		c.sendError("join a channel before sending messages")
		return
	}
	if !h.msgLimiter.Allow(sess.Token) {
		c.sendError("slow down, you are sending messages too quickly")
		return
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		c.sendError("message is empty")
		return
	}
	if utf8.RuneCountInString(content) > maxContentLen {
		c.sendError("message too long (max 500 characters)")
		return
	}

	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		UserID:    sess.Email,
		Username:  sess.Username,
		Color:     sess.Color,
		Content:   html.EscapeString(content),
		Channel:   ch,
		CreatedAt: h.now(),
	}
	h.post(msg)
	metrics.ChatMessagesTotal.Inc()

	// 机器人只是一个延迟的消息生产者：异步生成回复后走同一条 post 路径。
	if ai.Mentioned(content) {
		go h.botReply(content, ch)
	}
}

func (h *Hub) handleTyping(c *Client) {
	h.mu.Lock()
	if c.sess == nil || c.channel == "" {
		h.mu.Unlock()
		c.sendError("join a channel first")
		return
	}
	b := frame(map[string]interface{}{"type": "typing", "channel": c.channel, "username": c.sess.Username})
	dead := h.broadcastLocked(c.channel, b, c)
	h.mu.Unlock()
	h.kill(dead)
}

// post 追加一条消息并向频道内所有连接广播（含发送者，作为送达确认）。
// 追加与广播在同一临界区内完成，保证频道内的投递顺序与缓冲顺序一致。
func (h *Hub) post(msg models.ChatMessage) {
	b := frame(map[string]interface{}{"type": "message", "message": msg})
	h.mu.Lock()
	if err := h.registry.Append(msg.Channel, msg); err != nil {
		h.mu.Unlock()
		log.Error().Err(err).Str("channel", msg.Channel).Msg("append message")
		return
	}
	dead := h.broadcastLocked(msg.Channel, b, nil)
	h.mu.Unlock()
	h.kill(dead)
}

func (h *Hub) botReply(content, ch string) {
	reply := h.responder.Reply(context.Background(), content, ch, func() {
		h.mu.Lock()
		b := frame(map[string]interface{}{"type": "typing", "channel": ch, "username": ai.BotUsername})
		dead := h.broadcastLocked(ch, b, nil)
		h.mu.Unlock()
		h.kill(dead)
	})
	h.post(models.ChatMessage{
		ID:        uuid.NewString(),
		UserID:    ai.BotUserID,
		Username:  ai.BotUsername,
		Color:     ai.BotColor,
		Content:   reply,
		Channel:   ch,
		IsBot:     true,
		CreatedAt: h.now(),
	})
}

// broadcastLocked 把帧投给频道内除 except 外的所有连接，返回缓冲打满的死连接。
// 调用方必须持有 h.mu。
func (h *Hub) broadcastLocked(ch string, b []byte, except *Client) []*Client {
	var dead []*Client
	for c := range h.clients {
		if c.channel != ch || c == except {
			continue
		}
		if !c.enqueue(b) {
			dead = append(dead, c)
		}
	}
	return dead
}

// usersLocked 按需重算频道在线列表：按 token 去重，机器人恒在末尾。
func (h *Hub) usersLocked(ch string) ([]models.UserProfile, int) {
	seen := make(map[string]struct{})
	var users []models.UserProfile
	for c := range h.clients {
		if c.channel != ch || c.sess == nil {
			continue
		}
		if _, ok := seen[c.sess.Token]; ok {
			continue
		}
		seen[c.sess.Token] = struct{}{}
		users = append(users, c.sess.Profile())
	}
	users = append(users, ai.BotProfile())
	return users, len(users)
}

func (h *Hub) usersFrameLocked(ch string) []byte {
	users, online := h.usersLocked(ch)
	return frame(map[string]interface{}{"type": "users", "channel": ch, "users": users, "online": online})
}

// Online 返回频道当前在线人数（含机器人），供 REST 统计接口复用。
func (h *Hub) Online(ch string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, online := h.usersLocked(ch)
	return online
}

// channelStats 生成频道列表及每个频道的消息数与在线数。
func (h *Hub) channelStats() []map[string]interface{} {
	chs := h.registry.List()
	out := make([]map[string]interface{}, 0, len(chs))
	for _, ch := range chs {
		out = append(out, map[string]interface{}{
			"id":          ch.ID,
			"name":        ch.Name,
			"icon":        ch.Icon,
			"description": ch.Description,
			"messages":    h.registry.Count(ch.ID),
			"online":      h.Online(ch.ID),
		})
	}
	return out
}
