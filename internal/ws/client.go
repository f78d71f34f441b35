package ws

import (
	"net/http"
	"sync"
	"time"

	"globalpulse/internal/models"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer    = 256
	maxFrameBytes = 16 << 10
	writeWait     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client 是一条活跃的 WebSocket 连接。sess/channel/lastPong 由 hub.mu 保护，
// send 的关闭状态由 sendMu 保护。
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	sendMu sync.Mutex
	closed bool

	sess     *models.Session
	channel  string
	lastPong time.Time
}

// Serve 返回 /ws 的 gin handler：升级连接并进入读写泵。
// 连接以未认证状态开始，认证与频道加入都通过协议帧完成。
func Serve(h *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
		h.register(client)

		go client.writePump()
		client.readPump()
	}
}

// enqueue 非阻塞投递一个出站帧，缓冲满则放弃（调用方决定是否淘汰连接）。
// 对已关闭的连接投递直接返回 false，不会 panic。
func (c *Client) enqueue(b []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// closeSend 幂等地关闭出站缓冲，让 writePump 退出。
func (c *Client) closeSend() {
	c.sendMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.sendMu.Unlock()
}

func (c *Client) sendError(message string) {
	c.enqueue(errorFrame(message))
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameBytes)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.hub.dispatch(c, in)
	}
}

func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		_, _ = w.Write(message)
		if err := w.Close(); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
