package mw

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter 按 IP+路由维护令牌桶，挡住对 REST 接口和 /ws 升级的刷量。
// 聊天协议内部的滑动窗口限流是另一套机制，见 internal/ratelimit。
type Limiter struct {
	mu   sync.Mutex
	m    map[string]*ipLimiter
	r    rate.Limit
	b    int
	ttl  time.Duration
	stop chan struct{}
}

func NewLimiter(r rate.Limit, burst int, ttl time.Duration) *Limiter {
	l := &Limiter{m: make(map[string]*ipLimiter), r: r, b: burst, ttl: ttl, stop: make(chan struct{})}
	go l.gc()
	return l
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	il, ok := l.m[key]
	if ok {
		il.seen = time.Now()
		return il.lim
	}
	lim := rate.NewLimiter(l.r, l.b)
	l.m[key] = &ipLimiter{lim: lim, seen: time.Now()}
	return lim
}

func (l *Limiter) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for k, v := range l.m {
				if now.Sub(v.seen) > l.ttl {
					delete(l.m, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop 停止 GC goroutine，用于优雅停服。
func (l *Limiter) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

// Middleware 返回基于 IP+路径的令牌桶限速中间件。Limiter 由调用方持有并负责 Stop。
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := clientIP(c.Request.RemoteAddr)
		key := ip + "|" + c.FullPath()
		if key == "|" {
			key = ip + "|" + c.Request.URL.Path
		}
		if !l.get(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
