package channel

import (
	"errors"
	"sync"

	"globalpulse/internal/models"
)

// HistoryCap 是单个频道保留的最大消息数，超出后从头部淘汰（FIFO）。
const HistoryCap = 200

var ErrUnknownChannel = errors.New("unknown channel")

// DefaultChannels 是面板固定的六个话题频道。
func DefaultChannels() []models.Channel {
	return []models.Channel{
		{ID: "global", Name: "Global", Icon: "🌍", Description: "World news and general discussion"},
		{ID: "finance", Name: "Finance", Icon: "📈", Description: "Markets, crypto and macro"},
		{ID: "tech", Name: "Tech", Icon: "💻", Description: "Technology and science of computing"},
		{ID: "conflict", Name: "Conflict", Icon: "⚔️", Description: "Conflicts, security and geopolitics"},
		{ID: "science", Name: "Science", Icon: "🔬", Description: "Research, space and environment"},
		{ID: "sports", Name: "Sports", Icon: "🏆", Description: "Scores, matches and transfers"},
	}
}

// Registry 持有固定频道集合和各频道的环形消息缓冲，进程内存态，无持久化。
type Registry struct {
	mu       sync.RWMutex
	channels []models.Channel
	history  map[string][]models.ChatMessage
}

func NewRegistry(channels []models.Channel) *Registry {
	r := &Registry{
		channels: channels,
		history:  make(map[string][]models.ChatMessage, len(channels)),
	}
	for _, ch := range channels {
		r.history[ch.ID] = nil
	}
	return r
}

// List 返回频道列表的副本。
func (r *Registry) List() []models.Channel {
	out := make([]models.Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// Get 按 id 查找频道。
func (r *Registry) Get(id string) (models.Channel, bool) {
	for _, ch := range r.channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return models.Channel{}, false
}

// Append 追加一条消息，缓冲超过上限时丢弃最旧的若干条。
func (r *Registry) Append(id string, msg models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.history[id]
	if !ok {
		return ErrUnknownChannel
	}
	buf = append(buf, msg)
	if len(buf) > HistoryCap {
		buf = buf[len(buf)-HistoryCap:]
	}
	r.history[id] = buf
	return nil
}

// Recent 返回最近 n 条消息（按到达顺序）。
func (r *Registry) Recent(id string, n int) []models.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	buf := r.history[id]
	if n > len(buf) {
		n = len(buf)
	}
	out := make([]models.ChatMessage, n)
	copy(out, buf[len(buf)-n:])
	return out
}

// Count 返回频道当前缓冲的消息数，供统计接口使用。
func (r *Registry) Count(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.history[id])
}
