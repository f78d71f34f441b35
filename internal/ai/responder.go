package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"globalpulse/internal/channel"
	"globalpulse/internal/config"
	"globalpulse/internal/metrics"
	"globalpulse/internal/models"
	"globalpulse/internal/ratelimit"

	"github.com/rs/zerolog/log"
)

// Mention 是触发机器人回复的标记，在消息中不区分大小写地匹配。
const Mention = "@pulse"

// Pulse 机器人的合成身份，出现在每个频道的在线列表里。
const (
	BotUserID   = "bot:pulse"
	BotUsername = "Pulse"
	BotColor    = "#00d4ff"
)

// BotProfile 返回机器人在在线列表中的条目。
func BotProfile() models.UserProfile {
	return models.UserProfile{UserID: BotUserID, Username: BotUsername, Color: BotColor, IsBot: true}
}

// 三种兜底回复：机器人永远会回应一次 @ 提及，哪怕外部服务全挂。
const (
	cannedRateLimited = "Easy there! I can only answer a few questions per channel every 30 seconds. Try again shortly."
	cannedHelp        = "Hi! Mention me with a question, e.g. \"" + Mention + " what moved the markets today?\" and I will answer with the latest headlines in mind."
	cannedTrouble     = "I am having trouble reaching my news brain right now. Give me a minute and ask again."
)

const headlineCap = 30

// Provider 描述一个 OpenAI 兼容的 chat-completions 服务商。
type Provider struct {
	Name   string
	URL    string
	APIKey string
	Model  string
}

// Responder 负责把 @ 提及变成机器人回复：限流、取上下文、调服务商、降级兜底。
type Responder struct {
	providers []Provider
	client    *http.Client
	limiter   *ratelimit.Window
	registry  *channel.Registry
	timeout   time.Duration
	now       func() time.Time

	mu        sync.Mutex
	headlines []string
}

func NewResponder(cfg config.Config, registry *channel.Registry, limiter *ratelimit.Window) *Responder {
	var providers []Provider
	if cfg.GroqAPIKey != "" {
		providers = append(providers, Provider{
			Name:   "groq",
			URL:    "https://api.groq.com/openai/v1/chat/completions",
			APIKey: cfg.GroqAPIKey,
			Model:  cfg.GroqModel,
		})
	}
	if cfg.OpenRouterAPIKey != "" {
		providers = append(providers, Provider{
			Name:   "openrouter",
			URL:    "https://openrouter.ai/api/v1/chat/completions",
			APIKey: cfg.OpenRouterAPIKey,
			Model:  cfg.OpenRouterModel,
		})
	}
	timeout := time.Duration(cfg.AITimeoutSeconds) * time.Second
	return &Responder{
		providers: providers,
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
		registry:  registry,
		timeout:   timeout,
		now:       time.Now,
	}
}

// mentionIndex 在原串上做大小写无关匹配，返回提及标记的字节偏移。
// 不能先 ToLower 再拿偏移回原串用：部分 Unicode 大小写映射会改变 UTF-8 字节长度。
func mentionIndex(s string) int {
	for i := 0; i+len(Mention) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(Mention)], Mention) {
			return i
		}
	}
	return -1
}

// Mentioned 判断消息内容是否 @ 了机器人。
func Mentioned(content string) bool {
	return mentionIndex(content) >= 0
}

// StripMention 去掉提及标记和两端的标点空白，剩下的才是真正的问题。
func StripMention(content string) string {
	var b strings.Builder
	for {
		i := mentionIndex(content)
		if i < 0 {
			b.WriteString(content)
			break
		}
		b.WriteString(content[:i])
		content = content[i+len(Mention):]
	}
	return strings.Trim(b.String(), " \t\n,.!?:;-")
}

// UpdateHeadlines 替换供机器人引用的新闻标题缓存，最多保留 30 条，返回实际保留数。
func (r *Responder) UpdateHeadlines(headlines []string) int {
	if len(headlines) > headlineCap {
		headlines = headlines[:headlineCap]
	}
	cp := make([]string, len(headlines))
	copy(cp, headlines)
	r.mu.Lock()
	r.headlines = cp
	r.mu.Unlock()
	return len(cp)
}

func (r *Responder) headlineSnapshot(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.headlines) {
		n = len(r.headlines)
	}
	out := make([]string, n)
	copy(out, r.headlines[:n])
	return out
}

// Reply 生成机器人对一条提及的回复文本，永不返回空串。
// onTyping 在真正发起外部调用前触发一次，尽力而为。
func (r *Responder) Reply(ctx context.Context, content, channelID string, onTyping func()) string {
	if !r.limiter.Allow(channelID) {
		metrics.AIRepliesTotal.WithLabelValues("rate_limited").Inc()
		return cannedRateLimited
	}
	question := StripMention(content)
	if question == "" {
		metrics.AIRepliesTotal.WithLabelValues("help").Inc()
		return cannedHelp
	}
	if onTyping != nil {
		onTyping()
	}

	system := r.systemPrompt(channelID)
	for _, p := range r.providers {
		reply, err := r.call(ctx, p, system, question)
		if err != nil {
			log.Warn().Err(err).Str("provider", p.Name).Str("channel", channelID).Msg("ai completion failed")
			continue
		}
		metrics.AIRepliesTotal.WithLabelValues(p.Name).Inc()
		return html.EscapeString(strings.TrimSpace(reply))
	}
	metrics.AIRepliesTotal.WithLabelValues("fallback").Inc()
	return cannedTrouble
}

// systemPrompt 汇总日期、频道语境、最近对话和缓存头条，作为模型的系统提示。
func (r *Responder) systemPrompt(channelID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are Pulse, the resident assistant of the GlobalPulse news dashboard chat. Today is %s.\n",
		r.now().UTC().Format("Monday, 2 January 2006"))
	if ch, ok := r.registry.Get(channelID); ok {
		fmt.Fprintf(&b, "You are answering in the #%s channel (%s).\n", ch.ID, ch.Description)
	}
	b.WriteString("Keep answers short (under 3 sentences), factual and conversational. Plain text only, no markdown.\n")

	if heads := r.headlineSnapshot(15); len(heads) > 0 {
		b.WriteString("\nLatest headlines:\n")
		for _, h := range heads {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}

	recent := r.registry.Recent(channelID, 20)
	var transcript []models.ChatMessage
	for _, m := range recent {
		if m.IsBot {
			continue
		}
		transcript = append(transcript, m)
	}
	if len(transcript) > 10 {
		transcript = transcript[len(transcript)-10:]
	}
	if len(transcript) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, m := range transcript {
			fmt.Fprintf(&b, "%s: %s\n", m.Username, m.Content)
		}
	}
	return b.String()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// call 以 OpenAI 兼容的报文调用单个服务商，带硬超时。
func (r *Responder) call(ctx context.Context, p Provider, system, question string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: p.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: question},
		},
		Temperature: 0.6,
		MaxTokens:   300,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%s returned %d: %s", p.Name, resp.StatusCode, snippet)
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode %s response: %w", p.Name, err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%s returned no choices", p.Name)
	}
	return out.Choices[0].Message.Content, nil
}
