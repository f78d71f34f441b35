package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"globalpulse/internal/channel"
	"globalpulse/internal/config"
	"globalpulse/internal/ratelimit"
)

func newTestResponder(providers ...Provider) *Responder {
	r := NewResponder(config.Config{AITimeoutSeconds: 2}, channel.NewRegistry(channel.DefaultChannels()), ratelimit.NewWindow(30*time.Second, 3))
	r.providers = providers
	return r
}

func TestMentioned(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"hello @pulse, markets?", true},
		{"hello @PULSE", true},
		{"hello @Pulse!", true},
		{"hello world", false},
		{"pulse without at", false},
		{strings.Repeat("Ⱥ", 7) + "@pulse", true},
	}
	for _, tt := range tests {
		if got := Mentioned(tt.content); got != tt.want {
			t.Errorf("Mentioned(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

func TestStripMention(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"@pulse what's up?", "what's up"},
		{"hey @Pulse, anything new?", "hey , anything new"},
		{"@pulse", ""},
		{"@pulse!!!", ""},
		{"  @PULSE  ", ""},
		// 小写映射会加长字节数的字符（Ⱥ → ⱥ）不能让偏移漂移或越界。
		{strings.Repeat("Ⱥ", 7) + "@pulse", "ȺȺȺȺȺȺȺ"},
		{strings.Repeat("Ⱥ", 7) + "@pulse  up?", "ȺȺȺȺȺȺȺ  up"},
		{"İstanbul @pulse haberleri?", "İstanbul  haberleri"},
	}
	for _, tt := range tests {
		if got := StripMention(tt.in); got != tt.want {
			t.Errorf("StripMention(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReply_EmptyQuestionGetsHelp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()
	r := newTestResponder(Provider{Name: "test", URL: srv.URL, APIKey: "k", Model: "m"})

	got := r.Reply(context.Background(), "@pulse", "global", nil)
	if got != cannedHelp {
		t.Errorf("Reply() = %q, want canned help", got)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("empty question must not hit the provider")
	}
}

func TestReply_ChannelRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"choices":[{"message":{"content":"answer"}}]}`))
	}))
	defer srv.Close()
	r := newTestResponder(Provider{Name: "test", URL: srv.URL, APIKey: "k", Model: "m"})

	for i := 0; i < 3; i++ {
		if got := r.Reply(context.Background(), "@pulse markets?", "finance", nil); got == cannedRateLimited {
			t.Fatalf("reply %d unexpectedly rate limited", i+1)
		}
	}
	if got := r.Reply(context.Background(), "@pulse markets?", "finance", nil); got != cannedRateLimited {
		t.Errorf("4th Reply() = %q, want canned rate-limit message", got)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("provider called %d times, want 3", calls)
	}
	// Other channels keep their own quota.
	if got := r.Reply(context.Background(), "@pulse markets?", "tech", nil); got == cannedRateLimited {
		t.Error("rate limit leaked across channels")
	}
}

func TestReply_NoProviderConfigured(t *testing.T) {
	r := newTestResponder()
	typing := false
	got := r.Reply(context.Background(), "@pulse what's happening in markets?", "finance", func() { typing = true })
	if got != cannedTrouble {
		t.Errorf("Reply() = %q, want canned trouble message", got)
	}
	if !typing {
		t.Error("typing callback should fire before the provider stage")
	}
}

func TestReply_FallbackProvider(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"Oil is up 2% <b>today</b>."}}]}`))
	}))
	defer good.Close()

	r := newTestResponder(
		Provider{Name: "primary", URL: bad.URL, APIKey: "k", Model: "m"},
		Provider{Name: "fallback", URL: good.URL, APIKey: "k", Model: "m"},
	)

	got := r.Reply(context.Background(), "@pulse oil?", "finance", nil)
	if strings.Contains(got, "<b>") {
		t.Errorf("Reply() = %q, reply must be HTML-escaped", got)
	}
	if !strings.Contains(got, "Oil is up 2%") {
		t.Errorf("Reply() = %q, want fallback provider answer", got)
	}
}

func TestReply_PromptCarriesContext(t *testing.T) {
	var seenSystem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Messages []chatMessage `json:"messages"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err == nil && len(body.Messages) > 0 {
			seenSystem = body.Messages[0].Content
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	r := newTestResponder(Provider{Name: "test", URL: srv.URL, APIKey: "k", Model: "m"})
	r.UpdateHeadlines([]string{"Fed holds rates", "Yen slides"})

	r.Reply(context.Background(), "@pulse rates?", "finance", nil)

	if !strings.Contains(seenSystem, "#finance") {
		t.Errorf("system prompt missing channel context: %q", seenSystem)
	}
	if !strings.Contains(seenSystem, "Fed holds rates") {
		t.Errorf("system prompt missing headlines: %q", seenSystem)
	}
}

func TestUpdateHeadlines_Cap(t *testing.T) {
	r := newTestResponder()
	many := make([]string, 50)
	for i := range many {
		many[i] = "headline"
	}
	r.UpdateHeadlines(many)
	if got := len(r.headlineSnapshot(100)); got != headlineCap {
		t.Errorf("headline cache holds %d entries, want %d", got, headlineCap)
	}
}
