package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"globalpulse/internal/ai"
	"globalpulse/internal/channel"
	"globalpulse/internal/config"
	"globalpulse/internal/email"
	"globalpulse/internal/identity"
	clog "globalpulse/internal/log"
	"globalpulse/internal/mw"
	"globalpulse/internal/ratelimit"
	"globalpulse/internal/server"
	"globalpulse/internal/ws"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	// main 负责加载配置、初始化日志、组装聊天子系统并启动 HTTP 服务。
	_ = godotenv.Load()
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	registry := channel.NewRegistry(channel.DefaultChannels())
	ids := identity.NewStore(email.NewSender(cfg))

	// 两套独立的滑动窗口：按会话限人发言，按频道限机器人回复，互不挤占。
	msgLimiter := ratelimit.NewWindow(10*time.Second, 5)
	aiLimiter := ratelimit.NewWindow(30*time.Second, 3)

	responder := ai.NewResponder(cfg, registry, aiLimiter)
	hub := ws.NewHub(ids, registry, msgLimiter, responder)

	go ids.Sweep(time.Minute)
	go msgLimiter.GC(time.Minute)
	go aiLimiter.GC(time.Minute)
	go hub.Run()

	httpLimiter := mw.NewLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	engine := server.SetupRouter(cfg, server.NewHandler(registry, responder, hub), httpLimiter)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: engine}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("globalpulse chat listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	hub.Stop()
	ids.Stop()
	msgLimiter.Stop()
	aiLimiter.Stop()
	httpLimiter.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}
