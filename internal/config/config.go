package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	Port string
	Env  string

	// SMTP 用于投递验证码邮件，未配置时回退到日志输出（仅限 dev）。
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// 主 AI 服务商（Groq，OpenAI 兼容接口）。
	GroqAPIKey string
	GroqModel  string

	// 备用 AI 服务商（OpenRouter），主服务商失败时降级使用。
	OpenRouterAPIKey string
	OpenRouterModel  string

	AITimeoutSeconds int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func Load() Config {
	timeoutStr := getenv("AI_TIMEOUT_SECONDS", "15")
	timeout, _ := strconv.Atoi(timeoutStr)
	if timeout <= 0 {
		timeout = 15
	}
	return Config{
		Port:             getenv("APP_PORT", "8080"),
		Env:              getenv("APP_ENV", "dev"),
		SMTPHost:         getenv("SMTP_HOST", ""),
		SMTPPort:         getenv("SMTP_PORT", "587"),
		SMTPUser:         getenv("SMTP_USER", ""),
		SMTPPass:         getenv("SMTP_PASS", ""),
		SMTPFrom:         getenv("SMTP_FROM", "GlobalPulse <noreply@globalpulse.live>"),
		GroqAPIKey:       getenv("GROQ_API_KEY", ""),
		GroqModel:        getenv("GROQ_MODEL", "llama-3.3-70b-versatile"),
		OpenRouterAPIKey: getenv("OPENROUTER_API_KEY", ""),
		OpenRouterModel:  getenv("OPENROUTER_MODEL", "meta-llama/llama-3.3-70b-instruct"),
		AITimeoutSeconds: timeout,
	}
}

// Validate 做启动前检查：生产环境必须配置真实的邮件投递通道。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port must not be empty")
	}
	if cfg.Env != "dev" && cfg.SMTPHost == "" {
		return errors.New("SMTP_HOST must be set outside dev (code delivery via log is dev-only)")
	}
	return nil
}
