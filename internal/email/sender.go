package email

import (
	"fmt"
	"net/mail"
	"net/smtp"

	"github.com/rs/zerolog/log"
	"globalpulse/internal/config"
)

// Sender 负责把一次性验证码投递给用户。
type Sender interface {
	SendCode(to, code string) error
}

// NewSender 按配置选择实现：没有 SMTP_HOST 时退化为日志输出（仅限 dev）。
func NewSender(cfg config.Config) Sender {
	if cfg.SMTPHost == "" {
		log.Warn().Msg("SMTP_HOST not set, verification codes will be logged instead of emailed")
		return logSender{}
	}
	return &smtpSender{cfg: cfg}
}

type smtpSender struct {
	cfg config.Config
}

func (s *smtpSender) SendCode(to, code string) error {
	addr := s.cfg.SMTPHost + ":" + s.cfg.SMTPPort
	auth := smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPass, s.cfg.SMTPHost)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Your GlobalPulse chat code\r\n\r\nYour verification code is %s. It expires in 10 minutes.\r\n",
		s.cfg.SMTPFrom, to, code)
	if err := smtp.SendMail(addr, auth, envelopeFrom(s.cfg.SMTPFrom), []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// envelopeFrom 从配置的 From 里提取裸地址给 MAIL FROM 用。
// 带显示名的形式（"GlobalPulse <x@y>"）只能出现在 From: 头里，不能进 SMTP 信封。
func envelopeFrom(from string) string {
	a, err := mail.ParseAddress(from)
	if err != nil {
		return from
	}
	return a.Address
}

// logSender 把验证码打到日志里，方便本地联调。接入真实邮箱前禁止在生产使用。
type logSender struct{}

func (logSender) SendCode(to, code string) error {
	log.Info().Str("email", to).Str("code", code).Msg("verification code (dev delivery)")
	return nil
}
