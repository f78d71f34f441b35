package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"math/big"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"

	"globalpulse/internal/email"
	"globalpulse/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	codeTTL    = 10 * time.Minute
	sessionTTL = 24 * time.Hour
)

// 用户名允许字母（含常见西欧扩展字母）、数字、下划线和连字符。
var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_\-À-ÖØ-öø-ÿ]{2,20}$`)

// palette 是确定性分配给用户的颜色集合，同一邮箱永远得到同一颜色。
var palette = []string{
	"#e74c3c", "#e67e22", "#f1c40f", "#2ecc71", "#1abc9c", "#3498db",
	"#9b59b6", "#e91e63", "#00bcd4", "#8bc34a", "#ff7043", "#7e57c2",
}

// Store 管理验证码与会话的全部生命周期，内存态，随进程重启清空。
type Store struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	pending  map[string]*models.PendingVerification
	sender   email.Sender
	now      func() time.Time
	stop     chan struct{}
}

func NewStore(sender email.Sender) *Store {
	return &Store{
		sessions: make(map[string]*models.Session),
		pending:  make(map[string]*models.PendingVerification),
		sender:   sender,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// RequestCode 校验邮箱与用户名，签发 6 位验证码并交给邮件通道投递。
// 同一邮箱的新申请覆盖旧的待验证条目；投递失败时条目保留，允许客户端重试。
func (s *Store) RequestCode(addr, username string) error {
	addr, err := normalizeEmail(addr)
	if err != nil {
		return err
	}
	if !usernameRe.MatchString(username) {
		return ErrBadUsername
	}

	s.mu.Lock()
	if s.usernameTakenLocked(username, addr) {
		s.mu.Unlock()
		return ErrUsernameTaken
	}
	code, err := randomCode()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.pending[addr] = &models.PendingVerification{
		Email:     addr,
		Code:      code,
		Username:  username,
		ExpiresAt: s.now().Add(codeTTL),
	}
	s.mu.Unlock()

	if err := s.sender.SendCode(addr, code); err != nil {
		log.Error().Err(err).Str("email", addr).Msg("code delivery failed")
		return ErrDelivery
	}
	return nil
}

// VerifyCode 核对验证码，成功后销毁待验证条目并创建新会话。
// 过期条目在此删除；错码保留条目，允许在有效期内重试。
func (s *Store) VerifyCode(addr, code string) (*models.Session, error) {
	addr, err := normalizeEmail(addr)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pv, ok := s.pending[addr]
	if !ok {
		return nil, ErrNoPending
	}
	if !s.now().Before(pv.ExpiresAt) {
		delete(s.pending, addr)
		return nil, ErrCodeExpired
	}
	if pv.Code != code {
		return nil, ErrCodeMismatch
	}
	// 申请到验证之间用户名可能被别人占走，这里再查一次以维持唯一性。
	if s.usernameTakenLocked(pv.Username, addr) {
		delete(s.pending, addr)
		return nil, ErrUsernameTaken
	}
	delete(s.pending, addr)

	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := &models.Session{
		Token:     token,
		Email:     addr,
		Username:  pv.Username,
		Color:     ColorFor(addr),
		CreatedAt: now,
		LastSeen:  now,
	}
	s.sessions[token] = sess
	return sess, nil
}

// Resume 恢复会话，未知或超过 24 小时的 token 一律视为过期。
func (s *Store) Resume(token string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, ErrSessionExpired
	}
	if s.now().Sub(sess.CreatedAt) >= sessionTTL {
		delete(s.sessions, token)
		return nil, ErrSessionExpired
	}
	sess.LastSeen = s.now()
	return sess, nil
}

// Logout 主动销毁会话。
func (s *Store) Logout(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Sweep 周期清理过期会话和待验证条目，避免无人触发查找时内存缓慢泄漏。
func (s *Store) Sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Store) sweepOnce() {
	now := s.now()
	s.mu.Lock()
	for token, sess := range s.sessions {
		if now.Sub(sess.CreatedAt) >= sessionTTL {
			delete(s.sessions, token)
		}
	}
	for addr, pv := range s.pending {
		if !now.Before(pv.ExpiresAt) {
			delete(s.pending, addr)
		}
	}
	s.mu.Unlock()
}

// Stop 停止清扫 goroutine，用于优雅停服。
func (s *Store) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// usernameTakenLocked 检查用户名是否被其他邮箱的未过期会话占用（不区分大小写）。
func (s *Store) usernameTakenLocked(username, addr string) bool {
	now := s.now()
	lower := strings.ToLower(username)
	for _, sess := range s.sessions {
		if sess.Email == addr {
			continue
		}
		if now.Sub(sess.CreatedAt) >= sessionTTL {
			continue
		}
		if strings.ToLower(sess.Username) == lower {
			return true
		}
	}
	return false
}

// ColorFor 把邮箱哈希进固定调色板，无需持久化映射表即可保证稳定配色。
func ColorFor(addr string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(addr)))
	return palette[h.Sum32()%uint32(len(palette))]
}

func normalizeEmail(addr string) (string, error) {
	addr = strings.TrimSpace(strings.ToLower(addr))
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return "", ErrBadEmail
	}
	return addr, nil
}

// randomCode 生成均匀分布的 6 位数字验证码。
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// randomToken 生成 256 bit 的不可猜测会话 token。
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "gp_" + hex.EncodeToString(b), nil
}
