package models

import "time"

// Channel 是启动时固定注册的话题频道，运行期间不增删。
type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

// UserProfile 是对外可见的用户身份（不含 token 等敏感字段）。
type UserProfile struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Color    string `json:"color"`
	IsBot    bool   `json:"isBot"`
}

// Session 表示一次通过邮箱验证码认证的身份，创建后 24 小时过期（非滑动）。
type Session struct {
	Token     string
	Email     string
	Username  string
	Color     string
	CreatedAt time.Time
	LastSeen  time.Time
}

// Profile 返回会话对应的公开身份。
func (s *Session) Profile() UserProfile {
	return UserProfile{UserID: s.Email, Username: s.Username, Color: s.Color}
}

// PendingVerification 是按邮箱索引的待验证条目，10 分钟内有效，新申请覆盖旧条目。
type PendingVerification struct {
	Email     string
	Code      string
	Username  string
	ExpiresAt time.Time
}

// ChatMessage 是频道内的一条消息，创建后不可变，内容已做 HTML 转义。
type ChatMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Color     string    `json:"color"`
	Content   string    `json:"content"`
	Channel   string    `json:"channel"`
	IsBot     bool      `json:"isBot"`
	CreatedAt time.Time `json:"createdAt"`
}
