package identity

import "errors"

// 业务层通用错误，协议层据此生成发给客户端的 error 帧。
var (
	ErrBadEmail       = errors.New("invalid email address")
	ErrBadUsername    = errors.New("username must be 2-20 letters, digits, _ or -")
	ErrUsernameTaken  = errors.New("username already taken")
	ErrNoPending      = errors.New("no pending verification for this email")
	ErrCodeExpired    = errors.New("verification code expired")
	ErrCodeMismatch   = errors.New("incorrect verification code")
	ErrSessionExpired = errors.New("session expired")
	ErrDelivery       = errors.New("could not deliver verification code")
)
