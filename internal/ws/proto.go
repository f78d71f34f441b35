package ws

import (
	json "github.com/goccy/go-json"

	"github.com/rs/zerolog/log"
)

// 入站帧类型的封闭集合，dispatch 的 switch 必须穷举这些常量。
const (
	TypeRequestCode   = "request-code"
	TypeVerifyCode    = "verify-code"
	TypeResumeSession = "resume-session"
	TypeJoinChannel   = "join-channel"
	TypeSendMessage   = "send-message"
	TypeTyping        = "typing"
	TypeUpdateNews    = "update-news"
	TypePong          = "pong"
)

// Inbound 是客户端帧的统一载体，Type 决定其余哪些字段有效。
type Inbound struct {
	Type         string   `json:"type"`
	Email        string   `json:"email,omitempty"`
	Username     string   `json:"username,omitempty"`
	Code         string   `json:"code,omitempty"`
	SessionToken string   `json:"sessionToken,omitempty"`
	Channel      string   `json:"channel,omitempty"`
	Content      string   `json:"content,omitempty"`
	Headlines    []string `json:"headlines,omitempty"`
}

// frame 序列化一个出站帧。出站结构都由服务端构造，失败只可能是编码 bug。
func frame(v map[string]interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("marshal outbound frame")
		return []byte(`{"type":"error","message":"internal error"}`)
	}
	return b
}

func errorFrame(message string) []byte {
	return frame(map[string]interface{}{"type": "error", "message": message})
}
