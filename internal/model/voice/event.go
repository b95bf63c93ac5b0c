package voice

import (
	"encoding/json"
	"strings"
)

// 客户端发往服务端的事件类型
const (
	TypeStartSession   = "start-session"
	TypeStartListening = "start-listening"
	TypeAudioFragment  = "audio-fragment"
	TypeEndAudio       = "end-audio"
	TypeInterrupt      = "interrupt"
	TypeHeartbeat      = "heartbeat"
	TypeDisconnect     = "disconnect"

	// 旧版客户端使用的别名
	TypeAudioData = "audio-data"
	TypeAudioEnd  = "audio-end"
)

// 服务端推送给客户端的事件类型
const (
	TypeSessionReady  = "session-ready"
	TypeTranscription = "transcription"
	TypeAudioResponse = "audio-response"
	TypeTurnComplete  = "turn-complete"
	TypeInterrupted   = "interrupted"
	TypeError         = "error"
	TypeSessionClosed = "session-closed"
)

var aliases = map[string]string{
	TypeAudioData: TypeAudioFragment,
	TypeAudioEnd:  TypeEndAudio,
}

// Inbound 客户端上行帧
type Inbound struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Kind 返回归一化后的事件类型，旧别名映射到当前名称。
func (in Inbound) Kind() string {
	t := strings.TrimSpace(in.Type)
	if canonical, ok := aliases[t]; ok {
		return canonical
	}
	return t
}

// Outbound 服务端下行帧
type Outbound struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// AudioFragment 音频分片，audio 字段为 base64 编码
type AudioFragment struct {
	Audio    []byte `json:"audio"`
	MimeType string `json:"mimeType,omitempty"`
}

// SessionReady 会话就绪通知
type SessionReady struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// Transcription 语音识别结果
type Transcription struct {
	Text string `json:"text"`
}

// AudioResponse 合成后的回复音频
type AudioResponse struct {
	Audio      []byte `json:"audio"`
	MimeType   string `json:"mimeType"`
	Text       string `json:"text"`
	DurationMs int64  `json:"durationMs"`
}

// TurnComplete 本轮播放结束
type TurnComplete struct {
	Transcript string `json:"transcript,omitempty"`
}

// Interrupted 播放被打断
type Interrupted struct{}

// Error 错误事件，kind 用于客户端区分处理方式
type Error struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// SessionClosed 服务端主动关闭会话
type SessionClosed struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}
