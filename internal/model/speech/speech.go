package speech

import "time"

// TranscribeRequest 语音识别请求
type TranscribeRequest struct {
	SessionID string `json:"sessionId"`
	Audio     []byte `json:"-"`
	MimeType  string `json:"mimeType"` // audio/webm, audio/wav, ...
	Language  string `json:"language,omitempty"`
}

// Transcript 语音识别结果
type Transcript struct {
	SessionID string        `json:"sessionId"`
	Text      string        `json:"text"`
	Model     string        `json:"model,omitempty"`
	Latency   time.Duration `json:"latency"`
}

// SynthesizeRequest 语音合成请求
type SynthesizeRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
}

// Speech 合成后的可播放音频
type Speech struct {
	Data       []byte        `json:"-"`
	MimeType   string        `json:"mimeType"`
	SampleRate int           `json:"sampleRate,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// DurationMs 返回毫秒时长，下行事件使用该单位。
func (s *Speech) DurationMs() int64 {
	if s == nil {
		return 0
	}
	return s.Duration.Milliseconds()
}
