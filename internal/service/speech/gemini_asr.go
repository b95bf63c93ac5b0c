package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/zhouzirui/rev-voice/backend/internal/model/speech"
)

const transcribePrompt = "Transcribe the speech in this audio verbatim. " +
	"Return only the spoken words with no commentary, labels or timestamps. " +
	"If there is no intelligible speech, return an empty response."

// ContentGenerator is the slice of the genai Models API used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiTranscriber 使用 Gemini 多模态模型做语音识别
type GeminiTranscriber struct {
	models ContentGenerator
	model  string
	now    func() time.Time
}

// NewGeminiTranscriber 创建识别客户端
func NewGeminiTranscriber(models ContentGenerator, model string) *GeminiTranscriber {
	return &GeminiTranscriber{models: models, model: model, now: time.Now}
}

// Transcribe 将整段音频转成文本
func (t *GeminiTranscriber) Transcribe(ctx context.Context, req *speech.TranscribeRequest) (*speech.Transcript, error) {
	if req == nil || len(req.Audio) == 0 {
		return nil, errors.New("no audio to transcribe")
	}

	prompt := transcribePrompt
	if req.Language != "" {
		prompt += " The expected language is " + req.Language + "."
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(req.Audio, req.MimeType),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)}

	started := t.now()
	resp, err := t.models.GenerateContent(ctx, t.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini transcribe: %w", err)
	}
	if resp == nil {
		return nil, errors.New("gemini transcribe: nil response")
	}

	return &speech.Transcript{
		SessionID: req.SessionID,
		Text:      strings.TrimSpace(resp.Text()),
		Model:     t.model,
		Latency:   t.now().Sub(started),
	}, nil
}
