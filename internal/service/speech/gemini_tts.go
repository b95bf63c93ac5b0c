package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/zhouzirui/rev-voice/backend/internal/model/speech"
)

// GeminiSynthesizer 使用 Gemini TTS 模型合成语音
type GeminiSynthesizer struct {
	models   ContentGenerator
	model    string
	voice    string
	language string
}

// NewGeminiSynthesizer 创建合成客户端，voice 为默认音色
func NewGeminiSynthesizer(models ContentGenerator, model, voice, language string) *GeminiSynthesizer {
	return &GeminiSynthesizer{
		models:   models,
		model:    model,
		voice:    ResolveVoice(voice),
		language: language,
	}
}

// Synthesize 合成 text 并封装为 WAV
func (s *GeminiSynthesizer) Synthesize(ctx context.Context, req *speech.SynthesizeRequest) (*speech.Speech, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("no text to synthesize")
	}

	voice := s.voice
	if req.Voice != "" {
		voice = ResolveVoice(req.Voice, s.voice)
	}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
			LanguageCode: s.language,
		},
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Text, genai.RoleUser)}

	resp, err := s.models.GenerateContent(ctx, s.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini synthesize: %w", err)
	}

	blob := firstAudioBlob(resp)
	if blob == nil || len(blob.Data) == 0 {
		return nil, errors.New("gemini synthesize: response carried no audio")
	}

	return packageAudio(blob.Data, blob.MIMEType), nil
}

func firstAudioBlob(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData
			}
		}
	}
	return nil
}

// packageAudio wraps raw PCM in WAV so browsers can play it directly. Other
// containers pass through with an unknown duration.
func packageAudio(data []byte, mimeType string) *speech.Speech {
	format, isPCM := ParsePCMMimeType(mimeType)
	if mimeType == "" {
		isPCM = true
	}
	if !isPCM {
		return &speech.Speech{Data: data, MimeType: mimeType}
	}
	return &speech.Speech{
		Data:       EncodeWAV(data, format),
		MimeType:   "audio/wav",
		SampleRate: format.SampleRate,
		Duration:   format.Duration(len(data)),
	}
}
