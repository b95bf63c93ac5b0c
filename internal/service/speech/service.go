package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zhouzirui/rev-voice/backend/internal/model/speech"
)

// Transcriber turns an utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req *speech.TranscribeRequest) (*speech.Transcript, error)
}

// Synthesizer turns reply text into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speech.SynthesizeRequest) (*speech.Speech, error)
}

// Service 语音服务核心业务逻辑
type Service struct {
	transcriber Transcriber
	synthesizer Synthesizer
	language    string
	logger      *slog.Logger
}

// NewService 创建语音服务实例
func NewService(transcriber Transcriber, synthesizer Synthesizer, language string, logger *slog.Logger) (*Service, error) {
	if transcriber == nil || synthesizer == nil {
		return nil, errors.New("speech service requires a transcriber and a synthesizer")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		transcriber: transcriber,
		synthesizer: synthesizer,
		language:    language,
		logger:      logger.With(slog.String("component", "speech")),
	}, nil
}

// Transcribe 语音转文字
func (s *Service) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	resp, err := s.transcriber.Transcribe(ctx, &speech.TranscribeRequest{
		Audio:    audio,
		MimeType: mimeType,
		Language: s.language,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe %d bytes of %s: %w", len(audio), mimeType, err)
	}
	s.logger.Debug("transcribed utterance", "bytes", len(audio), "mime_type", mimeType, "chars", len(resp.Text), "latency", resp.Latency)
	return resp.Text, nil
}

// Synthesize 文字转语音
func (s *Service) Synthesize(ctx context.Context, text string) (*speech.Speech, error) {
	out, err := s.synthesizer.Synthesize(ctx, &speech.SynthesizeRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	s.logger.Debug("synthesized reply", "bytes", len(out.Data), "mime_type", out.MimeType, "duration", out.Duration)
	return out, nil
}
