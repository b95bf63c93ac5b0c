package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/rev-voice/backend/internal/model/chat"
	"github.com/zhouzirui/rev-voice/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/rev-voice/backend/internal/service/chat"
)

var (
	// ErrEmptyReply is returned when the model answers with no text.
	ErrEmptyReply = errors.New("model returned an empty reply")
	// ErrConversationClosed is returned for a session whose conversation was
	// never opened or has already been deleted.
	ErrConversationClosed = errors.New("conversation closed")
)

// History stores the per-session conversation the chain reads from.
type History interface {
	OpenSession(ctx context.Context, sessionID, personaID string) (chat.Session, error)
	LoadTranscript(ctx context.Context, sessionID string, limit int) ([]chat.Message, error)
	SaveMessage(ctx context.Context, message chat.Message) error
}

// Options configures a Service.
type Options struct {
	Persona      persona.Persona
	History      History
	HistoryLimit int
	Logger       *slog.Logger
}

// Service generates spoken replies through an eino chain.
type Service struct {
	chatModel    model.BaseChatModel
	persona      persona.Persona
	system       string
	history      History
	historyLimit int
	logger       *slog.Logger
	chain        compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the reply chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, opts Options) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	p := opts.Persona
	return &Service{
		chatModel:    chatModel,
		persona:      p,
		system:       NewPersonaPromptManager().BuildSystemPrompt(&p),
		history:      opts.History,
		historyLimit: opts.HistoryLimit,
		logger:       opts.Logger.With(slog.String("component", "ai")),
		chain:        runnable,
	}, nil
}

// Persona returns the persona replies are generated as.
func (s *Service) Persona() persona.Persona {
	return s.persona
}

// OpenConversation creates the history a session's replies are generated
// against. It is called once when the voice session starts.
func (s *Service) OpenConversation(ctx context.Context, sessionID string) error {
	if s.history == nil {
		return nil
	}
	if _, err := s.history.OpenSession(ctx, sessionID, s.persona.ID); err != nil {
		return fmt.Errorf("open conversation %s: %w", sessionID, err)
	}
	return nil
}

// GenerateReply answers text in the context of the session's conversation.
// Both sides of the exchange are appended to the history on success.
func (s *Service) GenerateReply(ctx context.Context, text, sessionID string) (string, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return "", errors.New("empty query")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	history, err := s.loadHistory(ctx, sessionID)
	if err != nil {
		return "", err
	}

	response, err := s.chain.Invoke(ctx, s.buildChainInput(history, query))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	reply := strings.TrimSpace(response.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}

	s.remember(ctx, sessionID, chat.SenderUser, query)
	s.remember(ctx, sessionID, chat.SenderAssistant, reply)

	s.logger.Debug("generated reply", "session_id", sessionID, "persona", s.persona.ID, "length", len(reply))
	return reply, nil
}

func (s *Service) loadHistory(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if s.history == nil || sessionID == "" {
		return nil, nil
	}
	messages, err := s.history.LoadTranscript(ctx, sessionID, s.historyLimit)
	if errors.Is(err, chatservice.ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrConversationClosed, sessionID)
	}
	if err != nil {
		s.logger.Warn("load transcript failed", "session_id", sessionID, "error", err)
		return nil, nil
	}
	return messages, nil
}

func (s *Service) remember(ctx context.Context, sessionID, sender, content string) {
	if s.history == nil || sessionID == "" {
		return
	}
	msg := chat.Message{SessionID: sessionID, Sender: sender, Content: content}
	if err := s.history.SaveMessage(ctx, msg); err != nil {
		s.logger.Warn("save message failed", "session_id", sessionID, "sender", sender, "error", err)
	}
}

func (s *Service) buildChainInput(messages []chat.Message, query string) map[string]any {
	return map[string]any{
		"system":  s.system,
		"history": buildHistoryMessages(messages, s.historyLimit),
		"query":   query,
	}
}

func buildHistoryMessages(messages []chat.Message, limit int) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if limit > 0 && len(messages) > limit {
		startIdx = len(messages) - limit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
