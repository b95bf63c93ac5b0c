package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/rev-voice/backend/internal/model/chat"
)

var (
	ErrPersonaRequired = errors.New("persona id is required")
	ErrSessionNotFound = errors.New("conversation not found")
	ErrEmptyMessage    = errors.New("message content is empty")
)

// defaultMaxMessages 单个会话保留的消息上限，超出后丢弃最早的消息
const defaultMaxMessages = 200

// Service 维护每个语音会话的对话记录，供回复链路读取历史。
type Service struct {
	mu          sync.RWMutex
	sessions    map[string]chat.Session
	messages    map[string][]chat.Message
	maxMessages int
	now         func() time.Time
}

// NewService 创建内存版对话服务。
func NewService() *Service {
	return &Service{
		sessions:    make(map[string]chat.Session),
		messages:    make(map[string][]chat.Message),
		maxMessages: defaultMaxMessages,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// OpenSession 为语音会话建立对话记录，重复调用返回已有记录。
func (s *Service) OpenSession(_ context.Context, sessionID, personaID string) (chat.Session, error) {
	if personaID == "" {
		return chat.Session{}, ErrPersonaRequired
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sessionID]; ok {
		return existing, nil
	}

	session := chat.Session{
		ID:        sessionID,
		PersonaID: personaID,
		CreatedAt: s.now(),
	}
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	return session, nil
}

// SaveMessage 追加一条消息。
func (s *Service) SaveMessage(_ context.Context, message chat.Message) error {
	if message.SessionID == "" {
		return ErrSessionNotFound
	}
	if message.Content == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[message.SessionID]; !ok {
		return ErrSessionNotFound
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now()
	}

	history := append(s.messages[message.SessionID], message)
	if s.maxMessages > 0 && len(history) > s.maxMessages {
		history = append([]chat.Message(nil), history[len(history)-s.maxMessages:]...)
	}
	s.messages[message.SessionID] = history
	return nil
}

// GetSession 按 id 查询对话。
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// LoadTranscript 返回最近 limit 条消息，limit<=0 表示全部。
func (s *Service) LoadTranscript(_ context.Context, sessionID string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// DeleteSession 丢弃对话记录，会话关闭时调用。不存在时静默返回。
func (s *Service) DeleteSession(_ context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	s.mu.Unlock()
}

// Len 返回当前保存的对话数量。
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
