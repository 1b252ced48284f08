package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/samsaffron/storyloom/internal/llm"
)

// LoggingStore wraps a Store and logs write failures once per operation.
// Chat turns treat persistence as best effort, so callers may ignore the
// returned errors and still get visibility into them.
type LoggingStore struct {
	Store
	logger *zap.Logger
	mu     sync.Mutex
	warned map[string]bool
}

// NewLoggingStore creates a new LoggingStore wrapper.
func NewLoggingStore(store Store, logger *zap.Logger) *LoggingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingStore{Store: store, logger: logger, warned: make(map[string]bool)}
}

func (s *LoggingStore) logOnce(op string, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warned[op] {
		return
	}
	s.warned[op] = true
	s.logger.Warn("session store operation failed", zap.String("op", op), zap.Error(err))
}

func (s *LoggingStore) Create(ctx context.Context, sess *Session) error {
	err := s.Store.Create(ctx, sess)
	s.logOnce("Create", err)
	return err
}

func (s *LoggingStore) Update(ctx context.Context, sess *Session) error {
	err := s.Store.Update(ctx, sess)
	s.logOnce("Update", err)
	return err
}

func (s *LoggingStore) AppendMessages(ctx context.Context, sessionID string, msgs []llm.ChatMessage) error {
	err := s.Store.AppendMessages(ctx, sessionID, msgs)
	s.logOnce("AppendMessages", err)
	return err
}

func (s *LoggingStore) ReplaceMessages(ctx context.Context, sessionID string, msgs []llm.ChatMessage) error {
	err := s.Store.ReplaceMessages(ctx, sessionID, msgs)
	s.logOnce("ReplaceMessages", err)
	return err
}
