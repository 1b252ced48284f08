package session

import (
	"context"

	"github.com/samsaffron/storyloom/internal/llm"
)

// NoopStore is a no-op implementation of Store used when sessions are disabled.
// It silently discards all writes and returns empty results for reads.
type NoopStore struct{}

func (s *NoopStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	return nil
}

func (s *NoopStore) Get(ctx context.Context, id string) (*Session, error) {
	return nil, ErrNotFound
}

func (s *NoopStore) Update(ctx context.Context, sess *Session) error {
	return nil
}

func (s *NoopStore) Delete(ctx context.Context, id string) error {
	return nil
}

func (s *NoopStore) List(ctx context.Context, opts ListOptions) ([]SessionSummary, error) {
	return nil, nil
}

func (s *NoopStore) AppendMessages(ctx context.Context, sessionID string, msgs []llm.ChatMessage) error {
	return nil
}

func (s *NoopStore) ReplaceMessages(ctx context.Context, sessionID string, msgs []llm.ChatMessage) error {
	return nil
}

func (s *NoopStore) Close() error {
	return nil
}
