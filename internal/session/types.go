package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samsaffron/storyloom/internal/llm"
)

// Session is one chat conversation and the settings it runs with.
type Session struct {
	ID             string            `json:"id"`
	Name           string            `json:"name,omitempty"`
	Summary        string            `json:"summary,omitempty"` // First user message
	ProjectID      string            `json:"project_id,omitempty"`
	SystemPrompt   string            `json:"system_prompt,omitempty"`
	ModelType      string            `json:"model_type,omitempty"`
	AllowWebSearch bool              `json:"allow_web_search,omitempty"`
	IsIncognito    bool              `json:"is_incognito,omitempty"` // Never persisted
	Messages       []llm.ChatMessage `json:"messages,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// SessionSummary is a lightweight view of a session for listing.
type SessionSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	ProjectID    string    `json:"project_id,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ListOptions configures session listing.
type ListOptions struct {
	ProjectID string // Filter by project
	Limit     int    // Max results (0 = use default)
	Offset    int    // Pagination offset
}

// New returns an unsaved session with a fresh id.
func New(name string) *Session {
	now := time.Now()
	return &Session{ID: NewID(), Name: name, CreatedAt: now, UpdatedAt: now}
}

// NewID returns a new session id.
func NewID() string {
	return uuid.NewString()
}

// DisplayName returns the name, falling back to the summary and then the id.
func (s *Session) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Summary != "" {
		return s.Summary
	}
	return s.ID
}

// TruncateSummary returns the first line of content, truncated to 100 chars.
func TruncateSummary(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if r := []rune(content); len(r) > 100 {
		content = string(r[:97]) + "..."
	}
	return content
}

func summarize(messages []llm.ChatMessage) string {
	for _, m := range messages {
		if m.Role == llm.RoleUser && strings.TrimSpace(m.Content) != "" {
			return TruncateSummary(m.Content)
		}
	}
	return ""
}
