package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Minute}

// BackendTransport streams chat turns from the writing-assistant backend's
// SSE chat endpoint.
type BackendTransport struct {
	url     string
	client  *http.Client
	headers map[string]string
	logger  *zap.Logger
}

// BackendOption configures a BackendTransport.
type BackendOption func(*BackendTransport)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) BackendOption {
	return func(t *BackendTransport) { t.client = c }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) BackendOption {
	return func(t *BackendTransport) { t.headers[key] = value }
}

// WithLogger sets the logger used for dropped frames.
func WithLogger(l *zap.Logger) BackendOption {
	return func(t *BackendTransport) { t.logger = l }
}

func NewBackendTransport(url string, opts ...BackendOption) *BackendTransport {
	t := &BackendTransport{
		url:     url,
		client:  defaultHTTPClient,
		headers: make(map[string]string),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *BackendTransport) Name() string {
	return "backend"
}

type backendRequest struct {
	Messages       []ChatMessage `json:"messages"`
	ModelType      string        `json:"model_type"`
	AllowWebSearch bool          `json:"allow_web_search"`
}

func (t *BackendTransport) Stream(ctx context.Context, req Request) (Stream, error) {
	body, err := json.Marshal(backendRequest{
		Messages:       withSystemPrompt(req.SystemPrompt, req.Messages),
		ModelType:      req.ModelType,
		AllowWebSearch: req.AllowWebSearch,
	})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: "open stream", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		var perr *ProviderError
		if _, err := ParsePayload(string(data)); errors.As(err, &perr) {
			if perr.Status == 0 {
				perr.Status = resp.StatusCode
			}
			return nil, perr
		}
		return nil, &TransportError{Op: "open stream", Status: resp.StatusCode, Body: string(data)}
	}

	return NewSSEStream(ctx, resp.Body, t.logger), nil
}

// SSEStream adapts an SSE body to the Stream interface.
type SSEStream struct {
	ctx    context.Context
	body   io.ReadCloser
	dec    *FrameDecoder
	logger *zap.Logger
	queue  []StreamEvent
	ended  bool
}

// NewSSEStream decodes body as a stream of event payloads.
func NewSSEStream(ctx context.Context, body io.ReadCloser, logger *zap.Logger) *SSEStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEStream{ctx: ctx, body: body, dec: NewFrameDecoder(body), logger: logger}
}

func (s *SSEStream) Recv() (StreamEvent, error) {
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			return ev, nil
		}
		if s.ended {
			return nil, io.EOF
		}

		payload, err := s.dec.Next()
		if err != nil {
			s.ended = true
			if s.ctx.Err() != nil {
				return nil, s.ctx.Err()
			}
			if !errors.Is(err, io.EOF) {
				return nil, &TransportError{Op: "read stream", Err: err}
			}
			if !s.dec.Clean() && !s.dec.SawDone() {
				s.logger.Warn("stream closed inside a frame", zap.String("pending", excerpt(s.dec.Pending())))
				return nil, &TransportError{Op: "read stream", Err: io.ErrUnexpectedEOF}
			}
			return EndEvent{}, nil
		}

		events, err := ParsePayload(payload)
		if err != nil {
			var perr *ProviderError
			if errors.As(err, &perr) {
				return ErrorEvent{Err: perr}, nil
			}
			s.logger.Warn("dropping unparseable stream frame", zap.String("payload", excerpt(payload)), zap.Error(err))
			continue
		}
		s.queue = events
	}
}

func (s *SSEStream) Close() error {
	return s.body.Close()
}
