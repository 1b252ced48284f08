package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/samsaffron/storyloom/internal/llm"
)

// HTTPRegistry calls tools served by the application backend.
//
// GET <url> lists tools as {"tools":[{name, description, parameters, read_only}]}.
// POST <url> with an Invocation body returns {"result": ...} or {"error": ...}.
type HTTPRegistry struct {
	url    string
	client *http.Client
	logger *zap.Logger

	mu       sync.RWMutex
	specs    []llm.ToolSpec
	readOnly map[string]bool
}

type remoteTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	ReadOnly    bool                   `json:"read_only"`
}

// NewHTTPRegistry creates a registry client. Call Load before use.
func NewHTTPRegistry(url string, client *http.Client, logger *zap.Logger) *HTTPRegistry {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRegistry{url: url, client: client, logger: logger, readOnly: make(map[string]bool)}
}

// Load fetches the tool list.
func (h *HTTPRegistry) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("list tools: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	var listing struct {
		Tools []remoteTool `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return fmt.Errorf("decode tool list: %w", err)
	}

	specs := make([]llm.ToolSpec, 0, len(listing.Tools))
	readOnly := make(map[string]bool, len(listing.Tools))
	for _, t := range listing.Tools {
		specs = append(specs, llm.ToolSpec{Name: t.Name, Description: t.Description, Schema: t.Parameters})
		readOnly[t.Name] = t.ReadOnly
	}

	h.mu.Lock()
	h.specs = specs
	h.readOnly = readOnly
	h.mu.Unlock()
	h.logger.Debug("loaded remote tools", zap.String("url", h.url), zap.Int("count", len(specs)))
	return nil
}

func (h *HTTPRegistry) Specs() []llm.ToolSpec {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]llm.ToolSpec(nil), h.specs...)
}

func (h *HTTPRegistry) IsReadOnly(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readOnly[name]
}

func (h *HTTPRegistry) Call(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	if inv.Arguments == nil {
		inv.Arguments = map[string]any{}
	}
	body, err := json.Marshal(inv)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", inv.ToolName, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", inv.ToolName, err)
	}

	if !gjson.ValidBytes(data) {
		if resp.StatusCode != http.StatusOK {
			return nil, NewToolErrorf(ErrExecutionFailed, "status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
		}
		return nil, NewToolErrorf(ErrExecutionFailed, "invalid response from %s", inv.ToolName)
	}
	parsed := gjson.ParseBytes(data)
	if e := parsed.Get("error"); e.Exists() && e.Type != gjson.Null {
		msg := e.String()
		if e.IsObject() {
			msg = e.Get("message").String()
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, NewToolErrorf(ErrNotFound, "%s", msg)
		}
		return nil, NewToolErrorf(ErrExecutionFailed, "%s", msg)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewToolErrorf(ErrExecutionFailed, "status %d", resp.StatusCode)
	}
	result := parsed.Get("result")
	if !result.Exists() {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(result.Raw), nil
}
