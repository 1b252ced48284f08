// Package mcp exposes tools served by Model Context Protocol servers to the
// chat tool registry.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/samsaffron/storyloom/internal/llm"
)

// Client wraps an MCP server connection.
type Client struct {
	name      string
	config    ServerConfig
	transport mcp.Transport // overrides config when set
	session   *mcp.ClientSession
	tools     []llm.ToolSpec
	mu        sync.RWMutex
	running   bool
}

// NewClient creates a new MCP client for the given server configuration.
func NewClient(name string, config ServerConfig) *Client {
	return &Client{name: name, config: config}
}

// Name returns the server name.
func (c *Client) Name() string {
	return c.name
}

// Start connects to the MCP server and fetches its tools.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "storyloom", Version: "1.0.0"}, nil)

	transport := c.transport
	if transport == nil {
		if c.config.TransportType() == "http" {
			transport = c.createHTTPTransport()
		} else {
			transport = c.createStdioTransport(ctx)
		}
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect to MCP server %s: %w", c.name, err)
	}
	c.session = session

	if err := c.refreshTools(ctx); err != nil {
		c.session.Close()
		c.session = nil
		return fmt.Errorf("list tools from %s: %w", c.name, err)
	}

	c.running = true
	return nil
}

// createStdioTransport builds the subprocess transport. Custom env vars are
// layered over the parent environment; without any, the child inherits it.
func (c *Client) createStdioTransport(ctx context.Context) mcp.Transport {
	cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
	if len(c.config.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.config.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return &mcp.CommandTransport{Command: cmd}
}

func (c *Client) createHTTPTransport() mcp.Transport {
	httpClient := http.DefaultClient
	if len(c.config.Headers) > 0 {
		httpClient = &http.Client{Transport: &headerTransport{headers: c.config.Headers, base: http.DefaultTransport}}
	}
	return &mcp.StreamableClientTransport{Endpoint: c.config.URL, HTTPClient: httpClient}
}

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, os.ExpandEnv(v))
	}
	return t.base.RoundTrip(req)
}

// Stop closes the MCP server connection.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	c.running = false
	c.tools = nil
	return err
}

// IsRunning returns whether the client is connected.
func (c *Client) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Tools returns the available tools from this server.
func (c *Client) Tools() []llm.ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// refreshTools fetches the tool list from the server.
func (c *Client) refreshTools(ctx context.Context) error {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}

	c.tools = make([]llm.ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		c.tools = append(c.tools, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schemaMap(t.InputSchema),
		})
	}
	return nil
}

func schemaMap(schema any) map[string]any {
	switch s := schema.(type) {
	case map[string]any:
		return s
	case nil:
		return map[string]any{"type": "object"}
	default:
		data, err := json.Marshal(s)
		if err != nil {
			return map[string]any{"type": "object"}
		}
		out := make(map[string]any)
		if err := json.Unmarshal(data, &out); err != nil {
			return map[string]any{"type": "object"}
		}
		return out
	}
}

// CallTool invokes a tool on the MCP server and returns its result as JSON.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	c.mu.RLock()
	session := c.session
	running := c.running
	c.mu.RUnlock()

	if !running || session == nil {
		return nil, fmt.Errorf("MCP server %s is not running", c.name)
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("tool %s returned error: %s", name, formatContent(result.Content))
	}
	if result.StructuredContent != nil {
		if data, err := json.Marshal(result.StructuredContent); err == nil {
			return data, nil
		}
	}
	return json.Marshal(formatContent(result.Content))
}

// formatContent converts MCP content to a string.
func formatContent(content []mcp.Content) string {
	var b strings.Builder
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			b.WriteString(v.Text)
		default:
			// For other content types, try JSON encoding
			if data, err := json.Marshal(c); err == nil {
				b.Write(data)
			}
		}
	}
	return b.String()
}
