package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/samsaffron/storyloom/internal/llm"
	"github.com/samsaffron/storyloom/internal/tools"
)

// toolSeparator joins server and tool names in the names exposed to the model.
const toolSeparator = "__"

// maxParallelStarts bounds how many servers are started at once.
const maxParallelStarts = 4

// ServerStatus represents the status of an MCP server.
type ServerStatus struct {
	Name   string
	Status string // "stopped", "running", "failed"
	Error  error
	Tools  int
}

// Manager owns the configured MCP servers and serves their tools as a
// tools.Caller, mountable on a tools.Registry.
type Manager struct {
	configs map[string]ServerConfig
	logger  *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	errors  map[string]error
}

// NewManager creates a manager for the given servers.
func NewManager(configs map[string]ServerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		configs: configs,
		logger:  logger,
		clients: make(map[string]*Client),
		errors:  make(map[string]error),
	}
}

// StartAll starts every configured server concurrently. Servers that fail
// to start are recorded in Status; the returned error joins their failures
// while the healthy servers stay available.
func (m *Manager) StartAll(ctx context.Context) error {
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	sort.Strings(names)

	var g errgroup.Group
	g.SetLimit(maxParallelStarts)
	errs := make([]error, len(names))
	for i, name := range names {
		g.Go(func() error {
			errs[i] = m.Start(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Start starts a single configured server.
func (m *Manager) Start(ctx context.Context, name string) error {
	cfg, ok := m.configs[name]
	if !ok {
		return fmt.Errorf("MCP server %s is not configured", name)
	}
	if err := errors.Join(ValidateName(name), cfg.Validate()); err != nil {
		err = fmt.Errorf("MCP server %s: %w", name, err)
		m.recordFailure(name, err)
		return err
	}
	return m.startClient(ctx, NewClient(name, cfg))
}

func (m *Manager) startClient(ctx context.Context, client *Client) error {
	name := client.Name()
	if err := client.Start(ctx); err != nil {
		m.recordFailure(name, err)
		return err
	}

	m.mu.Lock()
	m.clients[name] = client
	delete(m.errors, name)
	m.mu.Unlock()

	m.logger.Info("MCP server started", zap.String("server", name), zap.Int("tools", len(client.Tools())))
	return nil
}

func (m *Manager) recordFailure(name string, err error) {
	m.mu.Lock()
	m.errors[name] = err
	m.mu.Unlock()
	m.logger.Warn("MCP server failed to start", zap.String("server", name), zap.Error(err))
}

// Stop stops every running server.
func (m *Manager) Stop() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	var errs []error
	for name, c := range clients {
		if err := c.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Status returns the status of every configured server, sorted by name.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.configs))
	for name := range m.configs {
		s := ServerStatus{Name: name, Status: "stopped"}
		if c, ok := m.clients[name]; ok && c.IsRunning() {
			s.Status = "running"
			s.Tools = len(c.Tools())
		} else if err, ok := m.errors[name]; ok {
			s.Status = "failed"
			s.Error = err
		}
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// Specs returns the tools of all running servers, named server__tool.
func (m *Manager) Specs() []llm.ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var specs []llm.ToolSpec
	for name, c := range m.clients {
		if !c.IsRunning() {
			continue
		}
		for _, t := range c.Tools() {
			t.Name = name + toolSeparator + t.Name
			specs = append(specs, t)
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Call routes a server__tool invocation to its server.
func (m *Manager) Call(ctx context.Context, inv tools.Invocation) (json.RawMessage, error) {
	server, tool, ok := parseToolName(inv.ToolName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", tools.ErrUnknownTool, inv.ToolName)
	}

	m.mu.RLock()
	client, ok := m.clients[server]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (MCP server %s is not running)", tools.ErrUnknownTool, inv.ToolName, server)
	}

	out, err := client.CallTool(ctx, tool, inv.Arguments)
	if err != nil {
		return nil, tools.NewToolErrorf(tools.ErrExecutionFailed, "%v", err)
	}
	return out, nil
}

// parseToolName splits server__tool. Tool names may themselves contain the
// separator; server names may not.
func parseToolName(name string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(name, toolSeparator)
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}
