package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/samsaffron/storyloom/internal/config"
	"github.com/samsaffron/storyloom/internal/mcp"
	"github.com/samsaffron/storyloom/internal/session"
	"github.com/samsaffron/storyloom/internal/tools"
)

// toolLoadTimeout bounds fetching remote tool lists at startup.
const toolLoadTimeout = 10 * time.Second

func openStore(cfg *config.Config) (session.Store, error) {
	store, err := session.NewStore(cfg.Sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, nil
}

// toolSet is the registry a chat runs with and the MCP servers behind it.
type toolSet struct {
	registry *tools.Registry
	mcp      *mcp.Manager
}

func (t *toolSet) Close() {
	if t.mcp != nil {
		if err := t.mcp.Stop(); err != nil {
			logger.Warn("failed to stop MCP servers", zap.Error(err))
		}
	}
}

// buildTools assembles local, backend and MCP tools. Remote sources that
// cannot be reached are logged and skipped so chat still works without
// them. MCP servers live as long as ctx.
func buildTools(ctx context.Context, cfg *config.Config) (*toolSet, error) {
	filter, err := cfg.ToolFilter()
	if err != nil {
		return nil, err
	}
	set := &toolSet{registry: tools.NewRegistry(filter)}
	tools.RegisterBuiltins(set.registry)

	if cfg.Provider == "backend" && cfg.Backend.ToolsURL != "" {
		remote := tools.NewHTTPRegistry(cfg.Backend.ToolsURL, nil, logger)
		loadCtx, cancel := context.WithTimeout(ctx, toolLoadTimeout)
		err := remote.Load(loadCtx)
		cancel()
		if err != nil {
			logger.Warn("backend tool registry unavailable", zap.String("url", cfg.Backend.ToolsURL), zap.Error(err))
		} else {
			set.registry.Mount(remote)
		}
	}

	if len(cfg.MCP.Servers) > 0 {
		set.mcp = mcp.NewManager(cfg.MCP.Servers, logger)
		if err := set.mcp.StartAll(ctx); err != nil {
			logger.Warn("some MCP servers failed to start", zap.Error(err))
		}
		set.registry.Mount(set.mcp)
	}
	return set, nil
}
