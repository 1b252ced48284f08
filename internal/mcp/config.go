package mcp

import (
	"errors"
	"fmt"
	"strings"
)

// ServerConfig describes one MCP server. Servers are launched as a
// subprocess speaking stdio (Command) or reached over streamable HTTP (URL).
type ServerConfig struct {
	Type    string            `mapstructure:"type" yaml:"type,omitempty"` // "stdio" or "http"; inferred when empty
	Command string            `mapstructure:"command" yaml:"command,omitempty"`
	Args    []string          `mapstructure:"args" yaml:"args,omitempty"`
	Env     map[string]string `mapstructure:"env" yaml:"env,omitempty"` // added to the inherited environment
	URL     string            `mapstructure:"url" yaml:"url,omitempty"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"` // values may reference ${ENV}
}

// TransportType returns "http" or "stdio".
func (c *ServerConfig) TransportType() string {
	if c.Type == "http" || (c.Type == "" && c.URL != "") {
		return "http"
	}
	return "stdio"
}

// Validate checks that exactly one transport is configured.
func (c *ServerConfig) Validate() error {
	switch {
	case c.Type != "" && c.Type != "stdio" && c.Type != "http":
		return fmt.Errorf("unknown transport type %q", c.Type)
	case c.URL != "" && c.Command != "":
		return errors.New("cannot specify both url and command")
	case c.TransportType() == "http" && c.URL == "":
		return errors.New("http transport requires url")
	case c.TransportType() == "stdio" && c.Command == "":
		return errors.New("stdio transport requires command")
	}
	return nil
}

// ValidateName rejects server names that would make prefixed tool names
// ambiguous.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("server name is empty")
	}
	if strings.Contains(name, toolSeparator) {
		return fmt.Errorf("server name %q must not contain %q", name, toolSeparator)
	}
	return nil
}
