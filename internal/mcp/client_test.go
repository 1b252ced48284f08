package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stdioTransport(t *testing.T, cfg ServerConfig) *sdkmcp.CommandTransport {
	t.Helper()
	client := NewClient("test", cfg)
	ct, ok := client.createStdioTransport(context.Background()).(*sdkmcp.CommandTransport)
	require.True(t, ok, "expected a command transport")
	return ct
}

func TestCreateStdioTransport_InheritsEnv(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	ct := stdioTransport(t, ServerConfig{
		Command: "echo",
		Args:    []string{"hello"},
		Env:     map[string]string{"CUSTOM_VAR": "custom_value"},
	})

	require.NotNil(t, ct.Command.Env)
	assert.Contains(t, ct.Command.Env, "PATH=/usr/bin")
	assert.Contains(t, ct.Command.Env, "CUSTOM_VAR=custom_value")
}

func TestCreateStdioTransport_NoEnvInheritsParent(t *testing.T) {
	assert.Nil(t, stdioTransport(t, ServerConfig{Command: "echo"}).Command.Env)
	assert.Nil(t, stdioTransport(t, ServerConfig{Command: "echo", Env: map[string]string{}}).Command.Env)
}

func TestCreateStdioTransport_EnvOverridesParent(t *testing.T) {
	t.Setenv("STORYLOOM_MCP_VAR", "original")
	ct := stdioTransport(t, ServerConfig{
		Command: "echo",
		Env:     map[string]string{"STORYLOOM_MCP_VAR": "overridden"},
	})

	// exec.Cmd keeps the last value for duplicated keys.
	env := ct.Command.Env
	require.NotEmpty(t, env)
	assert.Equal(t, "STORYLOOM_MCP_VAR=overridden", env[len(env)-1])
}

func TestHeaderTransportExpandsEnv(t *testing.T) {
	t.Setenv("STORYLOOM_MCP_TOKEN", "secret")
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	client := &http.Client{Transport: &headerTransport{
		headers: map[string]string{"Authorization": "Bearer ${STORYLOOM_MCP_TOKEN}"},
		base:    http.DefaultTransport,
	}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer secret", got)
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr string
		kind    string
	}{
		{name: "stdio", cfg: ServerConfig{Command: "notes-mcp"}, kind: "stdio"},
		{name: "http by url", cfg: ServerConfig{URL: "http://localhost:9000/mcp"}, kind: "http"},
		{name: "http missing url", cfg: ServerConfig{Type: "http"}, wantErr: "requires url", kind: "http"},
		{name: "stdio missing command", cfg: ServerConfig{}, wantErr: "requires command", kind: "stdio"},
		{name: "both", cfg: ServerConfig{URL: "http://x", Command: "y"}, wantErr: "both", kind: "http"},
		{name: "explicit stdio with url", cfg: ServerConfig{Type: "stdio", URL: "http://x"}, wantErr: "requires command", kind: "stdio"},
		{name: "unknown type", cfg: ServerConfig{Type: "grpc"}, wantErr: "unknown transport", kind: "stdio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.cfg.TransportType())
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("notes"))
	assert.Error(t, ValidateName(""))
	assert.ErrorContains(t, ValidateName("my__notes"), "must not contain")
}
