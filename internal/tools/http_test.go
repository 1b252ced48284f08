package tools_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/storyloom/internal/llm"
	"github.com/samsaffron/storyloom/internal/tools"
)

func toolServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"tools":[
				{"name":"list_chapters","description":"List chapters","parameters":{"type":"object"},"read_only":true},
				{"name":"create_chapter","description":"Create a chapter","parameters":{"type":"object","properties":{"title":{"type":"string"}}}}
			]}`))
			return
		}
		var inv tools.Invocation
		if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch inv.ToolName {
		case "create_chapter":
			_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
				"id":      "ch-9",
				"title":   inv.Arguments["title"],
				"session": inv.SessionContext.SessionID,
			}})
		case "list_chapters":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"project missing"}}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPRegistry_LoadAndCall(t *testing.T) {
	srv := toolServer(t)
	reg := tools.NewHTTPRegistry(srv.URL, nil, nil)
	require.NoError(t, reg.Load(context.Background()))

	specs := reg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "list_chapters", specs[0].Name)
	assert.True(t, reg.IsReadOnly("list_chapters"))
	assert.False(t, reg.IsReadOnly("create_chapter"))

	out, err := reg.Call(context.Background(), tools.Invocation{
		ToolName:       "create_chapter",
		Arguments:      map[string]any{"title": "Storm"},
		SessionContext: tools.SessionContext{SessionID: "s-1"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"ch-9","title":"Storm","session":"s-1"}`, string(out))
}

func TestHTTPRegistry_Errors(t *testing.T) {
	srv := toolServer(t)
	reg := tools.NewHTTPRegistry(srv.URL, nil, nil)

	_, err := reg.Call(context.Background(), tools.Invocation{ToolName: "list_chapters"})
	var terr *tools.ToolError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, tools.ErrNotFound, terr.Type)
	assert.Equal(t, "project missing", terr.Message)

	_, err = reg.Call(context.Background(), tools.Invocation{ToolName: "explode"})
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Message, "boom")
}

func TestHTTPRegistry_ThroughDispatcher(t *testing.T) {
	srv := toolServer(t)
	remote := tools.NewHTTPRegistry(srv.URL, nil, nil)
	require.NoError(t, remote.Load(context.Background()))
	reg := tools.NewRegistry(nil)
	reg.Mount(remote)

	round, err := tools.NewDispatcher(reg, nil).Dispatch(context.Background(), []llm.AssembledCall{
		call("c1", "list_chapters", nil),
		call("c2", "create_chapter", map[string]any{"title": "Dawn"}),
	}, tools.SessionContext{SessionID: "s-2"}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"project missing"}`, round.Messages[0].Content)
	assert.JSONEq(t, `{"id":"ch-9","title":"Dawn","session":"s-2"}`, round.Messages[1].Content)
	assert.True(t, round.ProjectChanged)
}
