package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"

	"github.com/samsaffron/storyloom/internal/llm"
)

// Registry stores local tools by name and forwards other names to mounted
// remote callers. It implements Caller.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	remotes []Caller
	filter  *Filter
}

func NewRegistry(filter *Filter) *Registry {
	return &Registry{tools: make(map[string]Tool), filter: filter}
}

func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Spec().Name] = tool
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Mount adds a remote caller. Local tools shadow remote tools of the same name.
func (r *Registry) Mount(c Caller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes = append(r.remotes, c)
}

// Specs returns the allowed tool specs sorted by name.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var specs []llm.ToolSpec
	add := func(spec llm.ToolSpec) {
		if seen[spec.Name] || !r.filter.Allowed(spec.Name) {
			return
		}
		seen[spec.Name] = true
		specs = append(specs, spec)
	}
	for _, tool := range r.tools {
		add(tool.Spec())
	}
	for _, remote := range r.remotes {
		for _, spec := range remote.Specs() {
			add(spec)
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Names returns the allowed tool names sorted.
func (r *Registry) Names() []string {
	specs := r.Specs()
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

func (r *Registry) Call(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	if !r.filter.Allowed(inv.ToolName) {
		return nil, NewToolErrorf(ErrPermissionDenied, "tool %s is not enabled", inv.ToolName)
	}
	if tool, ok := r.Get(inv.ToolName); ok {
		out, err := tool.Execute(ctx, inv.Arguments, inv.SessionContext)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, NewToolErrorf(ErrExecutionFailed, "encode result of %s: %v", inv.ToolName, err)
		}
		return data, nil
	}
	if remote := r.remoteFor(inv.ToolName); remote != nil {
		return remote.Call(ctx, inv)
	}
	return nil, r.unknown(inv.ToolName)
}

// IsReadOnly reports whether the named tool is known not to mutate state.
func (r *Registry) IsReadOnly(name string) bool {
	if tool, ok := r.Get(name); ok {
		ro, ok := tool.(ReadOnlyTool)
		return ok && ro.ReadOnly()
	}
	if remote := r.remoteFor(name); remote != nil {
		if rep, ok := remote.(readOnlyReporter); ok {
			return rep.IsReadOnly(name)
		}
	}
	return false
}

func (r *Registry) remoteFor(name string) Caller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, remote := range r.remotes {
		for _, spec := range remote.Specs() {
			if spec.Name == name {
				return remote
			}
		}
	}
	return nil
}

func (r *Registry) unknown(name string) error {
	names := r.Names()
	matches := fuzzy.Find(name, names)
	if len(matches) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	suggestions := make([]string, 0, 3)
	for i := 0; i < len(matches) && i < 3; i++ {
		suggestions = append(suggestions, matches[i].Str)
	}
	return fmt.Errorf("%w: %s (did you mean %s?)", ErrUnknownTool, name, strings.Join(suggestions, ", "))
}
