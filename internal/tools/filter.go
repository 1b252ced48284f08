package tools

import (
	"errors"
	"fmt"

	"github.com/gobwas/glob"
)

// Filter decides which tool names are exposed to the model. A name is
// allowed when it matches at least one allow pattern and no deny pattern.
// A nil Filter allows everything.
type Filter struct {
	allow []glob.Glob
	deny  []glob.Glob
}

// NewFilter compiles allow and deny glob patterns. An empty allow list
// allows every name.
func NewFilter(allow, deny []string) (*Filter, error) {
	f := &Filter{}
	var errs []error
	compile := func(patterns []string) []glob.Glob {
		var out []glob.Glob
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid tool pattern %q: %w", p, err))
				continue
			}
			out = append(out, g)
		}
		return out
	}
	f.allow = compile(allow)
	f.deny = compile(deny)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return f, nil
}

func (f *Filter) Allowed(name string) bool {
	if f == nil {
		return true
	}
	for _, g := range f.deny {
		if g.Match(name) {
			return false
		}
	}
	if len(f.allow) == 0 {
		return true
	}
	for _, g := range f.allow {
		if g.Match(name) {
			return true
		}
	}
	return false
}
