package catalog

import (
	"fmt"
	"slices"
	"strings"

	"go.starlark.net/starlark"
)

// Param describes one keyword argument of a recipe builtin.
type Param struct {
	Name string
	Type string // "string" or "any"
	Desc string
}

// Signature is the schema a builtin validates its call against.
type Signature struct {
	Name   string
	Desc   string
	Params []Param
}

// Action receives the validated keyword arguments.
type Action func(thread *starlark.Thread, kwargs map[string]starlark.Value) (starlark.Value, error)

// NewBuiltin returns a builtin that only accepts keyword arguments and
// requires every declared parameter. Errors carry a usage block.
func NewBuiltin(sig Signature, action Action) *starlark.Builtin {
	return starlark.NewBuiltin(sig.Name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("%s: positional arguments are not accepted\n%s", sig.Name, sig.usage())
		}

		kw := make(map[string]starlark.Value, len(kwargs))
		for _, pair := range kwargs {
			kw[string(pair[0].(starlark.String))] = pair[1]
		}

		if err := sig.check(kw); err != nil {
			return nil, fmt.Errorf("%s: %w\n%s", sig.Name, err, sig.usage())
		}
		return action(thread, kw)
	})
}

func (sig Signature) check(kw map[string]starlark.Value) error {
	var missing []string
	for _, p := range sig.Params {
		v, ok := kw[p.Name]
		if !ok {
			missing = append(missing, p.Name)
			continue
		}
		if p.Type == "string" {
			if _, ok := v.(starlark.String); !ok {
				return fmt.Errorf("argument %q must be a string, got %s", p.Name, v.Type())
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing arguments: %s", strings.Join(missing, ", "))
	}

	for k := range kw {
		known := slices.ContainsFunc(sig.Params, func(p Param) bool { return p.Name == k })
		if !known {
			return fmt.Errorf("unknown argument %q", k)
		}
	}
	return nil
}

func (sig Signature) usage() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n  %s\n\n  %s(\n", sig.Desc, sig.Name)
	for _, p := range sig.Params {
		fmt.Fprintf(&sb, "      %-12s # %s: %s\n", p.Name+"=", p.Type, p.Desc)
	}
	sb.WriteString("  )\n")
	return sb.String()
}

func str(v starlark.Value) string {
	if s, ok := v.(starlark.String); ok {
		return string(s)
	}
	if v == nil || v == starlark.None {
		return ""
	}
	return v.String()
}
