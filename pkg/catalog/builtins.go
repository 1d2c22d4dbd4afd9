package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/itchyny/gojq"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

const (
	localContext = "linuxenv.context"
	localFetcher = "linuxenv.fetcher"
)

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct":   starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":     jsonModule(),
		"jq":       jqModule(),
		"html":     htmlModule(),
		"re":       reModule(),
		"download": downloadBuiltin(),
	}
}

func jsonModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "json",
		Members: starlark.StringDict{
			"decode": NewBuiltin(Signature{
				Name:   "json.decode",
				Desc:   "Decode a JSON document.",
				Params: []Param{{Name: "data", Type: "string", Desc: "JSON text"}},
			}, func(_ *starlark.Thread, kw map[string]starlark.Value) (starlark.Value, error) {
				var v any
				if err := json.Unmarshal([]byte(str(kw["data"])), &v); err != nil {
					return nil, err
				}
				return fromGo(v), nil
			}),
			"encode": NewBuiltin(Signature{
				Name:   "json.encode",
				Desc:   "Encode a value as compact JSON.",
				Params: []Param{{Name: "value", Type: "any", Desc: "value to encode"}},
			}, func(_ *starlark.Thread, kw map[string]starlark.Value) (starlark.Value, error) {
				v, err := toGo(kw["value"])
				if err != nil {
					return nil, err
				}
				b, err := json.Marshal(v)
				if err != nil {
					return nil, err
				}
				return starlark.String(b), nil
			}),
		},
	}
}

func jqModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "jq",
		Members: starlark.StringDict{
			"query": NewBuiltin(Signature{
				Name: "jq.query",
				Desc: "Run a jq filter. One result is returned as is, several as a list.",
				Params: []Param{
					{Name: "query", Type: "string", Desc: "jq filter"},
					{Name: "value", Type: "any", Desc: "input value"},
				},
			}, func(_ *starlark.Thread, kw map[string]starlark.Value) (starlark.Value, error) {
				input, err := toGo(kw["value"])
				if err != nil {
					return nil, err
				}
				results, err := RunJQ(str(kw["query"]), input)
				if err != nil {
					return nil, err
				}
				if len(results) == 1 {
					return fromGo(results[0]), nil
				}
				return fromGo(results), nil
			}),
		},
	}
}

// RunJQ evaluates a jq filter over input and collects every result.
func RunJQ(filter string, input any) ([]any, error) {
	q, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("parse jq filter: %w", err)
	}
	var out []any
	iter := q.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			return out, nil
		}
		if err, ok := v.(error); ok {
			if herr, ok := err.(*gojq.HaltError); ok && herr.Value() == nil {
				return out, nil
			}
			return nil, err
		}
		out = append(out, v)
	}
}

func reModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "re",
		Members: starlark.StringDict{
			"find_all": NewBuiltin(Signature{
				Name: "re.find_all",
				Desc: "Return the first capture group (or whole match) of every match.",
				Params: []Param{
					{Name: "pattern", Type: "string", Desc: "RE2 expression"},
					{Name: "text", Type: "string", Desc: "input text"},
				},
			}, func(_ *starlark.Thread, kw map[string]starlark.Value) (starlark.Value, error) {
				re, err := regexp.Compile(str(kw["pattern"]))
				if err != nil {
					return nil, err
				}
				var found []string
				for _, m := range re.FindAllStringSubmatch(str(kw["text"]), -1) {
					if len(m) > 1 {
						found = append(found, m[1])
					} else {
						found = append(found, m[0])
					}
				}
				return fromGo(found), nil
			}),
		},
	}
}

func downloadBuiltin() *starlark.Builtin {
	return NewBuiltin(Signature{
		Name:   "download",
		Desc:   "Fetch a small document (at most 5 MiB) and return its body.",
		Params: []Param{{Name: "url", Type: "string", Desc: "http(s) or file URL"}},
	}, func(thread *starlark.Thread, kw map[string]starlark.Value) (starlark.Value, error) {
		fetch, _ := thread.Local(localFetcher).(Fetcher)
		if fetch == nil {
			return nil, fmt.Errorf("download: no network client configured")
		}
		ctx, _ := thread.Local(localContext).(context.Context)
		if ctx == nil {
			ctx = context.Background()
		}
		body, err := fetch(ctx, str(kw["url"]))
		if err != nil {
			return nil, err
		}
		return starlark.String(body), nil
	})
}
