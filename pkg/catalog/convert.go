package catalog

import (
	"fmt"
	"math/big"
	"sort"

	"go.starlark.net/starlark"
)

// toGo converts a Starlark value into the plain shapes gojq and
// encoding/json understand.
func toGo(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return int(i), nil
		}
		return new(big.Int).Set(x.BigInt()), nil
	case starlark.Float:
		return float64(x), nil
	case starlark.Indexable:
		out := make([]any, 0, x.Len())
		for i := 0; i < x.Len(); i++ {
			item, err := toGo(x.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, x.Len())
		for _, item := range x.Items() {
			k, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0])
			}
			val, err := toGo(item[1])
			if err != nil {
				return nil, err
			}
			out[string(k)] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot convert %s to a plain value", v.Type())
}

func fromGo(v any) starlark.Value {
	switch x := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(x)
	case string:
		return starlark.String(x)
	case int:
		return starlark.MakeInt(x)
	case int64:
		return starlark.MakeInt64(x)
	case *big.Int:
		return starlark.MakeBigInt(x)
	case float64:
		if x == float64(int64(x)) && x < 1<<53 && x > -(1<<53) {
			return starlark.MakeInt64(int64(x))
		}
		return starlark.Float(x)
	case []any:
		items := make([]starlark.Value, len(x))
		for i, item := range x {
			items[i] = fromGo(item)
		}
		return starlark.NewList(items)
	case []string:
		items := make([]starlark.Value, len(x))
		for i, item := range x {
			items[i] = starlark.String(item)
		}
		return starlark.NewList(items)
	case map[string]string:
		d := starlark.NewDict(len(x))
		for _, k := range sortedKeys(x) {
			_ = d.SetKey(starlark.String(k), starlark.String(x[k]))
		}
		return d
	case map[string]any:
		d := starlark.NewDict(len(x))
		for _, k := range sortedKeys(x) {
			_ = d.SetKey(starlark.String(k), fromGo(x[k]))
		}
		return d
	}
	return starlark.String(fmt.Sprint(v))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
