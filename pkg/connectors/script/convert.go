package script

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// toStarlarkValue converts a column cell. Nested lists and string keyed maps
// are converted element by element.
func toStarlarkValue(cell any) (starlark.Value, error) {
	switch v := cell.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(v), nil
	case string:
		return starlark.String(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int32:
		return starlark.MakeInt64(int64(v)), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case float32:
		return starlark.Float(v), nil
	case float64:
		return starlark.Float(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := v.Float64()
		return starlark.Float(f), err
	case []string:
		elems := make([]starlark.Value, len(v))
		for i, s := range v {
			elems[i] = starlark.String(s)
		}
		return starlark.NewList(elems), nil
	case []any:
		elems := make([]starlark.Value, len(v))
		for i := range v {
			elem, err := toStarlarkValue(v[i])
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			elems[i] = elem
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		return toStarlarkDict(v)
	}
	return nil, fmt.Errorf("cannot pass %T to a script", cell)
}

func toStarlarkDict(m map[string]any) (*starlark.Dict, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dict := starlark.NewDict(len(m))
	for _, k := range keys {
		v, err := toStarlarkValue(m[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if err := dict.SetKey(starlark.String(k), v); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

// fromStarlarkValue converts a script result back to a cell. Integers become
// int64, tuples become lists and structs become maps.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.String:
		return string(v), nil
	case starlark.Float:
		return float64(v), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i, nil
		}
		return nil, fmt.Errorf("integer %s overflows int64", v.BigInt().Text(10))
	case *starlark.List, starlark.Tuple:
		return fromStarlarkSequence(v.(starlark.Indexable))
	case *starlark.Dict:
		m := make(map[string]any, v.Len())
		for _, kv := range v.Items() {
			k, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", kv[0].Type())
			}
			cell, err := fromStarlarkValue(kv[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = cell
		}
		return m, nil
	case *starlarkstruct.Struct:
		m := make(map[string]any)
		for _, name := range v.AttrNames() {
			attr, err := v.Attr(name)
			if err != nil {
				return nil, err
			}
			if m[name], err = fromStarlarkValue(attr); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		}
		return m, nil
	}
	return nil, fmt.Errorf("scripts cannot return %s values", v.Type())
}

func fromStarlarkSequence(seq starlark.Indexable) ([]any, error) {
	out := make([]any, seq.Len())
	for i := range out {
		cell, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = cell
	}
	return out, nil
}

// rowDict gathers row i of every column into a dict. Short columns read as
// None.
func rowDict(columns map[string]engine.Column, i int) (*starlark.Dict, error) {
	row := make(map[string]any, len(columns))
	for name, col := range columns {
		if i < len(col) {
			row[name] = col[i]
		} else {
			row[name] = nil
		}
	}
	return toStarlarkDict(row)
}
