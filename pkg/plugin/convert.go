package plugin

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Fields is passed to scripts as a struct rather than a dict.
type Fields map[string]interface{}

// toStarlarkValue converts a Go value to a Starlark value. Maps keyed by
// int stay int-keyed so scripts can index cells by number.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return val, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []float64:
		list := make([]starlark.Value, len(val))
		for i, f := range val {
			list[i] = starlark.Float(f)
		}
		return starlark.NewList(list), nil
	case []int:
		list := make([]starlark.Value, len(val))
		for i, n := range val {
			list[i] = starlark.MakeInt(n)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[int]float64:
		dict := starlark.NewDict(len(val))
		for _, k := range sortedIntKeys(val) {
			if err := dict.SetKey(starlark.MakeInt(k), starlark.Float(val[k])); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[int]interface{}:
		dict := starlark.NewDict(len(val))
		keys := make([]int, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		for _, k := range keys {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.MakeInt(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case Fields:
		members := make(starlark.StringDict, len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			members[k] = sv
		}
		return starlarkstruct.FromStringDict(starlarkstruct.Default, members), nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value. Dicts become
// map[string]interface{} when every key is a string and
// map[int]interface{} when every key is an int.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			gv, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = gv
		}
		return list, nil
	case *starlark.Dict:
		return fromDict(val)
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromDict(d *starlark.Dict) (interface{}, error) {
	items := d.Items()
	if len(items) == 0 {
		return map[string]interface{}{}, nil
	}
	if _, ok := items[0][0].(starlark.Int); ok {
		out := make(map[int]interface{}, len(items))
		for _, item := range items {
			key, ok := item[0].(starlark.Int)
			if !ok {
				return nil, fmt.Errorf("dict mixes int and %s keys", item[0].Type())
			}
			k, ok := key.Int64()
			if !ok {
				return nil, fmt.Errorf("dict key too large")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			out[int(k)] = value
		}
		return out, nil
	}
	out := make(map[string]interface{}, len(items))
	for _, item := range items {
		key, ok := item[0].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("dict key must be string or int, got %s", item[0].Type())
		}
		value, err := fromStarlarkValue(item[1])
		if err != nil {
			return nil, err
		}
		out[string(key)] = value
	}
	return out, nil
}

// toFloat accepts both Starlark numeric kinds after conversion.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func sortedIntKeys(m map[int]float64) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
