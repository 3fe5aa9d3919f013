package callables

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/compresr/theme-registry/internal/pipes"
)

// variablesToTable converts the bag into a Lua table keyed by variable name.
func variablesToTable(L *lua.LState, vars *pipes.Variables) *lua.LTable {
	t := L.NewTable()
	for _, k := range vars.Keys() {
		v, _ := vars.Get(k)
		t.RawSetString(k, toLua(L, v))
	}
	return t
}

// tableToVariables copies t back into vars. Keys removed by the script are
// removed from the bag; new keys are appended in sorted order. A nil variable
// has no table entry to begin with, so it is kept unless the script set it.
func tableToVariables(t *lua.LTable, vars *pipes.Variables) {
	present := make(map[string]lua.LValue)
	t.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			present[string(ks)] = v
		}
	})
	for _, k := range vars.Keys() {
		v, ok := present[k]
		if !ok {
			if old, _ := vars.Get(k); old != nil {
				vars.Delete(k)
			}
			continue
		}
		vars.Set(k, toGo(v, make(map[*lua.LTable]bool)))
		delete(present, k)
	}
	added := make(map[string]any, len(present))
	for k, v := range present {
		added[k] = toGo(v, make(map[*lua.LTable]bool))
	}
	fresh := pipes.VariablesFrom(added)
	for _, k := range fresh.Keys() {
		v, _ := fresh.Get(k)
		vars.Set(k, v)
	}
}

// toLua converts a Go value. Values with no Lua equivalent travel as userdata
// and come back unchanged.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []string:
		t := L.NewTable()
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	case map[string]string:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, lua.LString(item))
		}
		return t
	case pipes.Element:
		return toLua(L, map[string]any(val))
	default:
		ud := L.NewUserData()
		ud.Value = v
		return ud
	}
}

// toGo converts a Lua value back. Tables with contiguous integer keys from 1
// become []any, other tables map[string]any.
func toGo(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if count == 0 {
		return []any{}
	}
	if n > 0 && n == count {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = toGo(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = fmt.Sprintf("%v", float64(kv))
		default:
			key = k.String()
		}
		m[key] = toGo(v, visited)
	})
	return m
}
