package executor

import (
	"reflect"
	"sort"
	"strconv"
	"strings"

	"OpenMCP-Intent/internal/catalog"
)

// Validate 校验调用中出现的已声明参数，返回全部不合法参数名（排序）。未声明的参数被忽略。
func Validate(schema catalog.Schema, args map[string]any) []string {
	var invalid []string
	for name, declared := range schema {
		value, present := args[name]
		if !present || value == nil {
			continue
		}
		if !matches(declared, value) {
			invalid = append(invalid, name)
		}
	}
	sort.Strings(invalid)
	return invalid
}

func matches(declared catalog.ArgType, value any) bool {
	if declared.IsArray() {
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return false
		}
		elem := declared.Elem()
		for i := 0; i < rv.Len(); i++ {
			if !matches(elem, rv.Index(i).Interface()) {
				return false
			}
		}
		return true
	}
	switch catalog.ArgType(strings.ToLower(string(declared))) {
	case catalog.TypeString:
		_, ok := value.(string)
		return ok
	case catalog.TypeNumber:
		_, ok := toNumber(value)
		return ok
	case catalog.TypeBoolean:
		switch v := value.(type) {
		case bool:
			return true
		case string:
			_, err := strconv.ParseBool(strings.TrimSpace(v))
			return err == nil
		}
		return false
	case catalog.TypeObject:
		rv := reflect.ValueOf(value)
		return rv.Kind() == reflect.Map
	case catalog.TypeAny, "":
		return true
	default:
		return false
	}
}

func toNumber(v any) (float64, bool) {
	return catalog.Number(v)
}
