package util

import (
	"reflect"

	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/state"
)

// CycleDetectionContext holds state for a single DeepCopy operation to handle cycles.
// It maps the address of an original map or slice to its copy.
type CycleDetectionContext map[uintptr]interface{}

// DeepCopy creates a deep copy of a value. Documents, maps and slices of
// interface{} take a fast path; other maps, slices, arrays and pointers are
// copied through reflection. Scalars and structs are copied by value.
func DeepCopy(src interface{}) interface{} {
	if src == nil {
		return nil
	}
	ctx := make(CycleDetectionContext)
	return deepCopyRecursive(src, ctx)
}

// CopyDocument returns a deep copy of doc. A nil document copies to nil.
func CopyDocument(doc state.Document) state.Document {
	if doc == nil {
		return nil
	}
	return DeepCopy(doc).(state.Document)
}

func deepCopyRecursive(src interface{}, ctx CycleDetectionContext) interface{} {
	switch v := src.(type) {
	case map[string]interface{}:
		if v == nil {
			return v
		}
		addr := reflect.ValueOf(v).Pointer()
		if cpy, exists := ctx[addr]; exists {
			// Already copying this map further up the stack; reuse it to break the cycle.
			return cpy
		}
		// Register the copy before recursing.
		cpy := make(map[string]interface{}, len(v))
		ctx[addr] = cpy
		for key, value := range v {
			cpy[key] = deepCopyRecursive(value, ctx)
		}
		return cpy

	case state.Document:
		if v == nil {
			return v
		}
		addr := reflect.ValueOf(v).Pointer()
		if cpy, exists := ctx[addr]; exists {
			return cpy
		}
		cpy := make(state.Document, len(v))
		ctx[addr] = cpy
		for key, value := range v {
			cpy[key] = deepCopyRecursive(value, ctx)
		}
		return cpy

	case []interface{}:
		if v == nil {
			return v
		}
		if len(v) > 0 {
			addr := reflect.ValueOf(v).Pointer()
			if cpy, exists := ctx[addr]; exists {
				return cpy
			}
		}
		cpy := make([]interface{}, len(v))
		if len(v) > 0 {
			ctx[reflect.ValueOf(v).Pointer()] = cpy
		}
		for i, value := range v {
			cpy[i] = deepCopyRecursive(value, ctx)
		}
		return cpy

	case string, float64, bool, int, int64, int32, float32:
		return v

	default:
		return deepCopyReflection(reflect.ValueOf(v), ctx)
	}
}

// deepCopyReflection copies typed containers such as []string or
// map[string]string. Other kinds are copied by value.
func deepCopyReflection(original reflect.Value, ctx CycleDetectionContext) interface{} {
	switch original.Kind() {
	case reflect.Map:
		if original.IsNil() {
			return original.Interface()
		}
		addr := original.Pointer()
		if cpy, exists := ctx[addr]; exists {
			return cpy
		}
		cpy := reflect.MakeMapWithSize(original.Type(), original.Len())
		ctx[addr] = cpy.Interface()
		iter := original.MapRange()
		for iter.Next() {
			cpy.SetMapIndex(iter.Key(), copyValue(iter.Value(), ctx))
		}
		return cpy.Interface()

	case reflect.Slice:
		if original.IsNil() {
			return original.Interface()
		}
		if original.Len() > 0 {
			if cpy, exists := ctx[original.Pointer()]; exists {
				return cpy
			}
		}
		cpy := reflect.MakeSlice(original.Type(), original.Len(), original.Len())
		if original.Len() > 0 {
			ctx[original.Pointer()] = cpy.Interface()
		}
		for i := 0; i < original.Len(); i++ {
			cpy.Index(i).Set(copyValue(original.Index(i), ctx))
		}
		return cpy.Interface()

	case reflect.Array:
		cpy := reflect.New(original.Type()).Elem()
		for i := 0; i < original.Len(); i++ {
			cpy.Index(i).Set(copyValue(original.Index(i), ctx))
		}
		return cpy.Interface()

	case reflect.Ptr:
		if original.IsNil() {
			return original.Interface()
		}
		addr := original.Pointer()
		if cpy, exists := ctx[addr]; exists {
			return cpy
		}
		cpy := reflect.New(original.Type().Elem())
		ctx[addr] = cpy.Interface()
		cpy.Elem().Set(copyValue(original.Elem(), ctx))
		return cpy.Interface()

	default:
		return original.Interface()
	}
}

// copyValue deep-copies v and returns a value assignable to v's type.
func copyValue(v reflect.Value, ctx CycleDetectionContext) reflect.Value {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		v = v.Elem()
	}
	if !v.CanInterface() {
		return v
	}
	out := deepCopyRecursive(v.Interface(), ctx)
	if out == nil {
		return reflect.Zero(v.Type())
	}
	cpy := reflect.ValueOf(out)
	if cpy.Type() != v.Type() {
		return v
	}
	return cpy
}
