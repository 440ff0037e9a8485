// Package layering holds the reflection helpers used to detach property bags
// from the shared document so that local edits never alias registry entries.
package layering

import "reflect"

// Clone returns a deep copy of value. Maps, slices, pointers and nested
// structs are copied recursively; unexported struct fields keep their zero
// value.
func Clone[T any](value T) T {
	var zero T
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return zero
	}
	cloned := cloneValue(rv)
	if !cloned.IsValid() {
		return zero
	}
	if out, ok := cloned.Interface().(T); ok {
		return out
	}
	result := reflect.New(reflect.TypeOf(zero)).Elem()
	result.Set(cloned.Convert(reflect.TypeOf(zero)))
	return result.Interface().(T)
}

func cloneValue(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.New(v.Type().Elem())
		clone.Elem().Set(cloneValue(v.Elem()))
		return clone
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		elem := cloneValue(v.Elem())
		if !elem.IsValid() {
			return reflect.Zero(v.Type())
		}
		return elem.Convert(v.Type())
	case reflect.Struct:
		clone := reflect.New(v.Type()).Elem()
		for i := 0; i < v.NumField(); i++ {
			field := clone.Field(i)
			if !field.CanSet() {
				continue
			}
			field.Set(cloneValue(v.Field(i)))
		}
		return clone
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			value := iter.Value()
			cloned := cloneValue(value)
			if !cloned.IsValid() {
				cloned = reflect.Zero(v.Type().Elem())
			}
			clone.SetMapIndex(iter.Key(), cloned)
		}
		return clone
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			clone.Index(i).Set(cloneValue(v.Index(i)))
		}
		return clone
	case reflect.Array:
		clone := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			clone.Index(i).Set(cloneValue(v.Index(i)))
		}
		return clone
	default:
		if !v.CanInterface() {
			return reflect.Zero(v.Type())
		}
		return reflect.ValueOf(v.Interface()).Convert(v.Type())
	}
}
