package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"reflect"
)

var (
	errShortOption = errors.New("borsh: data too short")
	bigIntType     = reflect.TypeOf(big.Int{})
)

// clearAbsentOptions resets every pointer in v whose Option flag in data is 0.
// borsh-go decodes None as a pointer to the zero value, which callers cannot
// tell apart from Some(0).
func clearAbsentOptions(v reflect.Value, data []byte) error {
	if !hasPointer(v.Type()) {
		return nil
	}
	_, err := walkOptions(v.Type(), v, data)
	return err
}

func hasPointer(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr:
		return true
	case reflect.Array, reflect.Slice:
		return hasPointer(t.Elem())
	case reflect.Map:
		return hasPointer(t.Key()) || hasPointer(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointer(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}

func advance(data []byte, n int) ([]byte, error) {
	if len(data) < n {
		return nil, errShortOption
	}
	return data[n:], nil
}

func readLen(data []byte) (int, []byte, error) {
	if len(data) < 4 {
		return 0, nil, errShortOption
	}
	return int(binary.LittleEndian.Uint32(data)), data[4:], nil
}

// walkOptions consumes the encoding of t from data. v is the decoded value, or
// the zero Value when only the length is needed.
func walkOptions(t reflect.Type, v reflect.Value, data []byte) ([]byte, error) {
	switch t.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return advance(data, 1)
	case reflect.Int16, reflect.Uint16:
		return advance(data, 2)
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return advance(data, 4)
	case reflect.Int64, reflect.Uint64, reflect.Int, reflect.Uint, reflect.Float64:
		return advance(data, 8)
	case reflect.String:
		n, rest, err := readLen(data)
		if err != nil {
			return nil, err
		}
		return advance(rest, n)
	case reflect.Array:
		var err error
		for i := 0; i < t.Len(); i++ {
			var elem reflect.Value
			if v.IsValid() {
				elem = v.Index(i)
			}
			if data, err = walkOptions(t.Elem(), elem, data); err != nil {
				return nil, err
			}
		}
		return data, nil
	case reflect.Slice:
		n, rest, err := readLen(data)
		if err != nil {
			return nil, err
		}
		data = rest
		if v.IsValid() && v.Len() != n {
			return nil, fmt.Errorf("borsh: decoded %d elements, encoded %d", v.Len(), n)
		}
		for i := 0; i < n; i++ {
			var elem reflect.Value
			if v.IsValid() {
				elem = v.Index(i)
			}
			if data, err = walkOptions(t.Elem(), elem, data); err != nil {
				return nil, err
			}
		}
		return data, nil
	case reflect.Map:
		if v.IsValid() && (hasPointer(t.Key()) || hasPointer(t.Elem())) {
			return nil, fmt.Errorf("borsh: options inside %s are not supported", t)
		}
		n, rest, err := readLen(data)
		if err != nil {
			return nil, err
		}
		data = rest
		for i := 0; i < n; i++ {
			if data, err = walkOptions(t.Key(), reflect.Value{}, data); err != nil {
				return nil, err
			}
			if data, err = walkOptions(t.Elem(), reflect.Value{}, data); err != nil {
				return nil, err
			}
		}
		return data, nil
	case reflect.Ptr:
		if len(data) < 1 {
			return nil, errShortOption
		}
		flag, rest := data[0], data[1:]
		if flag == 0 {
			if v.IsValid() {
				v.Set(reflect.Zero(t))
			}
			return rest, nil
		}
		var elem reflect.Value
		if v.IsValid() && !v.IsNil() {
			elem = v.Elem()
		}
		return walkOptions(t.Elem(), elem, rest)
	case reflect.Struct:
		if t == bigIntType {
			return advance(data, 16)
		}
		var err error
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.Tag.Get("borsh_skip") == "true" {
				continue
			}
			var fv reflect.Value
			if v.IsValid() {
				fv = v.Field(i)
			}
			if data, err = walkOptions(field.Type, fv, data); err != nil {
				return nil, err
			}
		}
		return data, nil
	}
	return nil, fmt.Errorf("borsh: unsupported kind %s", t.Kind())
}
