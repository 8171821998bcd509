package encoding

import (
	"encoding"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
)

const maxDepth = 64

// ErrorInfo is the only part of an error that goes on the wire.
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type coder interface {
	Code() string
}

// EncodeEvent serializes a trace event to its wire form. Byte slices become lowercase hex strings,
// errors become {code, message}. Cyclic or unsupported payloads return an error.
func EncodeEvent(event model.TraceEvent) ([]byte, error) {
	var err error
	if event.Props, err = sanitizeProps(event.Props); err != nil {
		return nil, fmt.Errorf("error sanitizing event props: %w", err)
	}
	if event.Object.Props, err = sanitizeProps(event.Object.Props); err != nil {
		return nil, fmt.Errorf("error sanitizing object props: %w", err)
	}
	if event.Caller.Props, err = sanitizeProps(event.Caller.Props); err != nil {
		return nil, fmt.Errorf("error sanitizing caller props: %w", err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("error marshaling trace event: %w", err)
	}
	return data, nil
}

func DecodeEvent(data []byte) (model.TraceEvent, error) {
	var event model.TraceEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return model.TraceEvent{}, fmt.Errorf("error unmarshaling trace event: %w", err)
	}
	return event, nil
}

func EncodeHandshake(handshake model.Handshake) ([]byte, error) {
	data, err := json.Marshal(handshake)
	if err != nil {
		return nil, fmt.Errorf("error marshaling handshake: %w", err)
	}
	return data, nil
}

func DecodeHandshake(data []byte) (model.Handshake, error) {
	var handshake model.Handshake
	if err := json.Unmarshal(data, &handshake); err != nil {
		return model.Handshake{}, fmt.Errorf("error unmarshaling handshake: %w", err)
	}
	return handshake, nil
}

// Sanitize returns a copy of value that is safe to marshal with the wire conventions applied.
// Maps, slices, arrays, pointers and structs are walked; structs become objects keyed by their
// json field names.
func Sanitize(value interface{}) (interface{}, error) {
	return sanitizeValue(reflect.ValueOf(value), make(map[visit]bool), 0)
}

type visit struct {
	ptr uintptr
	typ reflect.Type
}

var (
	errorType       = reflect.TypeOf((*error)(nil)).Elem()
	marshalerType   = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

func sanitizeProps(props model.Props) (model.Props, error) {
	if props == nil {
		return nil, nil
	}
	sanitized, err := Sanitize(map[string]interface{}(props))
	if err != nil {
		return nil, err
	}
	return model.Props(sanitized.(map[string]interface{})), nil
}

// special handles the values that keep or replace their own wire form. Values read through
// unexported embedded structs cannot have their methods called and are walked like any other.
func special(v reflect.Value) (interface{}, bool) {
	if !v.CanInterface() {
		return nil, false
	}
	switch typed := v.Interface().(type) {
	case *ErrorInfo, ErrorInfo:
		return typed, true
	case error:
		return ErrorInfoOf(typed), true
	case json.Marshaler:
		return typed, true
	}
	return nil, false
}

func sanitizeValue(v reflect.Value, visiting map[visit]bool, depth int) (interface{}, error) {
	if depth > maxDepth {
		return nil, ErrTooDeep
	}
	switch v.Kind() {
	case reflect.Invalid:
		return nil, nil
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return nil, nil
		}
	case reflect.Map:
		if v.IsNil() {
			return map[string]interface{}(nil), nil
		}
	}
	if sanitized, ok := special(v); ok {
		return sanitized, nil
	}
	switch v.Kind() {
	case reflect.Interface:
		return sanitizeValue(v.Elem(), visiting, depth+1)
	case reflect.Ptr:
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if visiting[key] {
			return nil, ErrCyclicValue
		}
		visiting[key] = true
		defer delete(visiting, key)
		return sanitizeValue(v.Elem(), visiting, depth+1)
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return hex.EncodeToString(v.Bytes()), nil
		}
		if v.IsNil() {
			return nil, nil
		}
		if v.Len() > 0 {
			key := visit{ptr: v.Pointer(), typ: v.Type()}
			if visiting[key] {
				return nil, ErrCyclicValue
			}
			visiting[key] = true
			defer delete(visiting, key)
		}
		return sanitizeList(v, visiting, depth)
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			raw := make([]byte, v.Len())
			for i := range raw {
				raw[i] = byte(v.Index(i).Uint())
			}
			return hex.EncodeToString(raw), nil
		}
		return sanitizeList(v, visiting, depth)
	case reflect.Map:
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if visiting[key] {
			return nil, ErrCyclicValue
		}
		visiting[key] = true
		defer delete(visiting, key)
		return sanitizeMap(v, visiting, depth)
	case reflect.Struct:
		out := make(map[string]interface{}, v.NumField())
		if err := sanitizeStruct(v, out, visiting, depth); err != nil {
			return nil, err
		}
		return out, nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return v.String(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, v.Type())
	}
}

func sanitizeList(v reflect.Value, visiting map[visit]bool, depth int) (interface{}, error) {
	out := make([]interface{}, v.Len())
	for i := range out {
		sanitized, err := sanitizeValue(v.Index(i), visiting, depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = sanitized
	}
	return out, nil
}

func sanitizeMap(v reflect.Value, visiting map[visit]bool, depth int) (interface{}, error) {
	out := make(map[string]interface{}, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, err
		}
		sanitized, err := sanitizeValue(iter.Value(), visiting, depth+1)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		out[key] = sanitized
	}
	return out, nil
}

func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if k.CanInterface() && k.Type().Implements(textMarshalType) {
		text, err := k.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", fmt.Errorf("error marshaling map key: %w", err)
		}
		return string(text), nil
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", fmt.Errorf("%w: map key %s", ErrUnsupportedValue, k.Type())
}

// sanitizeStruct writes the exported fields of v into out under the names encoding/json would
// use. Fields of untagged embedded structs are promoted unless an outer field has the same name.
func sanitizeStruct(v reflect.Value, out map[string]interface{}, visiting map[visit]bool, depth int) error {
	t := v.Type()
	var embedded []reflect.Value
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := v.Field(i)
		if field.Anonymous && name == "" {
			ft := field.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && !implementsSpecial(field.Type) {
				if fv.Kind() == reflect.Ptr {
					if fv.IsNil() {
						continue
					}
					fv = fv.Elem()
				}
				embedded = append(embedded, fv)
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		if name == "" {
			name = field.Name
		}
		if hasOption(opts, "omitempty") && isEmptyValue(fv) {
			continue
		}
		sanitized, err := sanitizeValue(fv, visiting, depth+1)
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = sanitized
	}
	for _, ev := range embedded {
		promoted := make(map[string]interface{}, ev.NumField())
		if err := sanitizeStruct(ev, promoted, visiting, depth+1); err != nil {
			return err
		}
		for name, value := range promoted {
			if _, ok := out[name]; !ok {
				out[name] = value
			}
		}
	}
	return nil
}

func implementsSpecial(t reflect.Type) bool {
	return t.Implements(errorType) || t.Implements(marshalerType)
}

func hasOption(opts string, option string) bool {
	for opts != "" {
		var current string
		current, opts, _ = strings.Cut(opts, ",")
		if current == option {
			return true
		}
	}
	return false
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}

// ErrorInfoOf reduces err to its message and, when some error in its chain has one, its code.
func ErrorInfoOf(err error) ErrorInfo {
	info := ErrorInfo{Message: err.Error()}
	var c coder
	if errors.As(err, &c) {
		info.Code = c.Code()
	}
	return info
}

var (
	ErrCyclicValue      = errors.New("value contains a cycle")
	ErrTooDeep          = errors.New("value is nested too deeply")
	ErrUnsupportedValue = errors.New("value cannot be represented on the wire")
)
