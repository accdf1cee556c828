// Package config loads [github.com/flowlib/flow/flow.Config] fields from
// environment variables.
//
// Go field names convert from CamelCase to UPPER_SNAKE_CASE and are
// prefixed with FLOW_:
//
//	BufferCapacity → FLOW_BUFFER_CAPACITY
//
// Supported field types: string, bool, int*, uint*, float*,
// time.Duration, and any type whose underlying kind is one of these.
// Struct fields are loaded recursively, with the field name appended
// to the prefix (Pool.Workers → FLOW_POOL_WORKERS); embedded structs
// share their parent's prefix. Fields of other types (interfaces,
// funcs, pointers, slices, maps) are silently skipped. For flow.Config
// this skips Logger, while Policy (an integer type) is read from
// FLOW_POLICY.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Loader reads environment variables into configuration structs.
type Loader struct {
	// Prefix for environment variable names. Default: "FLOW".
	Prefix string

	lookup func(string) (string, bool)
}

func (l Loader) prefix() string {
	if l.Prefix == "" {
		return "FLOW"
	}
	return l.Prefix
}

func (l Loader) lookupEnv(key string) (string, bool) {
	if l.lookup != nil {
		return l.lookup(key)
	}
	return os.LookupEnv(key)
}

// Load populates the struct pointed to by dst with values found in the
// environment. Fields with no corresponding environment variable set
// retain their current value, so Load is safe to use as an overlay on
// top of programmatic defaults.
func (l Loader) Load(dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: dst must be a pointer to a struct, got %T", dst)
	}
	return l.loadStruct(l.prefix(), v.Elem())
}

// Keys returns the environment variable names [Loader.Load] would
// check for the given config struct. dst may be a struct value or a
// pointer to a struct.
func (l Loader) Keys(dst any) []string {
	v := reflect.ValueOf(dst)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	return collectKeys(l.prefix(), v.Type())
}

// Load populates dst using the default Loader with prefix "FLOW".
func Load(dst any) error {
	return Loader{}.Load(dst)
}

// Keys returns env var names using the default Loader with prefix "FLOW".
func Keys(dst any) []string {
	return Loader{}.Keys(dst)
}

func (l Loader) loadStruct(prefix string, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)

		if !field.IsExported() {
			if field.Anonymous && field.Type.Kind() == reflect.Struct {
				if err := l.loadStruct(prefix, fv); err != nil {
					return err
				}
			}
			continue
		}

		var key string
		if field.Anonymous {
			key = prefix
		} else {
			key = prefix + "_" + toUpperSnake(field.Name)
		}

		if field.Type == durationType {
			raw, ok := l.lookupEnv(key)
			if !ok {
				continue
			}
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			fv.SetInt(int64(d))
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := l.loadStruct(key, fv); err != nil {
				return err
			}
			continue
		}

		if !isSupportedKind(field.Type.Kind()) {
			continue
		}

		raw, ok := l.lookupEnv(key)
		if !ok {
			continue
		}
		if err := setField(fv, raw, key); err != nil {
			return err
		}
	}
	return nil
}

func collectKeys(prefix string, t reflect.Type) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			if field.Anonymous && field.Type.Kind() == reflect.Struct {
				keys = append(keys, collectKeys(prefix, field.Type)...)
			}
			continue
		}

		var key string
		if field.Anonymous {
			key = prefix
		} else {
			key = prefix + "_" + toUpperSnake(field.Name)
		}

		if field.Type == durationType {
			keys = append(keys, key)
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			keys = append(keys, collectKeys(key, field.Type)...)
			continue
		}
		if isSupportedKind(field.Type.Kind()) {
			keys = append(keys, key)
		}
	}
	return keys
}

func isSupportedKind(k reflect.Kind) bool {
	switch k {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func setField(v reflect.Value, raw, key string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		v.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		v.SetBool(b)
	}
	return nil
}

// toUpperSnake converts a Go CamelCase field name to UPPER_SNAKE_CASE.
//
//	BufferCapacity → BUFFER_CAPACITY
//	URLPath        → URL_PATH
func toUpperSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			if unicode.IsLower(prev) || unicode.IsDigit(prev) {
				b.WriteRune('_')
			} else if unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
				b.WriteRune('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
