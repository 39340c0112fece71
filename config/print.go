package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
)

const unset = "<unset>"

// Print logs every setting by its environment key. Secrets are redacted.
func Print(logger log.Logger, cfg Config) {
	logger.Infof("Configuration:")
	for _, line := range Lines(cfg) {
		logger.Printf("- %s", line)
	}
}

// Lines renders the settings as `KEY: value`, in declaration order.
func Lines(cfg Config) []string {
	var lines []string
	collect(reflect.ValueOf(cfg), &lines)
	return lines
}

func collect(v reflect.Value, lines *[]string) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)

		key := field.Tag.Get("envconfig")
		if key == "" {
			if value.Kind() == reflect.Struct {
				collect(value, lines)
			}
			continue
		}

		*lines = append(*lines, fmt.Sprintf("%s: %s", key, valueString(value)))
	}
}

func valueString(v reflect.Value) string {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return unset
		}
		v = v.Elem()
	}

	if v.IsZero() {
		return unset
	}

	switch value := v.Interface().(type) {
	case fmt.Stringer:
		return value.String()
	case []string:
		return strings.Join(value, ",")
	}
	return fmt.Sprintf("%v", v.Interface())
}
