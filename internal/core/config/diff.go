package config

import (
	"reflect"
	"strings"
)

// Diff lists the top-level sections, by TOML name, whose values differ
// between old and next. The version field is not a section and is ignored.
func Diff(old, next *Config) []string {
	if old == nil || next == nil {
		return nil
	}
	ov := reflect.ValueOf(old).Elem()
	nv := reflect.ValueOf(next).Elem()
	t := ov.Type()

	var changed []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() != reflect.Struct {
			continue
		}
		if reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			continue
		}
		name, _, _ := strings.Cut(field.Tag.Get("toml"), ",")
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		changed = append(changed, name)
	}
	return changed
}
