package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// applyFile overlays a TOML or YAML file onto cfg. The file uses the
// same keys as the environment (PORT, UIBLOCKS_TICK, ...). A key also
// present in the environment is ignored.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	values := make(map[string]interface{})
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &values)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &values)
	default:
		return fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return overlay(reflect.ValueOf(cfg).Elem(), values)
}

func overlay(v reflect.Value, values map[string]interface{}) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			if err := overlay(field, values); err != nil {
				return err
			}
			continue
		}

		key := t.Field(i).Tag.Get("envconfig")
		raw, ok := values[key]
		if key == "" || !ok {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("config file key %s: %w", key, err)
		}
	}
	return nil
}

func setField(field reflect.Value, raw interface{}) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(fmt.Sprint(raw))
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(fmt.Sprint(raw))
	case reflect.Bool:
		b, err := strconv.ParseBool(fmt.Sprint(raw))
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(fmt.Sprint(raw))
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case reflect.Slice:
		var items []string
		switch raw := raw.(type) {
		case []interface{}:
			for _, item := range raw {
				items = append(items, fmt.Sprint(item))
			}
		default:
			items = strings.Split(fmt.Sprint(raw), ",")
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
