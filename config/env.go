package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// envOverlay 把 PREFIX_SECTION_FIELD 形式的环境变量写入配置
type envOverlay struct {
	prefix string
	lookup func(string) (string, bool)
}

func (o envOverlay) apply(cfg *Config) error {
	return o.walk(reflect.ValueOf(cfg).Elem(), o.prefix)
}

func (o envOverlay) walk(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		if field.Kind() == reflect.Struct {
			if err := o.walk(field, key); err != nil {
				return err
			}
			continue
		}

		raw, ok := o.lookup(key)
		if !ok || raw == "" {
			continue
		}
		if err := setFromString(field, raw); err != nil {
			return fmt.Errorf("%s=%q: %w", key, raw, err)
		}
	}
	return nil
}

// EnvKeys 列出 prefix 下所有可用的环境变量名
func EnvKeys(prefix string) []string {
	var keys []string
	var collect func(t reflect.Type, p string)
	collect = func(t reflect.Type, p string) {
		for i := range t.NumField() {
			f := t.Field(i)
			tag := f.Tag.Get("env")
			if tag == "" || tag == "-" {
				continue
			}
			if f.Type.Kind() == reflect.Struct {
				collect(f.Type, p+"_"+tag)
				continue
			}
			keys = append(keys, p+"_"+tag)
		}
	}
	collect(reflect.TypeOf(Config{}), prefix)
	return keys
}

func setFromString(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		// 逗号分隔，忽略空项
		var items []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}
