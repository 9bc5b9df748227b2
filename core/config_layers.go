package core

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

// CfgxConfigProvider decodes raw key/value config onto the defaults with
// go-config and validates the result.
type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil || p.Loader == nil {
		return buildConfig(map[string]any{}, defaults)
	}
	raw, err := p.Loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	return buildConfig(maps.Clone(raw), defaults)
}

// GoOptionsResolver layers defaults < loaded config < runtime config. Only
// non-zero values in the loaded and runtime layers override lower layers.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(opts.NewScope("defaults", 0), configLayer(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults")),
		opts.NewLayer(opts.NewScope("config", 10), configLayer(loaded, false),
			opts.WithSnapshotID[map[string]any]("config")),
		opts.NewLayer(opts.NewScope("runtime", 20), configLayer(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime")),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: build options stack: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: merge options stack: %w", err)
	}
	return buildConfig(merged.Value, defaults)
}

func buildConfig(raw map[string]any, defaults Config) (Config, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	return cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

// configLayer turns cfg into the nested map shape keyed by mapstructure tags.
// Zero fields, including blank strings, are left out unless withZero is set.
func configLayer(cfg Config, withZero bool) map[string]any {
	return structLayer(reflect.ValueOf(cfg), withZero)
}

func structLayer(value reflect.Value, withZero bool) map[string]any {
	out := map[string]any{}
	for i := range value.NumField() {
		field := value.Type().Field(i)
		key, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if key == "" || !field.IsExported() {
			continue
		}
		fieldValue := value.Field(i)
		if fieldValue.Kind() == reflect.Struct {
			if nested := structLayer(fieldValue, withZero); len(nested) > 0 {
				out[key] = nested
			}
			continue
		}
		if !withZero && isBlank(fieldValue) {
			continue
		}
		out[key] = fieldValue.Interface()
	}
	return out
}

func isBlank(value reflect.Value) bool {
	if value.Kind() == reflect.String {
		return strings.TrimSpace(value.String()) == ""
	}
	return value.IsZero()
}
