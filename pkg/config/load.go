package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/alm-export/pkg/mapping"
	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. ALMEXPORT_ALM_PASSWORD.
const EnvPrefix = "ALMEXPORT"

// ErrUnsupportedFormat is returned for preference files that are neither YAML nor JSON.
var ErrUnsupportedFormat = errors.New("unsupported preferences format (use .yaml, .yml or .json)")

// envKeys lists every preference that can be overridden from the environment.
var envKeys = []string{
	"alm.webdomain", "alm.domain", "alm.project", "alm.username", "alm.password",
	"alm.https_strict", "alm.timeout",
	"export.workers", "export.page_size",
	"email.sender_domain", "email.sender", "email.to_list", "email.cc_list",
	"email.smtp_host", "email.smtp_port", "email.subject",
	"redis.addr", "redis.password", "redis.db",
	"cache.enabled", "cache.ttl",
	"progress.enabled", "progress.ttl",
	"publish.bucket_url", "publish.prefix",
	"logging.level", "logging.pretty",
}

// Load reads preferences from path, applies environment overrides and merges
// the result over Defaults. The returned preferences are not validated.
func Load(path string) (Preferences, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return Preferences{}, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Preferences{}, fmt.Errorf("read preferences: %w", err)
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Preferences{}, fmt.Errorf("parse preferences %s: %w", path, err)
	}

	fileValues, err := decode(v)
	if err != nil {
		return Preferences{}, fmt.Errorf("decode preferences %s: %w", path, err)
	}

	fileValues.Mapping, err = mappingSection(data)
	if err != nil {
		return Preferences{}, fmt.Errorf("%s: %w", path, err)
	}

	log.Debug().
		Str("path", path).
		Int("mapping_columns", fileValues.Mapping.Len()).
		Msg("Preferences loaded")

	return Merge(Defaults(), fileValues), nil
}

// FromEnv returns Defaults overlaid with environment overrides only.
func FromEnv() (Preferences, error) {
	fileValues, err := decode(newViper())
	if err != nil {
		return Preferences{}, fmt.Errorf("decode environment: %w", err)
	}
	return Merge(Defaults(), fileValues), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

func decode(v *viper.Viper) (Preferences, error) {
	var p Preferences
	err := v.Unmarshal(&p, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	return p, err
}

// mappingSection extracts the top-level "mapping" object in document order.
// A document without one yields a zero mapping.
func mappingSection(data []byte) (mapping.FieldMapping, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return mapping.FieldMapping{}, fmt.Errorf("decode mapping: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return mapping.FieldMapping{}, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return mapping.FieldMapping{}, fmt.Errorf("preferences must be an object")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "mapping" {
			m, err := mapping.FromNode(root.Content[i+1])
			if err != nil {
				return mapping.FieldMapping{}, fmt.Errorf("mapping: %w", err)
			}
			return m, nil
		}
	}
	return mapping.FieldMapping{}, nil
}
