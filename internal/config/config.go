// Package config holds the SDK configuration loaded from YAML with defaults
// applied from struct tags.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var configLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	configLogger = l
}

// Config is the complete configuration for an embedded client.
type Config struct {
	App     AppConfig     `yaml:"app"`
	API     APIConfig     `yaml:"api"`
	Auth    AuthConfig    `yaml:"auth"`
	Editor  EditorConfig  `yaml:"editor"`
	Logging LoggingConfig `yaml:"logging"`
}

type AppConfig struct {
	ID string `yaml:"id" validate:"required"`
}

type APIConfig struct {
	BaseURL        string `yaml:"base_url" default:"https://api.inplace.dev" validate:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" default:"15"`
}

type AuthConfig struct {
	LoginURL            string `yaml:"login_url" default:"https://auth.inplace.dev/login"`
	PopupTimeoutSeconds int    `yaml:"popup_timeout_seconds" default:"120"`
	KeyTTLMinutes       int    `yaml:"key_ttl_minutes" default:"60"`
}

type EditorConfig struct {
	AttributePrefix  string `yaml:"attribute_prefix" default:"data-inplace"`
	InstanceIDLength int    `yaml:"instance_id_length" default:"8"`
	CompressDrafts   bool   `yaml:"compress_drafts" default:"true"`
}

type LoggingConfig struct {
	Level string `yaml:"level" default:"info"`
}

// New returns a Config with all defaults applied.
func New() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the config file at path, falling back to defaults when the file
// does not exist. A file that exists but fails to parse or validate is an error.
func Load(path string) (*Config, error) {
	cfg := New()

	data, err := os.ReadFile(path)
	if err != nil {
		configLogger.Info().Str("path", path).Msg("Config file not found, using defaults")
		applyEnv(cfg)
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overrides file values from the environment, so a .env file can
// point a checkout at another backend without editing the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv("INPLACE_APP_ID"); v != "" {
		cfg.App.ID = v
	}
	if v := os.Getenv("INPLACE_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("INPLACE_AUTH_LOGIN_URL"); v != "" {
		cfg.Auth.LoginURL = v
	}
	if v := os.Getenv("INPLACE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func ApplyDefaults(config interface{}) {
	applyDefaults(config)
}

func applyDefaults(config interface{}) {
	v := reflect.ValueOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.IsValid() || !field.CanSet() {
			continue
		}

		// Recursively apply defaults to nested structs
		if field.Kind() == reflect.Struct {
			applyDefaults(field.Addr().Interface())
			continue
		}

		defaultValue := fieldType.Tag.Get("default")
		if defaultValue == "" {
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(defaultValue)
		case reflect.Bool:
			if val, err := strconv.ParseBool(defaultValue); err == nil {
				field.SetBool(val)
			}
		case reflect.Int:
			if val, err := strconv.ParseInt(defaultValue, 10, 64); err == nil {
				field.SetInt(val)
			}
		case reflect.Float64:
			if val, err := strconv.ParseFloat(defaultValue, 64); err == nil {
				field.SetFloat(val)
			}
		case reflect.Slice:
			if field.Len() == 0 && field.Type().Elem().Kind() == reflect.String {
				parts := strings.Split(defaultValue, ",")
				slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
				for j, part := range parts {
					slice.Index(j).SetString(strings.TrimSpace(part))
				}
				field.Set(slice)
			}
		default:
			configLogger.Warn().
				Str("field_name", fieldType.Name).
				Str("field_type", field.Kind().String()).
				Msg("Unsupported field type for default value")
		}
	}
}
