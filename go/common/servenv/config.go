// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package servenv

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key when it is read from
// the environment: log-level becomes QUERYVM_LOG_LEVEL.
const EnvPrefix = "QUERYVM"

const (
	configFileKey     = "config-file"
	configHandlingKey = "config-file-not-found-handling"
)

// exit is replaced in tests.
var exit = os.Exit

// Config layers flags, QUERYVM_* environment variables and an optional
// config file on top of one viper instance.
type Config struct {
	v *viper.Viper
}

// NewConfig returns a Config that reads QUERYVM_* environment variables.
func NewConfig() *Config {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault(configHandlingKey, WarnOnConfigFileNotFound.String())
	return &Config{v: v}
}

// Viper returns the underlying viper instance.
func (c *Config) Viper() *viper.Viper { return c.v }

// SetFs sets the filesystem the config file is read from.
func (c *Config) SetFs(fs afero.Fs) { c.v.SetFs(fs) }

// RegisterFlags installs the flags that control config file loading.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.String(configFileKey, "", "Full path of the config file (with extension) to use.")

	h := WarnOnConfigFileNotFound
	fs.Var(&h, configHandlingKey, fmt.Sprintf("Behavior when a config file is not found. (Options: %s)", strings.Join(handlingNames, ", ")))
}

// BindFlags binds every flag of fs to the viper key of the same name. Flags
// must be bound before LoadConfig or Unmarshal are called.
func (c *Config) BindFlags(fs *pflag.FlagSet) error {
	return c.v.BindPFlags(fs)
}

// LoadConfig reads the file named by --config-file, if any. A missing file
// is treated according to --config-file-not-found-handling; any other read
// error is returned.
func (c *Config) LoadConfig() error {
	file := c.v.GetString(configFileKey)
	if file == "" {
		return nil
	}

	c.v.SetConfigFile(file)
	err := c.v.ReadInConfig()
	if err == nil {
		return nil
	}
	if !isConfigFileNotFoundError(err) {
		return fmt.Errorf("failed to read config %s: %w", file, err)
	}

	switch h := c.handling(); h {
	case IgnoreConfigFileNotFound:
		return nil
	case WarnOnConfigFileNotFound:
		slog.Warn("config file not found, continuing with flags and environment", "file", file, "error", err)
		return nil
	case ExitOnConfigFileNotFound:
		slog.Error("config file not found", "file", file, "error", err)
		exit(1)
		return err
	default:
		slog.Error("config file not found", "file", file, "error", err)
		return err
	}
}

// ConfigFileUsed returns the path of the loaded config file.
func (c *Config) ConfigFileUsed() string { return c.v.ConfigFileUsed() }

// Unmarshal decodes every known key into out, which is a pointer to a struct
// with mapstructure tags.
func (c *Config) Unmarshal(out any) error {
	return c.v.Unmarshal(out, viper.DecodeHook(DecodeHook()))
}

// DecodeHook converts the string forms that flags and environment variables
// produce into durations, slices and ConfigFileNotFoundHandling values.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		decodeHandlingValue,
	)
}

func (c *Config) handling() (h ConfigFileNotFoundHandling) {
	if err := c.v.UnmarshalKey(configHandlingKey, &h, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(decodeHandlingValue))); err != nil {
		h = WarnOnConfigFileNotFound
		slog.Warn(fmt.Sprintf("failed to unmarshal %s: %s; defaulting to %s", configHandlingKey, err.Error(), h.String()))
	}
	return h
}

// isConfigFileNotFoundError checks if the error is caused because the file wasn't found.
func isConfigFileNotFoundError(err error) bool {
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		return true
	}
	return errors.Is(err, os.ErrNotExist)
}

// ConfigFileNotFoundHandling controls how LoadConfig treats a missing config
// file.
type ConfigFileNotFoundHandling int

const (
	// IgnoreConfigFileNotFound silently continues without the file.
	IgnoreConfigFileNotFound ConfigFileNotFoundHandling = iota
	// WarnOnConfigFileNotFound logs a warning and continues with defaults,
	// environment variables and flags.
	WarnOnConfigFileNotFound
	// ErrorOnConfigFileNotFound logs and returns the error.
	ErrorOnConfigFileNotFound
	// ExitOnConfigFileNotFound logs and exits the process.
	ExitOnConfigFileNotFound
)

var (
	handlingNames         []string
	handlingNamesToValues = map[string]int{
		"ignore": int(IgnoreConfigFileNotFound),
		"warn":   int(WarnOnConfigFileNotFound),
		"error":  int(ErrorOnConfigFileNotFound),
		"exit":   int(ExitOnConfigFileNotFound),
	}
	handlingValuesToNames map[int]string
)

func init() {
	handlingNames = make([]string, 0, len(handlingNamesToValues))
	handlingValuesToNames = make(map[int]string, len(handlingNamesToValues))

	for name, val := range handlingNamesToValues {
		handlingValuesToNames[val] = name
		handlingNames = append(handlingNames, name)
	}

	sort.Strings(handlingNames)
}

func decodeHandlingValue(from, to reflect.Type, data any) (any, error) {
	var h ConfigFileNotFoundHandling
	if to != reflect.TypeOf(h) {
		return data, nil
	}

	switch {
	case from == reflect.TypeOf(h):
		return data.(ConfigFileNotFoundHandling), nil
	case from.Kind() == reflect.Int:
		return ConfigFileNotFoundHandling(data.(int)), nil
	case from.Kind() == reflect.String:
		if err := h.Set(data.(string)); err != nil {
			return h, err
		}
		return h, nil
	}

	return data, fmt.Errorf("invalid value for ConfigFileNotFoundHandling: %v", data)
}

func (h *ConfigFileNotFoundHandling) Set(arg string) error {
	if v, ok := handlingNamesToValues[strings.ToLower(arg)]; ok {
		*h = ConfigFileNotFoundHandling(v)
		return nil
	}
	return fmt.Errorf("unknown handling name %s", arg)
}

func (h ConfigFileNotFoundHandling) String() string {
	if name, ok := handlingValuesToNames[int(h)]; ok {
		return name
	}
	return "<UNKNOWN>"
}

func (h *ConfigFileNotFoundHandling) Type() string { return "ConfigFileNotFoundHandling" }
