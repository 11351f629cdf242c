// Copyright 2023 The Vitess Authors.
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
//
// Modifications Copyright 2025 Supabase, Inc.

package viperutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ViperConfig holds the values that control how a config file is located
// and loaded.
type ViperConfig struct {
	configPaths                Value[[]string]
	configType                 Value[string]
	configName                 Value[string]
	configFile                 Value[string]
	configFileNotFoundHandling Value[ConfigFileNotFoundHandling]
}

func NewViperConfig(reg *Registry) *ViperConfig {
	baseDir, err := os.Getwd()
	if err != nil {
		slog.Warn("failed to get working directory", "err", err)
		baseDir = "."
	}

	return &ViperConfig{
		configPaths: Configure(reg, "config.paths", Options[[]string]{
			Default:  []string{baseDir},
			EnvVars:  []string{"INITSYNC_CONFIG_PATH"},
			FlagName: "config-path",
		}),
		configType: Configure(reg, "config.type", Options[string]{
			EnvVars:  []string{"INITSYNC_CONFIG_TYPE"},
			FlagName: "config-type",
		}),
		configName: Configure(reg, "config.name", Options[string]{
			Default:  "initsync",
			EnvVars:  []string{"INITSYNC_CONFIG_NAME"},
			FlagName: "config-name",
		}),
		configFile: Configure(reg, "config.file", Options[string]{
			EnvVars:  []string{"INITSYNC_CONFIG_FILE"},
			FlagName: "config-file",
		}),
		configFileNotFoundHandling: Configure(reg, "config.notfound.handling", Options[ConfigFileNotFoundHandling]{
			Default:  WarnOnConfigFileNotFound,
			GetFunc:  getHandlingValue,
			FlagName: "config-file-not-found-handling",
		}),
	}
}

// RegisterFlags installs the flags that control config-loading behavior.
func (vc *ViperConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringSlice("config-path", vc.configPaths.Default(), "Paths to search for config files in.")
	fs.String("config-type", vc.configType.Default(), "Config file type (omit to infer config type from file extension).")
	fs.String("config-name", vc.configName.Default(), "Name of the config file (without extension) to search for.")
	fs.String("config-file", vc.configFile.Default(), "Full path of the config file (with extension) to use. If set, --config-path, --config-type, and --config-name are ignored.")

	h := vc.configFileNotFoundHandling.Default()
	fs.Var(&h, "config-file-not-found-handling", fmt.Sprintf("Behavior when a config file is not found. (Options: %s)", strings.Join(handlingNames, ", ")))

	BindFlags(fs, vc.configPaths, vc.configType, vc.configName, vc.configFile, vc.configFileNotFoundHandling)
}

// LoadConfig finds and reads a config file into reg.
//
// --config-file, if set, is used to the exclusion of the other flags.
// Otherwise --config-name is searched for in each --config-path, with
// --config-type required only when the file has no extension viper knows.
// A missing file is handled according to --config-file-not-found-handling.
func (vc *ViperConfig) LoadConfig(reg *Registry) error {
	var err error
	switch file := vc.configFile.Get(); file {
	case "":
		if name := vc.configName.Get(); name != "" {
			reg.static.SetConfigName(name)

			for _, path := range vc.configPaths.Get() {
				reg.static.AddConfigPath(path)
			}

			if cfgType := vc.configType.Get(); cfgType != "" {
				reg.static.SetConfigType(cfgType)
			}

			err = reg.static.ReadInConfig()
		}
	default:
		reg.static.SetConfigFile(file)
		err = reg.static.ReadInConfig()
	}

	if err == nil || !isConfigFileNotFoundError(err) {
		return err
	}

	switch vc.configFileNotFoundHandling.Get() {
	case IgnoreConfigFileNotFound:
		return nil
	case WarnOnConfigFileNotFound:
		slog.Warn("config file not found, using flags, environment and defaults", "err", err)
		return nil
	case ErrorOnConfigFileNotFound:
		slog.Error("failed to read in config", "file", reg.static.ConfigFileUsed(), "err", err)
		return err
	case ExitOnConfigFileNotFound:
		slog.Error("failed to read in config", "file", reg.static.ConfigFileUsed(), "err", err)
		os.Exit(1) //nolint:forbidigo // exit is the configured behavior
	}
	return err
}

// isConfigFileNotFoundError checks if the error is caused because the file wasn't found.
func isConfigFileNotFoundError(err error) bool {
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		return true
	}
	return errors.Is(err, os.ErrNotExist)
}

// ConfigFileNotFoundHandling is an enum to control how LoadConfig treats a
// missing config file.
type ConfigFileNotFoundHandling int

const (
	// IgnoreConfigFileNotFound ignores a missing file without logging.
	IgnoreConfigFileNotFound ConfigFileNotFoundHandling = iota
	// WarnOnConfigFileNotFound logs a warning and proceeds with flags,
	// environment and defaults only.
	WarnOnConfigFileNotFound
	// ErrorOnConfigFileNotFound returns the not-found error.
	ErrorOnConfigFileNotFound
	// ExitOnConfigFileNotFound exits the process.
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

func getHandlingValue(v *viper.Viper) func(key string) ConfigFileNotFoundHandling {
	return func(key string) (h ConfigFileNotFoundHandling) {
		cfg := &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(decodeHandlingValue),
			Result:     &h,
		}
		dec, err := mapstructure.NewDecoder(cfg)
		if err == nil {
			err = dec.Decode(v.Get(key))
		}
		if err != nil {
			h = IgnoreConfigFileNotFound
			slog.Warn(fmt.Sprintf("failed to decode %s: %s; defaulting to %s", key, err.Error(), h.String()))
		}
		return h
	}
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

	return data, fmt.Errorf("invalid value for ConfigHandlingType: %v", data)
}

func init() {
	handlingNames = make([]string, 0, len(handlingNamesToValues))
	handlingValuesToNames = make(map[int]string, len(handlingNamesToValues))

	for name, val := range handlingNamesToValues {
		handlingValuesToNames[val] = name
		handlingNames = append(handlingNames, name)
	}

	sort.Strings(handlingNames)
}

func (h *ConfigFileNotFoundHandling) Set(arg string) error {
	larg := strings.ToLower(arg)
	if v, ok := handlingNamesToValues[larg]; ok {
		*h = ConfigFileNotFoundHandling(v)
		return nil
	}

	return fmt.Errorf("unknown handling name %s", arg)
}

func (h *ConfigFileNotFoundHandling) String() string {
	if name, ok := handlingValuesToNames[int(*h)]; ok {
		return name
	}

	return "<UNKNOWN>"
}

func (h *ConfigFileNotFoundHandling) Type() string { return "ConfigFileNotFoundHandling" }
