// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package viperutil

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Options configures a registered value.
type Options[T any] struct {
	// Aliases are alternate keys resolving to the same value.
	Aliases []string
	// FlagName is the name of the pflag bound by BindFlags. Empty means the
	// value is not settable from the command line.
	FlagName string
	// EnvVars are environment variables consulted before the config file.
	EnvVars []string
	// Default is returned when nothing else sets the value.
	Default T
	// GetFunc overrides how the value is read back out of viper. Needed for
	// types viper has no typed getter for.
	GetFunc func(v *viper.Viper) func(key string) T
}

// Registerable is the type-erased part of a Value, used by BindFlags.
type Registerable interface {
	Key() string
	bindFlag(fs *pflag.FlagSet) error
}

// Value is a typed handle onto a key in a Registry.
type Value[T any] interface {
	Registerable
	Default() T
	Get() T
	Set(v T)
}

type staticValue[T any] struct {
	key      string
	flagName string
	def      T
	v        *viper.Viper
	get      func(key string) T
}

// Configure registers key in reg and returns a handle to it. The precedence
// is: Set, flag, environment, config file, default.
func Configure[T any](reg *Registry, key string, opts Options[T]) Value[T] {
	v := reg.static
	v.SetDefault(key, opts.Default)

	for _, alias := range opts.Aliases {
		v.RegisterAlias(alias, key)
	}

	if len(opts.EnvVars) > 0 {
		vars := append([]string{key}, opts.EnvVars...)
		if err := v.BindEnv(vars...); err != nil {
			panic(fmt.Sprintf("viperutil: failed to bind env vars for %s: %v", key, err))
		}
	}

	get := getFuncFor[T](v)
	if opts.GetFunc != nil {
		get = opts.GetFunc(v)
	}

	return &staticValue[T]{
		key:      key,
		flagName: opts.FlagName,
		def:      opts.Default,
		v:        v,
		get:      get,
	}
}

func (val *staticValue[T]) Key() string { return val.key }
func (val *staticValue[T]) Default() T  { return val.def }
func (val *staticValue[T]) Get() T      { return val.get(val.key) }
func (val *staticValue[T]) Set(value T) { val.v.Set(val.key, value) }

func (val *staticValue[T]) bindFlag(fs *pflag.FlagSet) error {
	if val.flagName == "" {
		return nil
	}
	f := fs.Lookup(val.flagName)
	if f == nil {
		return fmt.Errorf("flag %s not defined for key %s", val.flagName, val.key)
	}
	return val.v.BindPFlag(val.key, f)
}

// BindFlags binds each value to its flag in fs. The flags must already be
// defined; a missing flag is a programming error and panics.
func BindFlags(fs *pflag.FlagSet, values ...Registerable) {
	for _, val := range values {
		if err := val.bindFlag(fs); err != nil {
			panic("viperutil: " + err.Error())
		}
	}
}

func getFuncFor[T any](v *viper.Viper) func(key string) T {
	var zero T
	var f any
	switch any(zero).(type) {
	case string:
		f = v.GetString
	case bool:
		f = v.GetBool
	case int:
		f = v.GetInt
	case int64:
		f = v.GetInt64
	case float64:
		f = v.GetFloat64
	case time.Duration:
		f = v.GetDuration
	case []string:
		f = v.GetStringSlice
	}
	if fn, ok := f.(func(string) T); ok {
		return fn
	}
	return func(key string) T {
		if t, ok := v.Get(key).(T); ok {
			return t
		}
		var t T
		return t
	}
}
