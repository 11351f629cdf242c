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
	"github.com/spf13/viper"
)

// Registry holds the viper instance backing a command's configuration.
// Each command creates its own Registry so that values registered by one
// binary or test never leak into another.
type Registry struct {
	static *viper.Viper
}

// NewRegistry creates a new isolated configuration registry.
//
// Example usage:
//
//	reg := viperutil.NewRegistry()
//	suiteFile := viperutil.Configure(reg, "suite", viperutil.Options[string]{
//	    FlagName: "suite",
//	})
func NewRegistry() *Registry {
	return &Registry{
		static: viper.New(),
	}
}

// AllSettings returns the merged view of every registered key, resolved
// through flags, environment, config file and defaults.
func (reg *Registry) AllSettings() map[string]any {
	return reg.static.AllSettings()
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func (reg *Registry) ConfigFileUsed() string {
	return reg.static.ConfigFileUsed()
}
