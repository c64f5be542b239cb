// Copyright 2025 Tom Barlow
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

package tools

import (
	_ "embed"
	"encoding/json"

	"github.com/tombee/relay/pkg/errors"
)

//go:embed definitions.json
var embeddedDefinitions []byte

// LoadEmbedded seeds the registry with the embedded tool catalog.
func (r *Registry) LoadEmbedded() error {
	var defs []Definition
	if err := json.Unmarshal(embeddedDefinitions, &defs); err != nil {
		return errors.Wrap(err, "parsing embedded tool definitions")
	}
	for _, def := range defs {
		if err := r.Define(def); err != nil {
			return errors.Wrapf(err, "defining embedded tool %s", def.Name)
		}
	}
	return nil
}

// Link binds handlers to their definitions by name. A definition left
// without a handler is logged as a warning and remains listed but not
// runnable. A handler without a definition is adopted with an unversioned,
// schema-less definition so it can still run.
func (r *Registry) Link(handlers map[string]Handler) error {
	for name, handler := range handlers {
		if r.Has(name) {
			if err := r.Bind(name, handler); err != nil {
				return err
			}
			continue
		}

		r.logger.Warn("adopting handler without catalog definition",
			"tool", name)
		if err := r.Define(Definition{
			Name:    name,
			Version: "unversioned",
		}); err != nil {
			return err
		}
		if err := r.Bind(name, handler); err != nil {
			return err
		}
	}

	for _, def := range r.List() {
		if tool := r.Lookup(def.Name); !tool.Runnable() {
			r.logger.Warn("tool defined but no handler bound",
				"tool", def.Name,
				"version", def.Version)
		}
	}
	return nil
}
