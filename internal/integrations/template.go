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

package integrations

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/tools"
)

// templateHandler renders a Go text template. The data parameter, or the
// step context snapshot when omitted, is the template's dot.
func templateHandler(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
	source, _ := params["template"].(string)
	if source == "" {
		return nil, &errors.ValidationError{Field: "template", Message: "template requires template source"}
	}

	tmpl, err := template.New("step").Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:   "template",
			Message: fmt.Sprintf("invalid template: %v", err),
		}
	}

	data, ok := params["data"]
	if !ok {
		data = ec.Variables
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return nil, &errors.IntegrationError{
			Tool:    "template",
			Message: fmt.Sprintf("rendering failed: %v", err),
			Cause:   err,
		}
	}

	return map[string]any{"rendered": b.String()}, nil
}
