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

package rpc

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tombee/relay/pkg/errors"
)

const (
	catalogURI    = "relay://tools/catalog"
	categoriesURI = "relay://tools/categories"
	promptURI     = "relay://tools/prompt"
)

// registerResources adds read-only registry views: the full exposable
// catalog as JSON, the category index, and the rendered prompt text.
func (s *Server) registerResources() {
	s.mcp.AddResource(mcp.Resource{
		URI:         catalogURI,
		Name:        "Tool catalog",
		Description: "Exposable tool definitions with input schemas",
		MIMEType:    "application/json",
	}, server.ResourceHandlerFunc(s.readCatalog))

	s.mcp.AddResource(mcp.Resource{
		URI:         categoriesURI,
		Name:        "Tool categories",
		Description: "Exposable tool names grouped by category",
		MIMEType:    "application/json",
	}, server.ResourceHandlerFunc(s.readCategories))

	s.mcp.AddResource(mcp.Resource{
		URI:         promptURI,
		Name:        "Tool prompt",
		Description: "Human-readable catalog listing for planners",
		MIMEType:    "text/plain",
	}, server.ResourceHandlerFunc(s.readPrompt))
}

func (s *Server) readCatalog(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload, err := json.MarshalIndent(s.registry.ListExposable(), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding tool catalog")
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      catalogURI,
			MIMEType: "application/json",
			Text:     string(payload),
		},
	}, nil
}

func (s *Server) readCategories(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	byCategory := map[string][]string{}
	for _, def := range s.registry.ListExposable() {
		cat := def.Category
		if cat == "" {
			cat = "general"
		}
		byCategory[cat] = append(byCategory[cat], def.Name)
	}
	for _, names := range byCategory {
		sort.Strings(names)
	}

	payload, err := json.MarshalIndent(byCategory, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding tool categories")
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      categoriesURI,
			MIMEType: "application/json",
			Text:     string(payload),
		},
	}, nil
}

func (s *Server) readPrompt(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      promptURI,
			MIMEType: "text/plain",
			Text:     s.registry.RenderPrompt(),
		},
	}, nil
}
