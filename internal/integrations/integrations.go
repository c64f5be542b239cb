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

// Package integrations implements the builtin tool handlers bound to the
// registry at startup: http_request, transform, template, delay, and
// fetch_feed. Side-effecting integrations (mail, sms, spreadsheets) live
// outside the core and bind their own handlers; catalog entries without a
// handler are reported at link time.
package integrations

import (
	"github.com/tombee/relay/internal/rss"
	"github.com/tombee/relay/pkg/tools"
)

// Deps carries the shared clients handlers borrow.
type Deps struct {
	// Feeds is the feed client reused by fetch_feed. Nil disables the tool.
	Feeds *rss.Client

	// UserAgent identifies outbound http_request calls.
	UserAgent string
}

// Handlers returns the builtin handler set for Registry.Link.
func Handlers(deps Deps) map[string]tools.Handler {
	h := map[string]tools.Handler{
		"http_request": httpRequestHandler(deps.UserAgent),
		"transform":    transformHandler,
		"template":     templateHandler,
		"delay":        delayHandler,
	}
	if deps.Feeds != nil {
		h["fetch_feed"] = fetchFeedHandler(deps.Feeds)
	}
	return h
}
