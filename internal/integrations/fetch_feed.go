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

	"github.com/tombee/relay/internal/rss"
	"github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/tools"
)

const defaultFeedLimit = 20

// fetchFeedHandler fetches and parses a feed on demand, independent of any
// rss trigger.
func fetchFeedHandler(client *rss.Client) tools.Handler {
	return func(ctx context.Context, params map[string]any, ec *tools.ExecContext) (map[string]any, error) {
		url, _ := params["url"].(string)
		if url == "" {
			return nil, &errors.ValidationError{Field: "url", Message: "fetch_feed requires a url"}
		}

		limit := defaultFeedLimit
		if n, ok := numberParam(params["limit"]); ok && n > 0 {
			limit = int(n)
		}

		feed, err := client.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}

		items := make([]any, 0, limit)
		for _, item := range feed.Items {
			if len(items) >= limit {
				break
			}
			items = append(items, item.Map())
		}

		return map[string]any{
			"title": feed.Title,
			"items": items,
		}, nil
	}
}
