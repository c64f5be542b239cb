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

// Package rss polls feeds on behalf of rss-triggered automations. Each poll
// fetches the feed, diffs it against a durable seen-set, and dispatches an
// execution when new items appear.
package rss

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/httpclient"
)

// DefaultUserAgent identifies relay to feed servers.
const DefaultUserAgent = "relay-rss/1.0 (+https://github.com/tombee/relay)"

// fetchTimeout bounds one feed fetch end-to-end.
const fetchTimeout = 15 * time.Second

// Item is one feed entry in the shape handed to executions.
type Item struct {
	Title     string
	Link      string
	GUID      string
	Published *time.Time
}

// Feed is a parsed feed.
type Feed struct {
	Title string
	URL   string
	Items []Item
}

// Client fetches and parses feeds.
type Client struct {
	http   *http.Client
	parser *gofeed.Parser
}

// NewClient creates a feed client. userAgent may be empty to use the
// default.
func NewClient(userAgent string) (*Client, error) {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = fetchTimeout
	cfg.UserAgent = userAgent
	// A failed poll is retried on the next tick; no transport retries.
	cfg.RetryAttempts = 0

	hc, err := httpclient.New(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating feed http client")
	}

	return &Client{http: hc, parser: gofeed.NewParser()}, nil
}

// Fetch retrieves and parses the feed at url.
func (c *Client) Fetch(ctx context.Context, url string) (*Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "building feed request for %s", url)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &errors.IntegrationError{
			Tool:      "rss",
			Message:   fmt.Sprintf("fetching feed %s: %v", url, err),
			Transient: true,
			Cause:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &errors.IntegrationError{
			Tool:       "rss",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("feed %s returned HTTP %d", url, resp.StatusCode),
			Transient:  resp.StatusCode == 429 || resp.StatusCode >= 500,
		}
	}

	parsed, err := c.parser.Parse(resp.Body)
	if err != nil {
		return nil, &errors.IntegrationError{
			Tool:    "rss",
			Message: fmt.Sprintf("parsing feed %s: %v", url, err),
			Cause:   err,
		}
	}

	feed := &Feed{Title: parsed.Title, URL: url}
	for _, entry := range parsed.Items {
		item := Item{
			Title: entry.Title,
			Link:  entry.Link,
			GUID:  entry.GUID,
		}
		if entry.PublishedParsed != nil {
			t := *entry.PublishedParsed
			item.Published = &t
		} else if entry.UpdatedParsed != nil {
			t := *entry.UpdatedParsed
			item.Published = &t
		}
		feed.Items = append(feed.Items, item)
	}
	return feed, nil
}

// ID returns the item's identity for seen-set tracking: guid, falling back
// to link, falling back to title.
func (i Item) ID() string {
	switch {
	case i.GUID != "":
		return i.GUID
	case i.Link != "":
		return i.Link
	default:
		return i.Title
	}
}

// Map renders the item for the execution context.
func (i Item) Map() map[string]any {
	m := map[string]any{
		"id":    i.ID(),
		"title": i.Title,
		"link":  i.Link,
	}
	if i.Published != nil {
		m["published"] = i.Published.Format(time.RFC3339)
	}
	return m
}
