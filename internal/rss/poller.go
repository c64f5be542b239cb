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

package rss

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/relay/internal/metrics"
	"github.com/tombee/relay/internal/store"
	"github.com/tombee/relay/pkg/errors"
)

// DefaultSeenCap bounds the rolling seen-set per automation. Feeds that
// burst more than this many items between polls can drop some; bounded
// state wins.
const DefaultSeenCap = 100

// DispatchFunc starts an execution for new feed items. The daemon wires it
// to the runner; tests substitute their own.
type DispatchFunc func(ctx context.Context, automation *store.Automation, input map[string]any)

// Poller runs the per-automation feed polls.
type Poller struct {
	store    *store.Store
	client   *Client
	dispatch DispatchFunc
	seenCap  int
	logger   *slog.Logger
}

// NewPoller creates a poller. seenCap <= 0 selects DefaultSeenCap.
func NewPoller(st *store.Store, client *Client, dispatch DispatchFunc, seenCap int, logger *slog.Logger) *Poller {
	if seenCap <= 0 {
		seenCap = DefaultSeenCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		store:    st,
		client:   client,
		dispatch: dispatch,
		seenCap:  seenCap,
		logger:   logger.With(slog.String("component", "rss")),
	}
}

// Poll runs one poll tick for an rss-triggered automation: fetch the feed,
// find items not yet seen, persist the updated seen-set, then dispatch one
// execution carrying the new items. The seen-set write happens before the
// dispatch so a slow execution cannot double-trigger on the next tick.
func (p *Poller) Poll(ctx context.Context, automation *store.Automation) error {
	trigger := automation.Trigger
	if trigger == nil || trigger.URL == "" {
		return &errors.ValidationError{
			Field:   "trigger.url",
			Message: "automation has no feed url to poll",
		}
	}

	state, err := p.store.GetRSSPollState(ctx, automation.ID)
	if err != nil {
		return err
	}

	feed, err := p.client.Fetch(ctx, trigger.URL)
	if err != nil {
		metrics.RecordRSSPoll("error")
		p.logger.Warn("feed fetch failed",
			slog.String("automation_id", automation.ID),
			slog.String("url", trigger.URL),
			"error", err)
		return err
	}

	// The first poll only seeds the seen-set; everything in the feed at
	// that moment predates the automation.
	firstPoll := state.LastPollAt == nil

	seen := make(map[string]bool, len(state.SeenIDs))
	for _, id := range state.SeenIDs {
		seen[id] = true
	}

	var newItems []Item
	for _, item := range feed.Items {
		if seen[item.ID()] {
			continue
		}
		if pub := item.Published; pub != nil && state.LastPollAt != nil && !pub.After(*state.LastPollAt) {
			continue
		}
		newItems = append(newItems, item)
	}

	now := time.Now()
	state.LastPollAt = &now
	state.FeedURL = trigger.URL
	state.SeenIDs = mergeSeen(feed.Items, state.SeenIDs, p.seenCap)
	if err := p.store.SaveRSSPollState(ctx, state); err != nil {
		return err
	}

	if firstPoll || len(newItems) == 0 {
		metrics.RecordRSSPoll("no_change")
		p.logger.Debug("poll found nothing new",
			slog.String("automation_id", automation.ID),
			slog.Bool("first_poll", firstPoll),
			slog.Int("feed_items", len(feed.Items)))
		return nil
	}

	metrics.RecordRSSPoll("new_items")
	p.logger.Info("new feed items",
		slog.String("automation_id", automation.ID),
		slog.Int("count", len(newItems)))

	items := make([]any, len(newItems))
	for i, item := range newItems {
		items[i] = item.Map()
	}
	input := map[string]any{
		"triggerType": "rss",
		"rssFeed": map[string]any{
			"title": feed.Title,
			"url":   feed.URL,
		},
		"rssNewItems": items,
	}

	p.dispatch(ctx, automation, input)
	return nil
}

// mergeSeen builds the next seen-set: the latest feed's identifiers in feed
// order, then prior identifiers not in the feed, truncated at limit.
func mergeSeen(items []Item, previous []string, limit int) []string {
	out := make([]string, 0, limit)
	included := make(map[string]bool, limit)

	for _, item := range items {
		id := item.ID()
		if id == "" || included[id] {
			continue
		}
		out = append(out, id)
		included[id] = true
		if len(out) >= limit {
			return out
		}
	}
	for _, id := range previous {
		if id == "" || included[id] {
			continue
		}
		out = append(out, id)
		included[id] = true
		if len(out) >= limit {
			break
		}
	}
	return out
}
