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

package triggers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	trigger, err := Parse([]byte(`{"type":"interval","every":"15m"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeInterval, trigger.Type)
	assert.Equal(t, "15m", trigger.Every)
	assert.True(t, trigger.Schedulable())
}

func TestSubMinuteCoercion(t *testing.T) {
	trigger, err := Parse([]byte(`{"type":"interval","every":"30s"}`))
	require.NoError(t, err)
	assert.Equal(t, "1m", trigger.Every)
}

func TestOverflowingSubUnitRejected(t *testing.T) {
	_, err := Parse([]byte(`{"type":"interval","every":"90m"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next unit up")

	_, err = Parse([]byte(`{"type":"interval","every":"60s"}`))
	assert.Error(t, err)

	// Hour and above have no 60 cap.
	_, err = Parse([]byte(`{"type":"interval","every":"72h"}`))
	assert.NoError(t, err)
}

func TestInvalidInterval(t *testing.T) {
	for _, every := range []string{"", "15", "m", "15x", "0m", "-5m"} {
		trigger := &Trigger{Type: TypeInterval, Every: every}
		assert.Error(t, trigger.Validate(), every)
	}
}

func TestDaily(t *testing.T) {
	trigger, err := Parse([]byte(`{"type":"daily","at":"09:30"}`))
	require.NoError(t, err)
	assert.True(t, trigger.Schedulable())

	for _, at := range []string{"24:00", "9:60", "nine", "", "09:5"} {
		bad := &Trigger{Type: TypeDaily, At: at}
		assert.Error(t, bad.Validate(), at)
	}
}

func TestWebhook(t *testing.T) {
	trigger, err := Parse([]byte(`{"type":"webhook","secret":"s3cret"}`))
	require.NoError(t, err)
	assert.False(t, trigger.Schedulable())
	assert.Equal(t, "s3cret", trigger.Secret)
}

func TestRSSDefaults(t *testing.T) {
	trigger, err := Parse([]byte(`{"type":"rss","url":"https://example.com/feed.xml"}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultRSSInterval, trigger.Interval)
	assert.False(t, trigger.Schedulable())
}

func TestRSSRequiresURL(t *testing.T) {
	_, err := Parse([]byte(`{"type":"rss"}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"type":"rss","url":"ftp://example.com/feed"}`))
	assert.Error(t, err)
}

func TestUnknownType(t *testing.T) {
	_, err := Parse([]byte(`{"type":"telepathy"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telepathy")
}

func TestBareStringShorthand(t *testing.T) {
	trigger, err := Parse([]byte(`"manual"`))
	require.NoError(t, err)
	assert.Equal(t, TypeManual, trigger.Type)
}

func TestToCron(t *testing.T) {
	tests := []struct {
		trigger Trigger
		want    string
	}{
		{Trigger{Type: TypeInterval, Every: "5m"}, "*/5 * * * *"},
		{Trigger{Type: TypeInterval, Every: "1m"}, "*/1 * * * *"},
		{Trigger{Type: TypeInterval, Every: "2h"}, "0 */2 * * *"},
		{Trigger{Type: TypeInterval, Every: "3d"}, "0 0 */3 * *"},
		{Trigger{Type: TypeInterval, Every: "1w"}, "0 0 * * 1"},
		{Trigger{Type: TypeDaily, At: "09:30"}, "30 9 * * *"},
		{Trigger{Type: TypeDaily, At: "00:00"}, "0 0 * * *"},
		{Trigger{Type: TypeRSS, URL: "https://x", Interval: "15m"}, "*/15 * * * *"},
	}

	for _, tt := range tests {
		got, err := tt.trigger.ToCron()
		require.NoError(t, err, tt.trigger.String())
		assert.Equal(t, tt.want, got, tt.trigger.String())
	}
}

func TestToCronUnschedulable(t *testing.T) {
	for _, typ := range []Type{TypeManual, TypeWebhook, TypeEvent} {
		trigger := &Trigger{Type: typ}
		_, err := trigger.ToCron()
		assert.Error(t, err, string(typ))
	}
}
