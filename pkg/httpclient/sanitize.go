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

package httpclient

import (
	"net/url"
	"strings"
)

// sensitiveParams are query parameter name fragments whose values are
// redacted before a URL reaches a log line. Matching is a
// case-insensitive substring check, so "api_key", "apiKey", and
// "x-access-token" are all caught.
var sensitiveParams = []string{
	"api_key",
	"apikey",
	"token",
	"password",
	"auth",
	"secret",
	"key",
	"credential",
}

// sanitizeURL returns u as a string with sensitive query parameter
// values replaced by a placeholder.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	query := u.Query()
	if len(query) == 0 {
		return u.String()
	}

	changed := false
	for name := range query {
		if sensitiveParam(name) {
			query.Set(name, "[REDACTED]")
			changed = true
		}
	}
	if !changed {
		return u.String()
	}

	clean := *u
	clean.RawQuery = query.Encode()
	return clean.String()
}

func sensitiveParam(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range sensitiveParams {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
