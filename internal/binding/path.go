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

package binding

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a reference path: either a map key or a slice
// index.
type segment struct {
	key     string
	index   int
	isIndex bool
}

// parsePath splits a reference path like "step_1.items[0].title" into
// segments. Index suffixes attach to the preceding key, so "items[0]"
// yields a key segment followed by an index segment.
func parsePath(path string) ([]segment, error) {
	var segments []segment

	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("empty path segment in %q", path)
		}

		key := part
		var indexes []int
		for {
			open := strings.IndexByte(key, '[')
			if open < 0 {
				break
			}
			close := strings.IndexByte(key[open:], ']')
			if close < 0 {
				return nil, fmt.Errorf("unterminated index in %q", part)
			}
			idx, err := strconv.Atoi(key[open+1 : open+close])
			if err != nil {
				return nil, fmt.Errorf("invalid index in %q", part)
			}
			indexes = append(indexes, idx)
			key = key[:open] + key[open+close+1:]
		}

		if key != "" {
			segments = append(segments, segment{key: key})
		} else if len(indexes) == 0 {
			return nil, fmt.Errorf("empty path segment in %q", path)
		}
		for _, idx := range indexes {
			segments = append(segments, segment{index: idx, isIndex: true})
		}
	}

	return segments, nil
}
