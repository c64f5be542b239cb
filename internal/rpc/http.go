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
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
)

// requestTimeout bounds a single RPC exchange; a tools/call that retries
// through backoff still has to finish inside it.
const requestTimeout = 25 * time.Second

// Handler returns the HTTP handler for the discovery endpoint. The server
// is stateless: no session ids, every POST is a complete exchange. GET and
// DELETE belong to the session-oriented flavor of the transport and are
// rejected with 405.
func (s *Server) Handler() http.Handler {
	streamable := server.NewStreamableHTTPServer(s.mcp,
		server.WithStateLess(true),
	)
	return s.middleware(streamable)
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return middlewareWithTimeout(next, requestTimeout)
}

func middlewareWithTimeout(next http.Handler, timeout time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeRPCError(w, http.StatusMethodNotAllowed, -32000,
				fmt.Sprintf("method %s not allowed; POST JSON-RPC requests", r.Method))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		buf := &bufferedResponse{header: make(http.Header)}
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				// A handler panic must not take the daemon down; surface
				// it as a server error on this exchange only.
				if rec := recover(); rec != nil {
					buf.reset()
					buf.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(buf, r.WithContext(ctx))
		}()

		select {
		case <-done:
			buf.flush(w)
		case <-ctx.Done():
			writeRPCError(w, http.StatusOK, -32000,
				fmt.Sprintf("Request timeout after %s", timeout))
		}
	})
}

// writeRPCError emits a JSON-RPC error object outside the MCP layer.
func writeRPCError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":null,"error":{"code":%d,"message":%q}}`, code, message)
}

// bufferedResponse captures a response so a timed-out exchange never
// interleaves a late handler write with the timeout error.
type bufferedResponse struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) reset() {
	b.header = make(http.Header)
	b.body.Reset()
	b.status = 0
}

func (b *bufferedResponse) flush(w http.ResponseWriter) {
	for k, vs := range b.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if b.status == 0 {
		b.status = http.StatusOK
	}
	w.WriteHeader(b.status)
	w.Write(b.body.Bytes())
}
