// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stream

import (
	"encoding/json"
	"net/http"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
)

// SSEMirror republishes session events on a server-sent-events endpoint.
// Viewers subscribe with ?stream=<session_id>.
type SSEMirror struct {
	server *sse.Server
	logger *zap.Logger
}

// NewSSEMirror creates a mirror. Streams are created on first publish or
// first subscription.
func NewSSEMirror(logger *zap.Logger) *SSEMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := sse.New()
	server.AutoStream = true
	server.AutoReplay = false
	return &SSEMirror{server: server, logger: logger}
}

// Publish implements Mirror.
func (m *SSEMirror) Publish(sessionID string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		m.logger.Warn("Failed to encode mirrored event", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if !m.server.StreamExists(sessionID) {
		m.server.CreateStream(sessionID)
	}
	m.server.Publish(sessionID, &sse.Event{
		Event: []byte(ev.Type),
		Data:  data,
	})
}

// Remove drops the stream of a finished session.
func (m *SSEMirror) Remove(sessionID string) {
	m.server.RemoveStream(sessionID)
}

// ServeHTTP serves the SSE endpoint.
func (m *SSEMirror) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.server.ServeHTTP(w, r)
}

// Close disconnects every viewer.
func (m *SSEMirror) Close() {
	m.server.Close()
}
