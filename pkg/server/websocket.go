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

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teradata-labs/brain/pkg/session"
	"github.com/teradata-labs/brain/pkg/stream"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageBytes = 1 << 20
	sendBuffer      = 256
)

var errConnClosed = errors.New("connection closed")

// conn is one client websocket. Only writePump writes data frames.
type conn struct {
	ws        *websocket.Conn
	sessionID string
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func newConn(ws *websocket.Conn, logger *zap.Logger) *conn {
	return &conn{
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		logger: logger,
	}
}

// Send implements stream.Sink.
func (c *conn) Send(ev stream.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Warn("Failed to encode event", zap.String("type", string(ev.Type)), zap.Error(err))
		return nil
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return errConnClosed
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Websocket write failed", zap.String("session_id", c.sessionID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// readPump routes client commands until the connection fails. Responses go
// through the emitter so they stay ordered with workflow events.
func (s *Server) readPump(c *conn, sess *session.Session) {
	c.ws.SetReadLimit(maxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info("Websocket read error", zap.String("session_id", sess.ID), zap.Error(err))
			}
			return
		}
		if ev := s.handle(sess, message); ev != nil {
			s.emitter.Emit(sess.ID, *ev)
		}
	}
}

// handle routes one message. A panic while routing becomes an error event
// and the connection stays open.
func (s *Server) handle(sess *session.Session, message []byte) (ev *stream.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while routing command",
				zap.String("session_id", sess.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			e := stream.Error(fmt.Errorf("internal error: %v", r))
			ev = &e
		}
	}()
	return s.router.Handle(sess.Context(), sess.ID, message)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	c := newConn(ws, s.logger)
	sess := s.sessions.Create(c.close)
	c.sessionID = sess.ID

	s.emitter.Register(sess.ID, stream.SinkFunc(func(ev stream.Event) error {
		if err := c.Send(ev); err != nil {
			return err
		}
		sess.Record(ev)
		return nil
	}))
	s.emitter.Emit(sess.ID, stream.Status(sess.ID, s.registry.ListProviders()))
	s.logger.Info("Client connected", zap.String("session_id", sess.ID), zap.String("remote", r.RemoteAddr))

	go c.writePump()
	s.readPump(c, sess)

	// Destroy fails when a sweep or shutdown got there first.
	_ = s.sessions.Destroy(sess.ID)
	s.logger.Info("Client disconnected", zap.String("session_id", sess.ID))
}
