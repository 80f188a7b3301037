package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"mockdash/internal/core"
	applog "mockdash/internal/log"
	"mockdash/internal/services"
)

const (
	socketWriteTimeout = 10 * time.Second
	socketPongWait     = 60 * time.Second
	socketPingPeriod   = 30 * time.Second
)

// handleAmountsSocket pushes the profile's amounts whenever they change, so
// a tab reflects increments made from another tab.
func (s *Server) handleAmountsSocket(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w, r)
	if !ok {
		return
	}
	logger := applog.FromContext(r.Context()).WithScope(scope.ProfileID, scope.SessionID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "Websocket upgrade failed", applog.FieldError, err)
		return
	}
	defer conn.Close()

	atomic.AddInt64(&s.metrics.socketClients, 1)
	defer atomic.AddInt64(&s.metrics.socketClients, -1)

	// The hijacked connection outlives the request context.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go s.readSocket(ctx, cancel, conn)

	logger.DebugContext(ctx, "Live amounts connected")
	s.pushAmounts(ctx, conn, scope, logger)
	logger.DebugContext(ctx, "Live amounts disconnected")
}

// readSocket drains client frames so control messages are processed and
// cancels ctx once the peer goes away.
func (s *Server) readSocket(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})
	for ctx.Err() == nil {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) pushAmounts(ctx context.Context, conn *websocket.Conn, scope core.Scope, logger *applog.Logger) {
	ticker := time.NewTicker(s.opts.AmountPushInterval)
	defer ticker.Stop()
	pinger := time.NewTicker(socketPingPeriod)
	defer pinger.Stop()

	var last *services.AmountsView
	send := func() bool {
		readCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		view, err := s.dashboard.Amounts(readCtx, scope)
		cancel()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to read amounts for push", applog.FieldOperation, applog.OpPush, applog.FieldError, err)
			return ctx.Err() == nil
		}
		if last != nil && *last == view {
			return true
		}
		payload, err := json.Marshal(view)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to encode amounts", applog.FieldError, err)
			return false
		}
		if err := writeSocket(conn, websocket.TextMessage, payload); err != nil {
			return false
		}
		last = &view
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			_ = writeSocket(conn, websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !send() {
				return
			}
		case <-pinger.C:
			if err := writeSocket(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeSocket(conn *websocket.Conn, messageType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	return conn.WriteMessage(messageType, data)
}
