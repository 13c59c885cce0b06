// Package ws is the HTTP/WebSocket transport edge: it upgrades
// /board/{board_id}?session_id={uuid} requests and hands the resulting
// connection off to a collab.BoardHandler. Grounded on the teacher's
// internal/ws/server.go (upgrader construction, origin check, ListenAndServe
// shape) and original_source/service/src/main.rs's board_handler route.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lukewestby/redboard/internal/collab"
	"github.com/lukewestby/redboard/internal/concurrency"
	"github.com/lukewestby/redboard/internal/logging"
	"github.com/lukewestby/redboard/internal/repository"
	"github.com/lukewestby/redboard/internal/socketio"
)

// Server upgrades board connections and dispatches each to its own
// BoardHandler goroutine.
type Server struct {
	ctx            context.Context
	repo           *repository.Repository
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

// NewServer builds a Server over repo. Every upgraded connection's
// BoardHandler runs under ctx rather than its originating request's
// context, so handlers keep running for their natural lifetime (until the
// client disconnects or ctx is cancelled at process shutdown) regardless of
// how net/http treats a hijacked request's context. allowedOrigins, when
// non-empty, restricts which Origin header values may upgrade; empty falls
// back to same-host and localhost, matching the teacher's checkOrigin
// default.
func NewServer(ctx context.Context, repo *repository.Repository, allowedOrigins []string) *Server {
	s := &Server{
		ctx:            ctx,
		repo:           repo,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

// SetupRoutes registers the board upgrade endpoint on mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/board/", s.handleBoard)
	mux.HandleFunc("/", s.handleIndex)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, "<html><body>redboard</body></html>")
}

// handleBoard upgrades /board/{board_id}?session_id={uuid} and runs a
// collab.BoardHandler for the connection's lifetime.
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	boardID, err := uuid.Parse(strings.TrimPrefix(r.URL.Path, "/board/"))
	if err != nil {
		http.Error(w, "invalid board id", http.StatusBadRequest)
		return
	}
	sessionID, err := uuid.Parse(r.URL.Query().Get("session_id"))
	if err != nil {
		http.Error(w, "invalid session_id", http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sender := socketio.NewSender(conn)
	stream := socketio.NewStream(conn)
	handler := collab.New(boardID, sessionID, s.repo, sender, stream)

	concurrency.GoSafe(func() {
		handler.Start(s.ctx)
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}
	return false
}

// ListenAndServe starts the HTTP server on addr, shutting down cleanly when
// ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, mux *http.ServeMux) error {
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	concurrency.GoSafe(func() {
		logging.Log.WithField("addr", addr).Info("server listening")
		errCh <- srv.ListenAndServe()
	})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
