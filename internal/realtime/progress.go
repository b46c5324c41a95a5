// Package realtime streams import progress to browsers over websocket.
package realtime

import (
	"log/slog"
	"net/http"
	"time"

	"edulms/internal/auth"
	"edulms/internal/importer"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	eventBuffer  = 64
)

type progressSource interface {
	Subscribe(buffer int) *importer.Subscription
}

// ProgressHandler upgrades authenticated requests and forwards every progress
// event the user may see. ?job=<id> narrows the stream to one job.
type ProgressHandler struct {
	source   progressSource
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewProgressHandler(source progressSource, allowedOrigin string, logger *slog.Logger) *ProgressHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressHandler{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin || origin == "http://"+r.Host || origin == "https://"+r.Host
			},
		},
		logger: logger,
	}
}

func (h *ProgressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	jobID := r.URL.Query().Get("job")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.source.Subscribe(eventBuffer)
	defer sub.Close()

	// The client sends nothing; reading only surfaces the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if !user.IsPrivileged() && ev.OwnerID != user.ID {
				continue
			}
			if jobID != "" && ev.JobID != jobID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", "user_id", user.ID, "error", err)
				return
			}
		}
	}
}
