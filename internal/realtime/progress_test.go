package realtime

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"edulms/internal/auth"
	"edulms/internal/importer"

	"github.com/gorilla/websocket"
)

func withUser(u *auth.User, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), u)))
	})
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, pub *importer.Publisher, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for pub.Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, pub.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProgressHandlerFiltersByOwner(t *testing.T) {
	pub := importer.NewPublisher()
	h := NewProgressHandler(pub, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(withUser(&auth.User{ID: 7, Role: "guru"}, h))
	defer srv.Close()

	conn := dial(t, srv, "")
	waitSubscribers(t, pub, 1)

	pub.Publish(importer.ProgressEvent{JobID: "other", OwnerID: 8, Status: importer.StatusProcessing})
	pub.Publish(importer.ProgressEvent{JobID: "mine", OwnerID: 7, Status: importer.StatusCompleted, Progress: 100, ProcessedRows: 3, TotalRows: 3})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]any
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["jobId"] != "mine" || got["status"] != "completed" || got["progress"] != float64(100) {
		t.Fatalf("unexpected event %v", got)
	}
	if _, leaked := got["OwnerID"]; leaked {
		t.Fatalf("owner id must not be sent")
	}
}

func TestProgressHandlerJobFilterForAdmin(t *testing.T) {
	pub := importer.NewPublisher()
	h := NewProgressHandler(pub, "", nil)
	srv := httptest.NewServer(withUser(&auth.User{ID: 1, Role: "admin"}, h))
	defer srv.Close()

	conn := dial(t, srv, "?job=b")
	waitSubscribers(t, pub, 1)

	pub.Publish(importer.ProgressEvent{JobID: "a", OwnerID: 3, Status: importer.StatusProcessing})
	pub.Publish(importer.ProgressEvent{JobID: "b", OwnerID: 4, Status: importer.StatusFailed})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got importer.ProgressEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.JobID != "b" || got.Status != importer.StatusFailed {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestProgressHandlerUnsubscribesOnClose(t *testing.T) {
	pub := importer.NewPublisher()
	h := NewProgressHandler(pub, "", nil)
	srv := httptest.NewServer(withUser(&auth.User{ID: 1, Role: "guru"}, h))
	defer srv.Close()

	conn := dial(t, srv, "")
	waitSubscribers(t, pub, 1)
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for pub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription leaked after client close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProgressHandlerRequiresUser(t *testing.T) {
	h := NewProgressHandler(importer.NewPublisher(), "", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
