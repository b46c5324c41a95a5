package observability

import (
	"bufio"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"edulms/internal/auth"
	"edulms/internal/importer"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type key struct {
	Method string
	Path   string
	Status int
}

type stat struct {
	Count     int64
	LatencyMS float64
}

type importStats interface {
	Stats() importer.Stats
}

type Collector struct {
	db      *sql.DB
	imports importStats
	logger  *slog.Logger

	mu           sync.RWMutex
	requestStats map[key]stat
	startedAt    time.Time
}

// NewCollector records request counters. db and imports are optional sources
// of extra gauges.
func NewCollector(db *sql.DB, imports importStats, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		db:           db,
		imports:      imports,
		logger:       logger,
		requestStats: make(map[key]stat),
		startedAt:    time.Now(),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes websocket upgrades through to the underlying writer.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		path := normalizedPath(r.URL.Path)

		c.mu.Lock()
		k := key{Method: r.Method, Path: path, Status: rec.status}
		s := c.requestStats[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.requestStats[k] = s
		c.mu.Unlock()

		userID := int64(0)
		if u, ok := auth.CurrentUser(r.Context()); ok {
			userID = u.ID
		}
		c.logger.Info("http request",
			"request_id", middleware.GetReqID(r.Context()),
			"user_id", userID,
			"job_id", extractJobID(r.URL.Path),
			"method", r.Method,
			"path", path,
			"status", rec.status,
			"latency_ms", latencyMS,
			"remote_ip", strings.TrimSpace(r.RemoteAddr),
		)
	})
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	statsCopy := make(map[key]stat, len(c.requestStats))
	for k, v := range c.requestStats {
		statsCopy[k] = v
	}
	startedAt := c.startedAt
	c.mu.RUnlock()

	keys := make([]key, 0, len(statsCopy))
	for k := range statsCopy {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Status < keys[j].Status
	})

	var sb strings.Builder
	sb.WriteString("# edulms observability metrics\n")
	sb.WriteString("# TYPE edulms_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("edulms_uptime_seconds %.0f\n", time.Since(startedAt).Seconds()))

	sb.WriteString("# TYPE edulms_http_requests_total counter\n")
	sb.WriteString("# TYPE edulms_http_request_latency_ms_sum counter\n")
	sb.WriteString("# TYPE edulms_http_request_latency_ms_avg gauge\n")
	for _, k := range keys {
		s := statsCopy[k]
		labels := fmt.Sprintf("method=\"%s\",path=\"%s\",status=\"%d\"", k.Method, k.Path, k.Status)
		sb.WriteString(fmt.Sprintf("edulms_http_requests_total{%s} %d\n", labels, s.Count))
		sb.WriteString(fmt.Sprintf("edulms_http_request_latency_ms_sum{%s} %.3f\n", labels, s.LatencyMS))
		avg := 0.0
		if s.Count > 0 {
			avg = s.LatencyMS / float64(s.Count)
		}
		sb.WriteString(fmt.Sprintf("edulms_http_request_latency_ms_avg{%s} %.3f\n", labels, avg))
	}

	if c.imports != nil {
		st := c.imports.Stats()
		statuses := make([]string, 0, len(st.Jobs))
		for s := range st.Jobs {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		sb.WriteString("# TYPE edulms_import_jobs gauge\n")
		for _, s := range statuses {
			sb.WriteString(fmt.Sprintf("edulms_import_jobs{status=\"%s\"} %d\n", s, st.Jobs[s]))
		}
		sb.WriteString("# TYPE edulms_import_active gauge\n")
		sb.WriteString(fmt.Sprintf("edulms_import_active %d\n", st.ActiveImports))
		sb.WriteString("# TYPE edulms_import_slots gauge\n")
		sb.WriteString(fmt.Sprintf("edulms_import_slots %d\n", st.ImportSlots))
	}

	if c.db != nil {
		dbs := c.db.Stats()
		sb.WriteString("# TYPE edulms_db_open_connections gauge\n")
		sb.WriteString(fmt.Sprintf("edulms_db_open_connections %d\n", dbs.OpenConnections))
		sb.WriteString("# TYPE edulms_db_in_use_connections gauge\n")
		sb.WriteString(fmt.Sprintf("edulms_db_in_use_connections %d\n", dbs.InUse))
		sb.WriteString("# TYPE edulms_db_idle_connections gauge\n")
		sb.WriteString(fmt.Sprintf("edulms_db_idle_connections %d\n", dbs.Idle))
		sb.WriteString("# TYPE edulms_db_wait_count counter\n")
		sb.WriteString(fmt.Sprintf("edulms_db_wait_count %d\n", dbs.WaitCount))
		sb.WriteString("# TYPE edulms_db_wait_duration_ms counter\n")
		sb.WriteString(fmt.Sprintf("edulms_db_wait_duration_ms %.3f\n", float64(dbs.WaitDuration.Microseconds())/1000.0))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// normalizedPath replaces numeric and uuid segments so job ids do not
// explode the label set.
func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
			continue
		}
		if _, err := uuid.Parse(p); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func extractJobID(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "imports" {
			if _, err := uuid.Parse(parts[i+1]); err == nil {
				return parts[i+1]
			}
		}
	}
	return ""
}
