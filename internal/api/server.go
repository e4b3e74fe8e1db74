package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/agv-data/vision/internal/audit"
	"github.com/agv-data/vision/internal/db"
	"github.com/agv-data/vision/internal/detect"
	"github.com/agv-data/vision/internal/framestore"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes the detection pipeline over HTTP. store may be nil when no
// database is configured; the detection endpoints keep working and the audit
// query endpoints report the store as unavailable.
type Server struct {
	svc    *detect.Service
	sink   *audit.Sink
	frames *framestore.Store
	store  *db.DB
	hub    *Hub

	defaultThreshold float64
}

func NewServer(svc *detect.Service, sink *audit.Sink, frames *framestore.Store, store *db.DB, hub *Hub, defaultThreshold float64) *Server {
	if defaultThreshold <= 0 || defaultThreshold > 1 {
		defaultThreshold = 0.5
	}
	return &Server{
		svc:              svc,
		sink:             sink,
		frames:           frames,
		store:            store,
		hub:              hub,
		defaultThreshold: defaultThreshold,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.health)
	mux.HandleFunc("/detect", s.detectUpload)
	mux.HandleFunc("/detect/latest", s.detectLatest)
	mux.HandleFunc("/api/detections", s.listDetections)
	mux.HandleFunc("/api/logs", s.listEvents)
	mux.HandleFunc("/api/detection_stats", s.showDetectionStats)
	mux.HandleFunc("/report", s.showReport)
	mux.HandleFunc("/debug/activity.png", s.activityPlot)
	if s.hub != nil {
		mux.HandleFunc("/ws/frames", s.serveFrames)
	}
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseThreshold reads the optional threshold query parameter. Range
// checking happens in the detection service; only syntax is validated here.
func (s *Server) parseThreshold(r *http.Request) (float64, bool) {
	raw := r.URL.Query().Get("threshold")
	if raw == "" {
		return s.defaultThreshold, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
