package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/agv-data/vision/internal/db"
	"github.com/agv-data/vision/internal/detect"
)

const maxUploadBytes = 32 << 20

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"status":       "ok",
		"model":        s.svc.ModelName(),
		"db_connected": s.sink.Connected(),
	})
}

func (s *Server) detectUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	threshold, ok := s.parseThreshold(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "threshold must be a number")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	res, err := s.svc.DetectFromBytes(data, threshold)
	if err != nil {
		switch {
		case errors.Is(err, detect.ErrBadThreshold):
			s.writeJSONError(w, http.StatusBadRequest, "threshold must be in [0, 1]")
		case errors.Is(err, detect.ErrDecode):
			s.writeJSONError(w, http.StatusBadRequest, "could not decode image")
		default:
			s.writeJSONError(w, http.StatusInternalServerError, "inference failed")
		}
		return
	}

	source := header.Filename
	if source == "" {
		source = "upload-" + uuid.New().String()
	}
	s.submitDetections(res, source)
	s.writeJSON(w, res)
}

func (s *Server) detectLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	threshold, ok := s.parseThreshold(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "threshold must be a number")
		return
	}

	res, err := s.svc.DetectFromStore(threshold)
	if err != nil {
		switch {
		case errors.Is(err, detect.ErrBadThreshold):
			s.writeJSONError(w, http.StatusBadRequest, "threshold must be in [0, 1]")
		case errors.Is(err, detect.ErrNoFrame):
			s.writeJSONError(w, http.StatusNotFound, "no frame captured yet")
		case errors.Is(err, detect.ErrDecode):
			s.writeJSONError(w, http.StatusInternalServerError, "stored frame could not be decoded")
		default:
			s.writeJSONError(w, http.StatusInternalServerError, "inference failed")
		}
		return
	}

	s.submitDetections(res, s.frames.Path())
	s.writeJSON(w, res)
}

// submitDetections hands a detection result to the audit sink. Persistence
// is fire and forget; the response to the caller never waits on it.
func (s *Server) submitDetections(res *detect.Result, source string) {
	if s.sink == nil {
		return
	}
	for _, rec := range res.Detections {
		s.sink.RecordDetection(db.Detection{
			ImagePath:        source,
			ProcessingTimeMS: res.ProcessingTimeMS,
			ObjectClass:      rec.ObjectClass,
			Confidence:       rec.Confidence,
			BboxX1:           rec.Bbox.X1,
			BboxY1:           rec.Bbox.Y1,
			BboxX2:           rec.Bbox.X2,
			BboxY2:           rec.Bbox.Y2,
			TriggeredStop:    rec.TriggeredStop,
		})
	}
	if res.TotalObjects > 0 {
		log.Printf("detected %d objects in %dms (%s)", res.TotalObjects, res.ProcessingTimeMS, source)
	}
}

func limitParam(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (s *Server) listDetections(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}
	rows, err := s.store.RecentDetections(limitParam(r, 100, 1000))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, rows)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}
	rows, err := s.store.RecentEvents(limitParam(r, 100, 1000), r.URL.Query().Get("level"))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, rows)
}

func daysParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) showDetectionStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}
	days := daysParam(r, 7)
	rollups, err := s.store.DetectionRollup(days)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"days":    days,
		"classes": rollups,
	})
}
